// Package serialize builds the XML-like text form of an object graph.
//
// A Serializer owns a growable, zero-terminated character buffer and a tag
// table. The first time an object is seen it is assigned the next decimal
// tag, written as the ID attribute of its start element; every later
// occurrence is written as <reference IDREF="tag"/>. Tagging makes shared
// and cyclic graphs serialize finitely.
package serialize

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/Sumatoshi-tech/objrt/pkg/refcount"
	"github.com/Sumatoshi-tech/objrt/pkg/typeid"
)

const (
	// DefaultCapacity is the initial buffer capacity in bytes.
	DefaultCapacity = 100

	// defaultIncrement replaces a zero increment passed to SetIncrement.
	defaultIncrement = 256
)

// Sentinel errors.
var (
	ErrCapacityExceeded = errors.New("serialize: capacity limit exceeded")
	ErrInvalidCapacity  = errors.New("serialize: capacity must be positive")
	ErrNotComparable    = errors.New("serialize: object cannot be tagged")
	ErrUntagged         = errors.New("serialize: start tag for untagged object")
	ErrAllocation       = errors.New("serialize: buffer allocation failed")
)

// Serializable is implemented by objects that know their own text form.
type Serializable interface {
	Serialize(s *Serializer) error
}

// Allocator provides zeroed buffers. The default allocator uses make.
type Allocator interface {
	Allocate(size int) ([]byte, error)
}

type heapAllocator struct{}

func (heapAllocator) Allocate(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Option configures a Serializer.
type Option func(*Serializer)

// WithCapacity sets the initial capacity. It is also the growth increment
// unless WithIncrement is given.
func WithCapacity(n int) Option {
	return func(s *Serializer) {
		s.capacity = n
	}
}

// WithIncrement sets the growth increment. Zero selects the default.
func WithIncrement(n int) Option {
	return func(s *Serializer) {
		s.increment = n
	}
}

// WithMaxCapacity caps buffer growth. Zero means unbounded.
func WithMaxCapacity(n int) Option {
	return func(s *Serializer) {
		s.maxCapacity = n
	}
}

// WithAllocator replaces the buffer allocator.
func WithAllocator(a Allocator) Option {
	return func(s *Serializer) {
		if a != nil {
			s.alloc = a
		}
	}
}

// Serializer accumulates serialized text. It is not safe for concurrent use.
type Serializer struct {
	data        []byte
	length      int
	capacity    int
	increment   int
	maxCapacity int
	alloc       Allocator

	tags     map[any]string
	nextTag  uint64
	retained []refcount.Retainer
}

// New allocates a serializer. Length starts at 1: the terminator slot.
func New(opts ...Option) (*Serializer, error) {
	s := &Serializer{
		capacity: DefaultCapacity,
		alloc:    heapAllocator{},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, s.capacity)
	}

	if s.increment <= 0 {
		s.increment = s.capacity
	}

	if s.maxCapacity > 0 && s.capacity > s.maxCapacity {
		return nil, fmt.Errorf("%w: initial %d > max %d", ErrCapacityExceeded, s.capacity, s.maxCapacity)
	}

	buf, err := s.alloc.Allocate(s.capacity)
	if err != nil {
		return nil, errors.Join(ErrAllocation, err)
	}

	s.data = buf
	s.length = 1
	s.tags = make(map[any]string)

	return s, nil
}

// Len returns the used length including the terminator slot.
func (s *Serializer) Len() int {
	return s.length
}

// Cap returns the buffer capacity.
func (s *Serializer) Cap() int {
	return s.capacity
}

// Increment returns the growth increment.
func (s *Serializer) Increment() int {
	return s.increment
}

// SetIncrement sets the growth increment and returns the value stored.
// Zero selects the default of 256.
func (s *Serializer) SetIncrement(n int) int {
	if n <= 0 {
		n = defaultIncrement
	}

	s.increment = n

	return n
}

// Text returns the content accumulated so far, without the terminator.
func (s *Serializer) Text() string {
	return string(s.data[:s.length-1])
}

// Bytes returns the accumulated content including the zero terminator. The
// slice aliases the buffer and is valid until the next write.
func (s *Serializer) Bytes() []byte {
	return s.data[:s.length]
}

// EnsureCapacity grows the buffer to at least n bytes, rounded up to a
// multiple of the increment, and returns the resulting capacity. On failure
// the buffer is unchanged and the current capacity is returned with the error.
func (s *Serializer) EnsureCapacity(n int) (int, error) {
	if n <= s.capacity {
		return s.capacity, nil
	}

	n = ((n-1)/s.increment + 1) * s.increment

	if s.maxCapacity > 0 && n > s.maxCapacity {
		return s.capacity, fmt.Errorf("%w: need %d, max %d", ErrCapacityExceeded, n, s.maxCapacity)
	}

	buf, err := s.alloc.Allocate(n)
	if err != nil {
		return s.capacity, errors.Join(ErrAllocation, err)
	}

	copy(buf, s.data[:s.capacity])
	clear(buf[s.capacity:])

	s.data = buf
	s.capacity = n

	return n, nil
}

// AddChar appends one byte, growing by one increment when full.
func (s *Serializer) AddChar(c byte) error {
	if s.length >= s.capacity {
		_, err := s.EnsureCapacity(s.capacity + s.increment)
		if err != nil {
			return err
		}
	}

	s.data[s.length-1] = c
	s.length++

	return nil
}

// AddString appends str byte by byte. Bytes written before a failure stay.
func (s *Serializer) AddString(str string) error {
	for idx := range len(str) {
		err := s.AddChar(str[idx])
		if err != nil {
			return err
		}
	}

	return nil
}

// AddEscaped appends str replacing <, > and & with entity references.
func (s *Serializer) AddEscaped(str string) error {
	for idx := range len(str) {
		var err error

		switch c := str[idx]; c {
		case '<':
			err = s.AddString("&lt;")
		case '>':
			err = s.AddString("&gt;")
		case '&':
			err = s.AddString("&amp;")
		default:
			err = s.AddChar(c)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// PreviouslySerialized reports whether obj already has a tag. If it does, a
// reference element is written. Otherwise obj is assigned the next tag and,
// when it is reference counted, retained with the collection tag until the
// serializer is cleared or closed.
func (s *Serializer) PreviouslySerialized(obj any) (bool, error) {
	if obj == nil || !reflect.ValueOf(obj).Comparable() {
		return false, fmt.Errorf("%w: %T", ErrNotComparable, obj)
	}

	if tag, ok := s.tags[obj]; ok {
		return true, s.addReference(tag)
	}

	s.tags[obj] = strconv.FormatUint(s.nextTag, 10)
	s.nextTag++

	if r, ok := obj.(refcount.Retainer); ok {
		r.RetainTagged(typeid.Collection)
		s.retained = append(s.retained, r)
	}

	return false, nil
}

func (s *Serializer) addReference(tag string) error {
	err := s.AddString(`<reference IDREF="`)
	if err != nil {
		return err
	}

	err = s.AddString(tag)
	if err != nil {
		return err
	}

	return s.AddString(`"/>`)
}

// AddXMLStartTag writes <name ID="tag"> for an object previously passed to
// PreviouslySerialized.
func (s *Serializer) AddXMLStartTag(obj any, name string) error {
	tag, ok := s.lookupTag(obj)
	if !ok {
		return fmt.Errorf("%w: <%s> for %T", ErrUntagged, name, obj)
	}

	for _, part := range []string{"<", name, ` ID="`, tag, `">`} {
		err := s.AddString(part)
		if err != nil {
			return err
		}
	}

	return nil
}

// AddXMLEndTag writes </name>.
func (s *Serializer) AddXMLEndTag(name string) error {
	err := s.AddString("</")
	if err != nil {
		return err
	}

	err = s.AddString(name)
	if err != nil {
		return err
	}

	return s.AddChar('>')
}

func (s *Serializer) lookupTag(obj any) (string, bool) {
	if obj == nil || !reflect.ValueOf(obj).Comparable() {
		return "", false
	}

	tag, ok := s.tags[obj]

	return tag, ok
}

// Emit serializes obj. Objects that do not implement Serializable are written
// as a <string> element naming their kind.
func (s *Serializer) Emit(obj any) error {
	if sz, ok := obj.(Serializable); ok {
		return sz.Serialize(s)
	}

	seen, err := s.PreviouslySerialized(obj)
	if err != nil || seen {
		return err
	}

	err = s.AddXMLStartTag(obj, "string")
	if err != nil {
		return err
	}

	err = s.AddEscaped(kindName(obj) + " is not serializable")
	if err != nil {
		return err
	}

	return s.AddXMLEndTag("string")
}

func kindName(obj any) string {
	if k, ok := obj.(interface{ Kind() *typeid.ID }); ok {
		return k.Kind().Name()
	}

	return fmt.Sprintf("%T", obj)
}

// Clear empties the buffer and the tag table so the serializer can be reused.
// Capacity and increment are kept.
func (s *Serializer) Clear() {
	clear(s.data)
	s.length = 1
	s.nextTag = 0
	s.releaseTagged()
	s.tags = make(map[any]string)
}

// Close releases every object retained by the tag table.
func (s *Serializer) Close() {
	s.releaseTagged()
	s.tags = make(map[any]string)
}

func (s *Serializer) releaseTagged() {
	retained := s.retained
	s.retained = nil

	for _, r := range retained {
		r.ReleaseTagged(typeid.Collection)
	}
}
