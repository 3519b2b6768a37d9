package symbol

import (
	"sync/atomic"
	"unsafe"

	"github.com/Sumatoshi-tech/objrt/pkg/refcount"
	"github.com/Sumatoshi-tech/objrt/pkg/serialize"
	"github.com/Sumatoshi-tech/objrt/pkg/typeid"
)

// Kind identifies interned symbols in diagnostics and serializer fallbacks.
var Kind = typeid.New("OSSymbol")

// Ownership records who owns the bytes behind a symbol.
type Ownership uint8

const (
	// Owned content was copied into storage the symbol controls.
	Owned Ownership = iota
	// Borrowed content aliases caller memory until relocated.
	Borrowed
)

func (o Ownership) String() string {
	if o == Borrowed {
		return "borrowed"
	}

	return "owned"
}

// content is replaced wholesale, never mutated, so readers can load it
// without the pool gate.
type content struct {
	text      string
	ownership Ownership
}

var emptyContent = &content{}

// Symbol is an immutable, interned string. At most one live Symbol exists per
// distinct content in a Pool, so pointer equality is content equality.
//
// Release, ReleaseTagged and ReleaseWhen must be called on the *Symbol, not on
// the embedded Object, so that the final release removes the entry from the
// pool under its gate.
type Symbol struct {
	refcount.Object

	pool *Pool
	body atomic.Pointer[content]
	hash uint32
}

func (s *Symbol) text() string {
	return s.body.Load().text
}

func (s *Symbol) matches(text string) bool {
	current := s.text()

	return len(current) == len(text) && current == text
}

// String returns the content. For borrowed symbols the result aliases the
// borrowed memory.
func (s *Symbol) String() string {
	return s.text()
}

// Bytes returns a copy of the content.
func (s *Symbol) Bytes() []byte {
	return []byte(s.text())
}

// Len returns the content length in bytes.
func (s *Symbol) Len() int {
	return len(s.text())
}

// At returns the byte at idx, or 0 when idx is out of range.
func (s *Symbol) At(idx int) byte {
	text := s.text()
	if idx < 0 || idx >= len(text) {
		return 0
	}

	return text[idx]
}

// Ownership reports whether the content is owned or borrowed.
func (s *Symbol) Ownership() Ownership {
	return s.body.Load().ownership
}

// IsBorrowed is shorthand for Ownership() == Borrowed.
func (s *Symbol) IsBorrowed() bool {
	return s.Ownership() == Borrowed
}

// Equal is identity comparison. Two symbols from the same pool are equal
// exactly when their contents are.
func (s *Symbol) Equal(other *Symbol) bool {
	return s == other
}

// EqualString compares content with an arbitrary string.
func (s *Symbol) EqualString(text string) bool {
	return s.matches(text)
}

// Release drops one untagged reference.
func (s *Symbol) Release() {
	s.ReleaseWhen(nil, refcount.DefaultThreshold)
}

// ReleaseTagged drops one reference carrying tag.
func (s *Symbol) ReleaseTagged(tag any) {
	s.ReleaseWhen(tag, refcount.DefaultThreshold)
}

// ReleaseWhen drops one reference and frees the symbol when fewer than when
// remain. The decrement and the removal from the pool happen under the pool
// gate, so a concurrent Intern either finds the entry with a live count or
// does not find it at all.
func (s *Symbol) ReleaseWhen(tag any, when int) {
	s.pool.gate.Lock()
	defer s.pool.gate.Unlock()

	s.Object.ReleaseWhen(tag, when)
}

// Serialize writes the symbol as a <string> element, or as a back-reference
// if the serializer has already seen it.
func (s *Symbol) Serialize(sr *serialize.Serializer) error {
	seen, err := sr.PreviouslySerialized(s)
	if err != nil || seen {
		return err
	}

	startErr := sr.AddXMLStartTag(s, "string")
	if startErr != nil {
		return startErr
	}

	escErr := sr.AddEscaped(s.text())
	if escErr != nil {
		return escErr
	}

	return sr.AddXMLEndTag("string")
}

// address returns where the content bytes live, or 0 for empty content.
func (c *content) address() uintptr {
	if c.text == "" {
		return 0
	}

	return uintptr(unsafe.Pointer(unsafe.StringData(c.text)))
}

// free runs from the refcount free hook with the pool gate held.
func (s *Symbol) free() {
	s.pool.removeLocked(s)
	s.body.Store(emptyContent)
}
