// Package refcount provides the reference-counted object base shared by every
// object in the runtime.
//
// The retain count is a single 32-bit word split into two 16-bit fields:
//
//	[16-bit tagged]:[16-bit total]
//
// total counts every retain. tagged counts the retains attributed to
// collection membership (calls tagged with typeid.Collection) and must never
// exceed total. Two values of total are reserved: countPegged marks a
// saturated counter that is never decremented or freed again, and
// countFreeing marks an object whose free hook is running. All updates are
// compare-and-swap loops on the whole word.
package refcount

import (
	"sync/atomic"

	"github.com/Sumatoshi-tech/objrt/pkg/fatal"
	"github.com/Sumatoshi-tech/objrt/pkg/typeid"
)

const (
	totalMask   = 0xFFFF
	taggedShift = 16

	// countPegged is the saturated total. Reached by retaining up to it; the
	// object leaks rather than risk wrapping to zero while still referenced.
	countPegged = 0xFFFE

	// countFreeing is stored by the release that drops total below its threshold.
	countFreeing = 0xFFFF

	// DefaultThreshold frees the object when total reaches zero.
	DefaultThreshold = 1
)

// Retainer is implemented by every reference-counted object.
type Retainer interface {
	RetainTagged(tag any)
	ReleaseTagged(tag any)
}

// Tracer observes successful retain and release transitions. total is the
// post-transition total; a release below the threshold reports the computed
// total even though the stored word holds the freeing sentinel.
type Tracer interface {
	Retained(obj *Object, tag any, total int)
	Released(obj *Object, tag any, total int)
}

// Object is the reference-counted base. Embed it and call Init before the
// object is shared. The zero value behaves as an object with no owners.
type Object struct {
	count  atomic.Uint32
	kind   *typeid.ID
	free   func()
	tracer Tracer
}

// Init sets the count to one owner (the creator), records the kind used in
// diagnostics and installs the free hook run when the last owner releases.
func (o *Object) Init(kind *typeid.ID, free func()) {
	o.kind = kind
	o.free = free
	o.count.Store(1)
}

// SetTracer attaches t. It must be called before the object is shared.
func (o *Object) SetTracer(t Tracer) {
	o.tracer = t
}

// Kind returns the kind given to Init.
func (o *Object) Kind() *typeid.ID {
	return o.kind
}

// RetainCount returns the total field of the count. Diagnostic only; the value
// may be one of the sentinels.
func (o *Object) RetainCount() int {
	return int(o.count.Load() & totalMask)
}

// TaggedCount returns the number of retains attributed to collections.
func (o *Object) TaggedCount() int {
	return int(o.count.Load() >> taggedShift)
}

// IsPegged reports whether the count has saturated.
func (o *Object) IsPegged() bool {
	return isPegged(o.count.Load())
}

// IsFreeing reports whether the free hook has been claimed.
func (o *Object) IsFreeing() bool {
	return isFreeing(o.count.Load())
}

// Retain adds an untagged owner.
func (o *Object) Retain() {
	o.retain(nil)
}

// RetainTagged adds an owner identified by tag. Only typeid.Collection has an
// accounting effect; other tags are opaque markers passed to the Tracer.
func (o *Object) RetainTagged(tag any) {
	o.retain(tag)
}

// Release drops an untagged owner, freeing the object when none remain.
func (o *Object) Release() {
	o.release(nil, DefaultThreshold)
}

// ReleaseTagged drops an owner identified by tag.
func (o *Object) ReleaseTagged(tag any) {
	o.release(tag, DefaultThreshold)
}

// ReleaseWhen drops an owner identified by tag and frees the object once the
// remaining total falls below when.
func (o *Object) ReleaseWhen(tag any, when int) {
	o.release(tag, when)
}

func (o *Object) retain(tag any) {
	inc := uint32(1)
	if isCollectionTag(tag) {
		inc |= 1 << taggedShift
	}

	for {
		orig := o.count.Load()

		if isFreeing(orig) {
			fatal.Abort("refcount: attempting to retain a freed %s", o.kind.Name())
		}

		if isPegged(orig) {
			return
		}

		next := orig + inc
		if o.count.CompareAndSwap(orig, next) {
			if o.tracer != nil {
				o.tracer.Retained(o, tag, int(next&totalMask))
			}

			return
		}
	}
}

func (o *Object) release(tag any, when int) {
	taggedDec := 0
	if isCollectionTag(tag) {
		taggedDec = 1
	}

	var (
		newTotal  int
		newTagged int
		freeing   bool
	)

	for {
		orig := o.count.Load()

		// Holders cleaning up dangling references race with teardown; a
		// pegged count is frozen.
		if isFreeing(orig) || isPegged(orig) {
			return
		}

		newTotal = int(orig&totalMask) - 1
		newTagged = int(orig>>taggedShift) - taggedDec
		freeing = newTotal < when

		next := uint32(countFreeing)
		if !freeing {
			next = pack(newTotal, newTagged)
		}

		if o.count.CompareAndSwap(orig, next) {
			break
		}
	}

	if o.tracer != nil {
		o.tracer.Released(o, tag, newTotal)
	}

	// A collection released this object more often than it retained it, or
	// the object dropped below the number of collections holding it.
	if newTagged < 0 || newTagged > newTotal {
		fatal.Abort("refcount: releasing a(n) %s has corrupted its owning collections (total %d, tagged %d)",
			o.kind.Name(), newTotal, newTagged)
	}

	if freeing && o.free != nil {
		o.free()
	}
}

func pack(total, tagged int) uint32 {
	return uint32(tagged)<<taggedShift | uint32(total)&totalMask
}

func isPegged(word uint32) bool {
	return word&totalMask == countPegged
}

func isFreeing(word uint32) bool {
	return word&totalMask == countFreeing
}

func isCollectionTag(tag any) bool {
	id, ok := tag.(*typeid.ID)

	return ok && id.IsCollection()
}
