package refcount_test

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/objrt/pkg/fatal"
	"github.com/Sumatoshi-tech/objrt/pkg/refcount"
	"github.com/Sumatoshi-tech/objrt/pkg/typeid"
)

const (
	// testGoroutines is the number of goroutines for concurrency tests.
	testGoroutines = 64

	// testPairsPerGoroutine is the number of retain/release pairs per goroutine.
	testPairsPerGoroutine = 1000

	// testPeggedReleases is how many releases are issued against a pegged object.
	testPeggedReleases = 200000
)

var testKind = typeid.New("TestObject")

// counted embeds the base the way runtime objects do.
type counted struct {
	refcount.Object

	frees atomic.Int32
}

func newCounted() *counted {
	c := &counted{}
	c.Init(testKind, func() { c.frees.Add(1) })

	return c
}

func TestInit_StartsWithOneOwner(t *testing.T) {
	t.Parallel()

	obj := newCounted()

	assert.Equal(t, 1, obj.RetainCount())
	assert.Equal(t, 0, obj.TaggedCount())
	assert.False(t, obj.IsPegged())
	assert.False(t, obj.IsFreeing())
	assert.Same(t, testKind, obj.Kind())
}

func TestRelease_FreesAtZero(t *testing.T) {
	t.Parallel()

	obj := newCounted()

	obj.Retain()
	obj.Release()
	assert.Equal(t, int32(0), obj.frees.Load())
	assert.Equal(t, 1, obj.RetainCount())

	obj.Release()
	assert.Equal(t, int32(1), obj.frees.Load())
	assert.True(t, obj.IsFreeing())
}

func TestRelease_AfterFreeingIsIgnored(t *testing.T) {
	t.Parallel()

	obj := newCounted()
	obj.Release()

	obj.Release()
	obj.ReleaseTagged(typeid.Collection)

	assert.Equal(t, int32(1), obj.frees.Load())
}

func TestReleaseWhen_FreesBelowThreshold(t *testing.T) {
	t.Parallel()

	obj := newCounted()
	obj.Retain()
	obj.Retain()

	obj.ReleaseWhen(nil, 2)
	assert.Equal(t, int32(0), obj.frees.Load(), "total 2 is not below 2")

	obj.ReleaseWhen(nil, 2)
	assert.Equal(t, int32(1), obj.frees.Load())
}

func TestRetain_AfterFreeingAborts(t *testing.T) {
	t.Parallel()

	obj := newCounted()
	obj.Release()

	aborted := fatal.Recover(func() { obj.Retain() })

	require.NotNil(t, aborted)
	assert.Contains(t, aborted.Error(), "attempting to retain a freed TestObject")
}

func TestTaggedRetain_CountsCollectionsOnly(t *testing.T) {
	t.Parallel()

	obj := newCounted()

	obj.RetainTagged(typeid.Collection)
	obj.RetainTagged("opaque owner marker")
	obj.RetainTagged(typeid.New("collection"))

	assert.Equal(t, 4, obj.RetainCount())
	assert.Equal(t, 1, obj.TaggedCount())

	obj.ReleaseTagged(typeid.Collection)
	assert.Equal(t, 3, obj.RetainCount())
	assert.Equal(t, 0, obj.TaggedCount())
}

func TestTaggedRelease_WithoutTaggedRetainAborts(t *testing.T) {
	t.Parallel()

	obj := newCounted()
	obj.Retain()

	aborted := fatal.Recover(func() { obj.ReleaseTagged(typeid.Collection) })

	require.NotNil(t, aborted)
	assert.Contains(t, aborted.Error(), "releasing a(n) TestObject has corrupted")
	assert.Equal(t, int32(0), obj.frees.Load())
}

func TestUntaggedRelease_BelowCollectionCountAborts(t *testing.T) {
	t.Parallel()

	obj := newCounted()
	obj.RetainTagged(typeid.Collection)

	// The creator drops its reference: total 1, still held by one collection.
	obj.Release()
	assert.Equal(t, 1, obj.TaggedCount())

	// Dropping the collection's reference untagged leaves tagged > total.
	aborted := fatal.Recover(func() { obj.Release() })

	require.NotNil(t, aborted)
	assert.Contains(t, aborted.Error(), "corrupted its owning collections")
	assert.Equal(t, int32(0), obj.frees.Load(), "a corrupted object is never freed")
}

func TestPegged_IsPermanent(t *testing.T) {
	t.Parallel()

	obj := newCounted()

	for obj.RetainCount() < refcount.CountPegged {
		obj.Retain()
	}

	require.True(t, obj.IsPegged())

	obj.Retain()
	assert.Equal(t, refcount.CountPegged, obj.RetainCount())

	for range testPeggedReleases {
		obj.Release()
	}

	assert.True(t, obj.IsPegged())
	assert.Equal(t, int32(0), obj.frees.Load())
}

func TestConcurrentRetainRelease_FreesExactlyOnce(t *testing.T) {
	t.Parallel()

	obj := newCounted()

	var wg sync.WaitGroup

	for range testGoroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range testPairsPerGoroutine {
				obj.Retain()
				obj.RetainTagged(typeid.Collection)
				obj.ReleaseTagged(typeid.Collection)
				obj.Release()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(0), obj.frees.Load())
	assert.Equal(t, 1, obj.RetainCount())
	assert.Equal(t, 0, obj.TaggedCount())

	obj.Release()
	assert.Equal(t, int32(1), obj.frees.Load())
}

func TestConcurrentLastRelease_FreesExactlyOnce(t *testing.T) {
	t.Parallel()

	obj := newCounted()

	for range testGoroutines - 1 {
		obj.Retain()
	}

	var wg sync.WaitGroup

	start := make(chan struct{})

	for range testGoroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()

			<-start
			obj.Release()
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), obj.frees.Load())
}

type recordingTracer struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTracer) Retained(_ *refcount.Object, tag any, total int) {
	r.record("retain", tag, total)
}

func (r *recordingTracer) Released(_ *refcount.Object, tag any, total int) {
	r.record("release", tag, total)
}

func (r *recordingTracer) record(op string, tag any, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	label := "-"
	if s, ok := tag.(string); ok {
		label = s
	}

	r.events = append(r.events, op+":"+label+":"+strconv.Itoa(total))
}

func TestTracer_SeesTransitionsWithTags(t *testing.T) {
	t.Parallel()

	tracer := &recordingTracer{}
	obj := newCounted()
	obj.SetTracer(tracer)

	obj.RetainTagged("dict")
	obj.ReleaseTagged("dict")
	obj.Release()

	assert.Equal(t, []string{"retain:dict:2", "release:dict:1", "release:-:0"}, tracer.events)
}

func BenchmarkRetainRelease(b *testing.B) {
	obj := newCounted()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			obj.Retain()
			obj.Release()
		}
	})
}
