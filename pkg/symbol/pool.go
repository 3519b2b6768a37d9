// Package symbol implements a process-wide intern pool of immutable strings.
//
// Interning the same content twice yields the same *Symbol, so symbols can be
// compared by pointer. Each symbol is reference counted; the final release
// removes it from the pool, and a later Intern of the same content creates a
// fresh symbol.
package symbol

import (
	"log/slog"
	"math/bits"
	"strings"
	"sync"
	"unsafe"

	"github.com/Sumatoshi-tech/objrt/pkg/refcount"
)

const (
	// DefaultInitialBuckets is the bucket hint used when none is configured.
	DefaultInitialBuckets = 16

	// growFactor: grow when count*growFactor exceeds the bucket count.
	growFactor = 1
	// shrinkFactor: shrink when count*shrinkFactor drops below the bucket count.
	shrinkFactor = 3
)

// Observer receives pool events. Methods are invoked with the pool gate held
// and must not call back into the pool.
type Observer interface {
	Lookup(hit bool)
	Created(sym *Symbol)
	Freed(sym *Symbol)
	Resized(grow bool, from, to int)
	Relocated(count int)
}

type nopObserver struct{}

func (nopObserver) Lookup(bool)            {}
func (nopObserver) Created(*Symbol)        {}
func (nopObserver) Freed(*Symbol)          {}
func (nopObserver) Resized(bool, int, int) {}
func (nopObserver) Relocated(int)          {}

// Option configures a Pool.
type Option func(*Pool)

// WithInitialBuckets sets the bucket hint. The pool starts with
// 2^(1+floor(log2(n)))-1 buckets and never shrinks below that.
func WithInitialBuckets(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.hint = n
		}
	}
}

// WithLogger sets the logger used for resize and relocation events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver attaches an event observer.
func WithObserver(obs Observer) Option {
	return func(p *Pool) {
		if obs != nil {
			p.observer = obs
		}
	}
}

// WithTracer attaches t to every symbol the pool creates.
func WithTracer(t refcount.Tracer) Option {
	return func(p *Pool) {
		p.tracer = t
	}
}

// counters are updated with the gate held.
type counters struct {
	created   uint64
	hits      uint64
	misses    uint64
	freed     uint64
	grows     uint64
	shrinks   uint64
	relocated uint64
}

// Pool interns strings. All methods are safe for concurrent use.
type Pool struct {
	gate     sync.Mutex
	table    *table
	floor    int
	hint     int
	logger   *slog.Logger
	observer Observer
	tracer   refcount.Tracer
	stats    counters
}

// New creates an empty pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		hint:     DefaultInitialBuckets,
		logger:   slog.Default(),
		observer: nopObserver{},
	}

	for _, opt := range opts {
		opt(p)
	}

	p.floor = initialSize(p.hint)
	p.table = newTable(p.floor)

	return p
}

// initialSize returns 2^(1+floor(log2(hint)))-1.
func initialSize(hint int) int {
	if hint < 1 {
		hint = 1
	}

	return 1<<bits.Len(uint(hint)) - 1
}

// Intern returns the symbol for text, creating it if needed. The caller owns
// one reference and must Release it. The content is copied.
func (p *Pool) Intern(text string) *Symbol {
	return p.intern(text, func() *content {
		return &content{text: strings.Clone(text), ownership: Owned}
	})
}

// InternBytes is Intern for a byte slice. The bytes are copied only when a new
// symbol is created.
func (p *Pool) InternBytes(data []byte) *Symbol {
	view := unsafe.String(unsafe.SliceData(data), len(data))

	return p.intern(view, func() *content {
		return &content{text: string(data), ownership: Owned}
	})
}

// InternNoCopy interns data without copying it. The resulting symbol borrows
// data, which must stay unchanged until the symbol is freed or relocated with
// RelocateRegion. If the content is already interned, the existing symbol is
// returned and data is not retained.
func (p *Pool) InternNoCopy(data []byte) *Symbol {
	view := unsafe.String(unsafe.SliceData(data), len(data))

	return p.intern(view, func() *content {
		return &content{text: view, ownership: Borrowed}
	})
}

// intern looks text up, and on a miss builds a candidate outside the gate and
// inserts it. If another goroutine inserted the same content meanwhile, the
// candidate is discarded without running the free path.
func (p *Pool) intern(text string, build func() *content) *Symbol {
	hash := hashString(text)

	if sym := p.lookup(text, hash); sym != nil {
		return sym
	}

	candidate := &Symbol{pool: p, hash: hash}
	candidate.Init(Kind, candidate.free)
	candidate.SetTracer(p.tracer)
	candidate.body.Store(build())

	p.gate.Lock()
	defer p.gate.Unlock()

	winner := p.table.insert(candidate)
	if winner != candidate {
		winner.Retain()

		return winner
	}

	p.stats.created++
	p.observer.Created(candidate)

	if p.table.count*growFactor > p.table.size() {
		p.resizeLocked(true)
	}

	return candidate
}

func (p *Pool) lookup(text string, hash uint32) *Symbol {
	p.gate.Lock()
	defer p.gate.Unlock()

	sym := p.table.find(text, hash)
	if sym == nil {
		p.stats.misses++
		p.observer.Lookup(false)

		return nil
	}

	sym.Retain()

	p.stats.hits++
	p.observer.Lookup(true)

	return sym
}

// Lookup returns the live symbol for text with a new reference, or nil if
// text is not interned. It never creates a symbol.
func (p *Pool) Lookup(text string) *Symbol {
	return p.lookup(text, hashString(text))
}

// Contains reports whether text is currently interned.
func (p *Pool) Contains(text string) bool {
	p.gate.Lock()
	defer p.gate.Unlock()

	return p.table.find(text, hashString(text)) != nil
}

// Canonical returns this pool's symbol for the content of sym with a new
// reference. A symbol already belonging to p is retained and returned as is;
// a borrowed symbol from another pool keeps borrowing the same memory.
func (p *Pool) Canonical(sym *Symbol) *Symbol {
	if sym.pool == p {
		sym.Retain()

		return sym
	}

	body := sym.body.Load()

	return p.intern(body.text, func() *content {
		if body.ownership == Borrowed {
			return &content{text: body.text, ownership: Borrowed}
		}

		return &content{text: strings.Clone(body.text), ownership: Owned}
	})
}

// RelocateRange copies every borrowed symbol whose content starts inside
// [start, end) into owned storage and returns how many were relocated.
func (p *Pool) RelocateRange(start, end uintptr) int {
	if end <= start {
		return 0
	}

	p.gate.Lock()
	defer p.gate.Unlock()

	moved := 0

	p.table.each(func(sym *Symbol) bool {
		body := sym.body.Load()
		if body.ownership != Borrowed {
			return true
		}

		addr := body.address()
		if addr < start || addr >= end {
			return true
		}

		sym.body.Store(&content{text: strings.Clone(body.text), ownership: Owned})

		moved++

		return true
	})

	if moved > 0 {
		p.stats.relocated += uint64(moved)
		p.observer.Relocated(moved)
		p.logger.Debug("symbol pool relocated borrowed content", "count", moved)
	}

	return moved
}

// RelocateRegion is RelocateRange over the memory backing region. Call it
// before region is reused or released.
func (p *Pool) RelocateRegion(region []byte) int {
	if len(region) == 0 {
		return 0
	}

	start := uintptr(unsafe.Pointer(unsafe.SliceData(region)))

	return p.RelocateRange(start, start+uintptr(len(region)))
}

// Each calls fn for every live symbol until fn returns false. fn runs with the
// pool gate held and must not intern or release symbols of this pool.
func (p *Pool) Each(fn func(*Symbol) bool) {
	p.gate.Lock()
	defer p.gate.Unlock()

	p.table.each(fn)
}

// Symbols returns every live symbol, each with a new reference the caller must
// release.
func (p *Pool) Symbols() []*Symbol {
	p.gate.Lock()
	defer p.gate.Unlock()

	out := make([]*Symbol, 0, p.table.count)

	p.table.each(func(sym *Symbol) bool {
		sym.Retain()
		out = append(out, sym)

		return true
	})

	return out
}

// Len returns the number of live symbols.
func (p *Pool) Len() int {
	p.gate.Lock()
	defer p.gate.Unlock()

	return p.table.count
}

// Buckets returns the current bucket count.
func (p *Pool) Buckets() int {
	p.gate.Lock()
	defer p.gate.Unlock()

	return p.table.size()
}

// Floor returns the bucket count the pool never shrinks below.
func (p *Pool) Floor() int {
	return p.floor
}

// removeLocked is called from a symbol's free hook with the gate held.
func (p *Pool) removeLocked(sym *Symbol) {
	if !p.table.remove(sym) {
		return
	}

	p.stats.freed++
	p.observer.Freed(sym)

	if p.table.count*shrinkFactor < p.table.size() && p.table.size() > p.floor {
		p.resizeLocked(false)
	}
}

func (p *Pool) resizeLocked(grow bool) {
	from := p.table.size()

	to := 2*from + 1
	if !grow {
		to = max((from-1)/2, p.floor)
	}

	if to == from {
		return
	}

	p.table = p.table.rebuild(to)

	if grow {
		p.stats.grows++
	} else {
		p.stats.shrinks++
	}

	p.observer.Resized(grow, from, to)
	p.logger.Debug("symbol pool resized", "grow", grow, "from", from, "to", to, "live", p.table.count)
}
