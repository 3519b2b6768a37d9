package symbol

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by Check.
var (
	ErrCountMismatch = errors.New("symbol: live count mismatch")
	ErrMisplaced     = errors.New("symbol: entry in wrong bucket")
	ErrDuplicate     = errors.New("symbol: duplicate content")
	ErrFreedEntry    = errors.New("symbol: freed entry still in pool")
	ErrForeignEntry  = errors.New("symbol: entry owned by another pool")
	ErrBucketShape   = errors.New("symbol: malformed bucket")
)

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Live          int    `json:"live"           yaml:"live"`
	Buckets       int    `json:"buckets"        yaml:"buckets"`
	Floor         int    `json:"floor"          yaml:"floor"`
	EmptyBuckets  int    `json:"empty_buckets"  yaml:"empty_buckets"`
	LongestBucket int    `json:"longest_bucket" yaml:"longest_bucket"`
	Borrowed      int    `json:"borrowed"       yaml:"borrowed"`
	ContentBytes  int    `json:"content_bytes"  yaml:"content_bytes"`
	Created       uint64 `json:"created"        yaml:"created"`
	Hits          uint64 `json:"hits"           yaml:"hits"`
	Misses        uint64 `json:"misses"         yaml:"misses"`
	Freed         uint64 `json:"freed"          yaml:"freed"`
	Grows         uint64 `json:"grows"          yaml:"grows"`
	Shrinks       uint64 `json:"shrinks"        yaml:"shrinks"`
	Relocated     uint64 `json:"relocated"      yaml:"relocated"`
}

// LoadFactor is live entries per bucket.
func (s Stats) LoadFactor() float64 {
	if s.Buckets == 0 {
		return 0
	}

	return float64(s.Live) / float64(s.Buckets)
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.gate.Lock()
	defer p.gate.Unlock()

	out := Stats{
		Live:      p.table.count,
		Buckets:   p.table.size(),
		Floor:     p.floor,
		Created:   p.stats.created,
		Hits:      p.stats.hits,
		Misses:    p.stats.misses,
		Freed:     p.stats.freed,
		Grows:     p.stats.grows,
		Shrinks:   p.stats.shrinks,
		Relocated: p.stats.relocated,
	}

	for idx := range p.table.buckets {
		n := p.table.buckets[idx].len()
		if n == 0 {
			out.EmptyBuckets++
		}

		out.LongestBucket = max(out.LongestBucket, n)
	}

	p.table.each(func(sym *Symbol) bool {
		body := sym.body.Load()
		if body.ownership == Borrowed {
			out.Borrowed++
		}

		out.ContentBytes += len(body.text)

		return true
	})

	return out
}

// Check walks the pool and verifies its structural invariants. It returns the
// first violation found, wrapped around one of the sentinel errors.
func (p *Pool) Check() error {
	p.gate.Lock()
	defer p.gate.Unlock()

	seen := make(map[string]struct{}, p.table.count)
	total := 0

	for idx := range p.table.buckets {
		b := &p.table.buckets[idx]

		if b.one != nil && b.many != nil {
			return fmt.Errorf("%w: bucket %d is both single and many", ErrBucketShape, idx)
		}

		if b.many != nil && len(b.many) < 2 {
			return fmt.Errorf("%w: bucket %d holds %d entries in many form", ErrBucketShape, idx, len(b.many))
		}

		entries := b.many
		if b.one != nil {
			entries = []*Symbol{b.one}
		}

		for _, sym := range entries {
			total++

			err := p.checkEntry(sym, idx, seen)
			if err != nil {
				return err
			}
		}
	}

	if total != p.table.count {
		return fmt.Errorf("%w: counted %d, recorded %d", ErrCountMismatch, total, p.table.count)
	}

	return nil
}

func (p *Pool) checkEntry(sym *Symbol, idx int, seen map[string]struct{}) error {
	text := sym.text()

	if sym.pool != p {
		return fmt.Errorf("%w: %q", ErrForeignEntry, text)
	}

	if sym.IsFreeing() {
		return fmt.Errorf("%w: %q", ErrFreedEntry, text)
	}

	if hashString(text) != sym.hash || int(sym.hash%uint32(p.table.size())) != idx {
		return fmt.Errorf("%w: %q in bucket %d", ErrMisplaced, text, idx)
	}

	if _, dup := seen[text]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicate, text)
	}

	seen[text] = struct{}{}

	return nil
}
