package symbol

import (
	"slices"

	"github.com/Sumatoshi-tech/objrt/pkg/fatal"
)

// bucket is one of three states: empty (both fields zero), single (one set,
// no slice allocated) or many (many holds two or more entries, one is nil).
type bucket struct {
	one  *Symbol
	many []*Symbol
}

func (b *bucket) len() int {
	switch {
	case b.many != nil:
		return len(b.many)
	case b.one != nil:
		return 1
	default:
		return 0
	}
}

// table is the open-hashing store behind a Pool. It is not synchronized; the
// owning pool's gate guards every call.
type table struct {
	buckets []bucket
	count   int
}

func newTable(nBuckets int) *table {
	return &table{buckets: make([]bucket, nBuckets)}
}

func (t *table) size() int {
	return len(t.buckets)
}

func (t *table) bucketFor(hash uint32) *bucket {
	return &t.buckets[hash%uint32(len(t.buckets))]
}

// find returns the entry whose content equals text, or nil.
func (t *table) find(text string, hash uint32) *Symbol {
	b := t.bucketFor(hash)

	switch b.len() {
	case 0:
		return nil
	case 1:
		if b.one.matches(text) {
			return b.one
		}

		return nil
	}

	for _, probe := range b.many {
		if probe.matches(text) {
			return probe
		}
	}

	return nil
}

// insert adds sym unless an entry with equal content exists, in which case
// that entry is returned and the table is unchanged.
func (t *table) insert(sym *Symbol) *Symbol {
	text := sym.text()
	if existing := t.find(text, sym.hash); existing != nil {
		return existing
	}

	b := t.bucketFor(sym.hash)

	switch b.len() {
	case 0:
		b.one = sym
	case 1:
		b.many = []*Symbol{sym, b.one}
		b.one = nil
	default:
		b.many = slices.Insert(b.many, 0, sym)
	}

	t.count++

	return sym
}

// remove deletes sym by identity and reports whether it was present.
func (t *table) remove(sym *Symbol) bool {
	b := t.bucketFor(sym.hash)

	switch b.len() {
	case 0:
		return false
	case 1:
		if b.one != sym {
			return false
		}

		b.one = nil
	default:
		idx := slices.Index(b.many, sym)
		if idx < 0 {
			return false
		}

		if len(b.many) == 2 {
			b.one = b.many[1-idx]
			b.many = nil
		} else {
			b.many = slices.Delete(b.many, idx, idx+1)
		}
	}

	t.count--

	return true
}

// each visits every entry until fn returns false. Order is unspecified.
func (t *table) each(fn func(*Symbol) bool) {
	for idx := range t.buckets {
		b := &t.buckets[idx]

		if b.one != nil && !fn(b.one) {
			return
		}

		for _, sym := range b.many {
			if !fn(sym) {
				return
			}
		}
	}
}

// rebuild returns a table of nBuckets holding every entry of t, rehashed by
// content. t itself is left untouched until the caller swaps it out.
func (t *table) rebuild(nBuckets int) *table {
	next := newTable(nBuckets)

	t.each(func(sym *Symbol) bool {
		if next.insert(sym) != sym {
			fatal.Abort("symbol: duplicate entry %q while rebuilding pool", sym.text())
		}

		return true
	})

	return next
}
