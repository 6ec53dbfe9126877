// Package track keeps debug provenance for live allocations in a side-table
// keyed by pointer, so heap headers never carry debug-only fields.
package track

import (
	"path/filepath"
	"runtime"
	"sort"

	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

// Record is the provenance of one live allocation.
type Record struct {
	Ptr  osheap.Ptr
	Seq  uint64 // per-table allocation sequence number, starting at 1
	File string
	Line int
	Size int // requested size
}

// Table maps live pointers to their records. It is not safe for concurrent use.
type Table struct {
	seq     uint64
	records map[osheap.Ptr]Record
}

// New returns an empty table.
func New() *Table {
	return &Table{records: make(map[osheap.Ptr]Record)}
}

// Add records an allocation of size bytes at p. skip is the number of frames
// between Add's caller and the frame to attribute, so 0 attributes the caller.
func (t *Table) Add(p osheap.Ptr, size, skip int) Record {
	t.seq++
	r := Record{Ptr: p, Seq: t.seq, Size: size}
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		r.File = filepath.Base(file)
		r.Line = line
	}
	t.records[p] = r
	return r
}

// Move re-keys a record after its allocation moved or changed size. The
// sequence number and origin are kept. It reports whether old was tracked.
func (t *Table) Move(old, p osheap.Ptr, size int) bool {
	r, ok := t.records[old]
	if !ok {
		return false
	}
	delete(t.records, old)
	r.Ptr = p
	r.Size = size
	t.records[p] = r
	return true
}

// Remove drops the record for p.
func (t *Table) Remove(p osheap.Ptr) (Record, bool) {
	r, ok := t.records[p]
	if ok {
		delete(t.records, p)
	}
	return r, ok
}

// Lookup returns the record for p.
func (t *Table) Lookup(p osheap.Ptr) (Record, bool) {
	r, ok := t.records[p]
	return r, ok
}

// Range returns the live records with from <= Seq <= to, ordered by Seq.
func (t *Table) Range(from, to uint64) []Record {
	var out []Record
	for _, r := range t.records {
		if r.Seq >= from && r.Seq <= to {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Len returns the number of live records.
func (t *Table) Len() int { return len(t.records) }

// Seq returns the last sequence number handed out.
func (t *Table) Seq() uint64 { return t.seq }

// Reset drops every record. The sequence keeps counting.
func (t *Table) Reset() {
	clear(t.records)
}
