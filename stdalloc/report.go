package stdalloc

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/joshuapare/heapkit/stdalloc/general"
)

// WriteReport writes a JSON map of every backing block: per-class occupancy
// for small blocks and every free span and allocation for general blocks.
func (a *Allocator) WriteReport(w io.Writer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	jw := jwriter.NewWriter()
	obj := jw.Object()
	obj.Name("allocated").Int(a.allocatedLocked())
	obj.Name("backing").Int(a.backingLocked())

	smalls := obj.Name("small").Array()
	for _, s := range a.smalls {
		so := smalls.Object()
		so.Name("base").String(hexPtr(s.Region().Base))
		so.Name("size").Int(s.Region().Len())
		so.Name("used").Int(s.UsedBytes())
		classes := so.Name("classes").Array()
		for _, c := range s.Classes() {
			co := classes.Object()
			co.Name("size").Int(c.Size)
			co.Name("slots").Int(c.Slots)
			co.Name("used").Int(c.Used)
			co.End()
		}
		classes.End()
		so.End()
	}
	smalls.End()

	generals := obj.Name("general").Array()
	for _, h := range a.generals {
		ho := generals.Object()
		ho.Name("base").String(hexPtr(h.Region().Base))
		ho.Name("size").Int(h.Size())
		ho.Name("allocated").Int(h.AllocatedBytes())
		ho.Name("free").Int(h.FreeBytes())
		ho.Name("largest_free").Int(h.LargestFree())
		spans := ho.Name("spans").Array()
		h.Walk(func(sp general.Span) bool {
			so := spans.Object()
			so.Name("offset").Int(int(sp.Offset))
			so.Name("size").Int(sp.Size)
			so.Name("free").Bool(sp.Free)
			if !sp.Free {
				so.Name("ptr").String(hexPtr(sp.Ptr))
				if a.tracker != nil {
					if r, ok := a.tracker.Lookup(sp.Ptr); ok {
						so.Name("seq").Int(int(r.Seq))
						so.Name("origin").String(fmt.Sprintf("%s:%d", r.File, r.Line))
					}
				}
			}
			so.End()
			return true
		})
		spans.End()
		ho.End()
	}
	generals.End()
	obj.End()

	if err := jw.Error(); err != nil {
		return errors.Wrap(err, "stdalloc: report")
	}
	_, err := w.Write(jw.Bytes())
	return errors.Wrap(err, "stdalloc: report")
}

func hexPtr(p Ptr) string {
	return fmt.Sprintf("0x%X", uint64(p))
}
