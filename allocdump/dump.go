// Package allocdump renders an allocator's footprint as JSON, the way the
// teacher's BlockMetadata.BlockJsonData / memoryBlockList.PrintDetailedMap
// pair does (memutils/metadata/metadata.go, vam/block_list.go): a
// Dumpable allocator writes its own fields into a jwriter.ObjectState handed
// to it by the caller, rather than allocdump knowing the internal shape of
// every allocator variant.
package allocdump

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// Dumpable is implemented by every allocator variant in this module
// (linear.Allocator, block.Allocator, buddy.Allocator, smallobj.Allocator,
// paged.Linear, paged.Block). WriteJSON writes this allocator's own fields
// — never a wrapping object — into json, mirroring the teacher's
// BlockJsonData(json jwriter.ObjectState) contract.
type Dumpable interface {
	WriteJSON(json jwriter.ObjectState)
}

// Dump renders d's footprint as a standalone JSON object and returns the
// encoded bytes.
func Dump(d Dumpable) ([]byte, error) {
	w := jwriter.NewWriter()
	obj := w.Object()
	d.WriteJSON(obj)
	obj.End()

	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "allocdump: encoding allocator snapshot")
	}
	return w.Bytes(), nil
}

// DumpNamed renders several named Dumpables (e.g. every page of a paged
// allocator, or every child of a small-object allocator) as one JSON object
// keyed by name, mirroring memoryBlockList.PrintDetailedMap's per-block
// keying by block id.
func DumpNamed(entries map[string]Dumpable) ([]byte, error) {
	w := jwriter.NewWriter()
	obj := w.Object()
	for name, d := range entries {
		child := obj.Name(name).Object()
		d.WriteJSON(child)
		child.End()
	}
	obj.End()

	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "allocdump: encoding named allocator snapshot")
	}
	return w.Bytes(), nil
}
