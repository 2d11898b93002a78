// Package paged chains fixed-size primitive allocators end to end so a
// logical allocator can grow without the hard capacity limit of a single
// buffer. Both variants scan pages in creation order and service a request
// from the first page with enough room; if none can, a new page is created
// with the same configuration as every existing page and the request is
// serviced from it. Deallocate finds the page whose buffer contains ptr by
// the same linear scan.
//
// Grounded on the teacher's memoryBlockList (vam/block_list.go): a
// growable, creation-ordered slice of equally-configured device memory
// blocks, first-fit allocation across the list, and "create a new block with
// the same parameters when none of the existing ones can satisfy the
// request" on exhaustion. This package drops the teacher's incremental
// free-size sort and defragmentation support (both explicitly out of scope
// per spec.md §1) and keeps the plain linear scan.
package paged

import (
	"unsafe"

	"github.com/blockforge/allockit"
	"github.com/blockforge/allockit/allocerr"
	"github.com/blockforge/allockit/linear"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// Linear is a paged linear allocator: a growable sequence of linear.Allocator
// pages, each of the same configured page size.
type Linear struct {
	parent   allockit.Allocator
	pageSize int
	pages    []*linear.Allocator
}

var _ allockit.Allocator = (*Linear)(nil)

// NewLinear constructs a free-standing paged linear allocator with one
// initial page of pageSize bytes.
func NewLinear(pageSize int) (*Linear, error) {
	return NewLinearWithParent(nil, pageSize)
}

// NewLinearDefaultPageSize constructs a free-standing paged linear allocator
// whose page size is the host's memory page size (allocerr.PageSize),
// rather than a caller-chosen constant.
func NewLinearDefaultPageSize() (*Linear, error) {
	return NewLinear(allocerr.PageSize())
}

// NewLinearWithParent constructs a paged linear allocator whose pages obtain
// their buffers from parent, or the host heap if parent is nil.
func NewLinearWithParent(parent allockit.Allocator, pageSize int) (*Linear, error) {
	if pageSize <= 0 {
		return nil, errors.Errorf("paged linear: page size must be positive, got %d", pageSize)
	}

	p := &Linear{parent: parent, pageSize: pageSize}
	if _, err := p.tryAddPage(); err != nil {
		return nil, err
	}
	return p, nil
}

// tryAddPage grows the page list by one, surfacing a bad-configuration error
// from the child linear.Allocator rather than panicking. Used for the
// initial page, where a malformed pageSize should fail New cleanly.
func (p *Linear) tryAddPage() (*linear.Allocator, error) {
	page, err := linear.NewWithParent(p.parent, p.pageSize)
	if err != nil {
		return nil, err
	}
	p.pages = append(p.pages, page)
	return page, nil
}

// addPage grows the page list by one. Failure to acquire the new page's
// backing buffer is fatal per spec.md §9 ("paged allocation failure ... is
// treated as fatal once page growth itself fails"): by the time a page
// allocator is growing, its configuration has already been validated once
// by New.
func (p *Linear) addPage() *linear.Allocator {
	page, err := p.tryAddPage()
	if err != nil {
		panic(errors.Wrap(err, "paged linear: growing to a new page"))
	}
	return page
}

// Allocate scans pages in creation order and services the request from the
// first one with enough free space, growing a new page if none can. Per
// spec.md §9, failure to grow (parent/host heap exhaustion) is fatal.
func (p *Linear) Allocate(size int) (unsafe.Pointer, error) {
	if size > p.pageSize {
		panic(errors.Errorf("paged linear: requested %d bytes exceeds page size %d", size, p.pageSize))
	}

	need := allocerr.AlignUp(size, allocerr.PointerSize) + allocerr.DebugMargin
	for _, page := range p.pages {
		if page.FreeSpace() >= need {
			return page.Allocate(size)
		}
	}

	return p.addPage().Allocate(size)
}

// Deallocate finds the page whose buffer contains ptr by a linear scan and
// routes there.
func (p *Linear) Deallocate(ptr unsafe.Pointer) error {
	page := p.findPage(ptr)
	if page == nil {
		panic(errors.New("paged linear: deallocated pointer does not belong to any page"))
	}
	return page.Deallocate(ptr)
}

func (p *Linear) findPage(ptr unsafe.Pointer) *linear.Allocator {
	for _, page := range p.pages {
		if page.Contains(ptr) {
			return page
		}
	}
	return nil
}

// Reset resets every page, per spec.md §4.5 (paged linear only).
func (p *Linear) Reset() {
	for _, page := range p.pages {
		page.Reset()
	}
}

// ResetAndShrink resets every page and drops all but the first.
func (p *Linear) ResetAndShrink() error {
	for _, page := range p.pages {
		page.Reset()
	}
	for _, stale := range p.pages[1:] {
		if err := stale.Close(); err != nil {
			return err
		}
	}
	p.pages = p.pages[:1]
	return nil
}

// MaxAllocationSize returns the configured page size: no single allocation
// may exceed one page, since pages are never merged into one logical buffer.
func (p *Linear) MaxAllocationSize() int {
	return p.pageSize
}

// PageCount returns the number of pages currently allocated.
func (p *Linear) PageCount() int {
	return len(p.pages)
}

// Close requires every page to have zero outstanding allocations and
// releases them all.
func (p *Linear) Close() error {
	for i, page := range p.pages {
		if err := page.Close(); err != nil {
			return errors.Wrapf(err, "paged linear: closing page %d", i)
		}
	}
	return nil
}

// AddStatistics implements allockit.Statted, summing across all pages.
func (p *Linear) AddStatistics(stats *allocerr.Statistics) {
	for _, page := range p.pages {
		page.AddStatistics(stats)
	}
}

// AddDetailedStatistics implements allockit.Statted, summing across all
// pages.
func (p *Linear) AddDetailedStatistics(stats *allocerr.DetailedStatistics) {
	for _, page := range p.pages {
		page.AddDetailedStatistics(stats)
	}
}

// WriteJSON implements allocdump.Dumpable, nesting each page's own WriteJSON
// output under its index, mirroring memoryBlockList.PrintDetailedMap.
func (p *Linear) WriteJSON(json jwriter.ObjectState) {
	json.Name("PageSize").Int(p.pageSize)
	json.Name("PageCount").Int(len(p.pages))
	pagesArr := json.Name("Pages").Array()
	for _, page := range p.pages {
		pageObj := pagesArr.Object()
		page.WriteJSON(pageObj)
		pageObj.End()
	}
	pagesArr.End()
}

// LogAllocations writes one summary of all pages combined to logger,
// mirroring buddy.Allocator.LogAllocations.
func (p *Linear) LogAllocations(logger *slog.Logger) {
	var stats allocerr.Statistics
	p.AddStatistics(&stats)
	logger.Info("paged linear allocator snapshot",
		slog.Int("pageSize", p.pageSize),
		slog.Int("pageCount", len(p.pages)),
		slog.Int("outstanding", stats.AllocationCount),
		slog.Int("allocationBytes", stats.AllocationBytes),
	)
}
