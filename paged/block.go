package paged

import (
	"unsafe"

	"github.com/blockforge/allockit"
	"github.com/blockforge/allockit/allocerr"
	"github.com/blockforge/allockit/block"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// DefaultBlocksPerPage is used by NewBlock when no explicit blocks-per-page
// count is given.
const DefaultBlocksPerPage = 64

// Block is a paged block allocator: a growable sequence of block.Allocator
// pages, each configured with the same block size and blocks-per-page count.
type Block struct {
	parent        allockit.Allocator
	blockSize     int
	blocksPerPage int
	pages         []*block.Allocator
}

var _ allockit.Allocator = (*Block)(nil)

// NewBlock constructs a free-standing paged block allocator with one initial
// page, using DefaultBlocksPerPage blocks per page.
func NewBlock(blockSize int) (*Block, error) {
	return NewBlockWithParent(nil, blockSize, DefaultBlocksPerPage)
}

// NewBlockWithBlocksPerPage constructs a free-standing paged block allocator
// with an explicit blocks-per-page count.
func NewBlockWithBlocksPerPage(blockSize, blocksPerPage int) (*Block, error) {
	return NewBlockWithParent(nil, blockSize, blocksPerPage)
}

// NewBlockWithParent constructs a paged block allocator whose pages obtain
// their buffers from parent, or the host heap if parent is nil.
func NewBlockWithParent(parent allockit.Allocator, blockSize, blocksPerPage int) (*Block, error) {
	if blocksPerPage <= 0 {
		return nil, errors.Errorf("paged block: blocks per page must be positive, got %d", blocksPerPage)
	}

	p := &Block{parent: parent, blockSize: blockSize, blocksPerPage: blocksPerPage}
	if _, err := p.tryAddPage(); err != nil {
		return nil, err
	}
	return p, nil
}

// tryAddPage grows the page list by one, surfacing a bad-configuration error
// from the child block.Allocator rather than panicking. Used for the initial
// page, where a malformed blockSize/blocksPerPage should fail New cleanly.
func (p *Block) tryAddPage() (*block.Allocator, error) {
	page, err := block.NewWithParent(p.parent, p.blockSize, p.blocksPerPage)
	if err != nil {
		return nil, err
	}
	p.pages = append(p.pages, page)
	return page, nil
}

// addPage grows the page list by one. Failure to acquire the new page's
// backing buffer is fatal per spec.md §9: by the time a page allocator is
// growing, its configuration has already been validated once by New.
func (p *Block) addPage() *block.Allocator {
	page, err := p.tryAddPage()
	if err != nil {
		panic(errors.Wrap(err, "paged block: growing to a new page"))
	}
	return page
}

// Allocate scans pages in creation order and services the request from the
// first one with a free block, growing a new page (same configuration) if
// none can. Per spec.md §9, failure to grow is fatal.
func (p *Block) Allocate(size int) (unsafe.Pointer, error) {
	if size > p.blockSize {
		panic(errors.Errorf("paged block: requested %d bytes exceeds block size %d", size, p.blockSize))
	}

	for _, page := range p.pages {
		if page.FreeBlockCount() > 0 {
			return page.Allocate(size)
		}
	}

	return p.addPage().Allocate(size)
}

// Deallocate finds the page whose buffer contains ptr by a linear scan and
// routes there.
func (p *Block) Deallocate(ptr unsafe.Pointer) error {
	for _, page := range p.pages {
		if page.Contains(ptr) {
			return page.Deallocate(ptr)
		}
	}
	panic(errors.New("paged block: deallocated pointer does not belong to any page"))
}

// MaxAllocationSize returns the configured block size.
func (p *Block) MaxAllocationSize() int {
	return p.blockSize
}

// PageCount returns the number of pages currently allocated. Pages are never
// shrunk back, per spec.md §3's paged-allocator invariants.
func (p *Block) PageCount() int {
	return len(p.pages)
}

// Close requires every page to have zero outstanding allocations and
// releases them all.
func (p *Block) Close() error {
	for i, page := range p.pages {
		if err := page.Close(); err != nil {
			return errors.Wrapf(err, "paged block: closing page %d", i)
		}
	}
	return nil
}

// AddStatistics implements allockit.Statted, summing across all pages.
func (p *Block) AddStatistics(stats *allocerr.Statistics) {
	for _, page := range p.pages {
		page.AddStatistics(stats)
	}
}

// AddDetailedStatistics implements allockit.Statted, summing across all
// pages.
func (p *Block) AddDetailedStatistics(stats *allocerr.DetailedStatistics) {
	for _, page := range p.pages {
		page.AddDetailedStatistics(stats)
	}
}

// WriteJSON implements allocdump.Dumpable, nesting each page's own WriteJSON
// output under its index, mirroring memoryBlockList.PrintDetailedMap.
func (p *Block) WriteJSON(json jwriter.ObjectState) {
	json.Name("BlockSize").Int(p.blockSize)
	json.Name("BlocksPerPage").Int(p.blocksPerPage)
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
func (p *Block) LogAllocations(logger *slog.Logger) {
	var stats allocerr.Statistics
	p.AddStatistics(&stats)
	logger.Info("paged block allocator snapshot",
		slog.Int("blockSize", p.blockSize),
		slog.Int("blocksPerPage", p.blocksPerPage),
		slog.Int("pageCount", len(p.pages)),
		slog.Int("outstanding", stats.AllocationCount),
		slog.Int("allocationBytes", stats.AllocationBytes),
	)
}
