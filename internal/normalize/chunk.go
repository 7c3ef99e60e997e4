package normalize

import (
	"fmt"
	"sort"

	"smartmetal/internal/domain"
)

// ChunkOptions controls when and how a document is split.
type ChunkOptions struct {
	ItemThreshold  int
	TableThreshold int
	PagesPerChunk  int
	ItemsPerChunk  int
}

func (o ChunkOptions) withDefaults() ChunkOptions {
	if o.ItemThreshold <= 0 {
		o.ItemThreshold = 60
	}
	if o.TableThreshold <= 0 {
		o.TableThreshold = 8
	}
	if o.PagesPerChunk <= 0 {
		o.PagesPerChunk = 3
	}
	if o.ItemsPerChunk <= 0 {
		o.ItemsPerChunk = 40
	}
	return o
}

// Chunk is one part of a document normalized in its own request.
type Chunk struct {
	Index int
	// FirstPage and LastPage bound a page-range chunk; both are 0 for
	// chunks cut by item or table position.
	FirstPage int
	LastPage  int
	Tables    []domain.Table
	Items     []domain.RawLineItem
	// tableIdx holds the source index of every entry in Tables.
	tableIdx []int
}

// Label describes the chunk for prompts and logs.
func (c *Chunk) Label() string {
	if c.FirstPage > 0 {
		if c.FirstPage == c.LastPage {
			return fmt.Sprintf("page %d", c.FirstPage)
		}
		return fmt.Sprintf("pages %d-%d", c.FirstPage, c.LastPage)
	}
	if len(c.Items) > 0 {
		return fmt.Sprintf("line items %d-%d", c.Items[0].LineNumber, c.Items[len(c.Items)-1].LineNumber)
	}
	return fmt.Sprintf("part %d", c.Index+1)
}

// ExpectedRows is the number of line items the chunk should produce, as far
// as it is known.
func (c *Chunk) ExpectedRows() int {
	if len(c.Items) > 0 {
		return len(c.Items)
	}
	n := 0
	for i := range c.Tables {
		if len(c.Tables[i].Rows) > 1 {
			n += len(c.Tables[i].Rows) - 1
		}
	}
	return n
}

// Planner splits one document into chunks.
type Planner struct {
	doc  *domain.Document
	opts ChunkOptions
}

// NewPlanner creates a Planner for doc.
func NewPlanner(doc *domain.Document, opts ChunkOptions) *Planner {
	return &Planner{doc: doc, opts: opts.withDefaults()}
}

// NeedsChunking reports whether the raw-item or table count exceeds its
// threshold.
func (p *Planner) NeedsChunking(items int) bool {
	return items > p.opts.ItemThreshold || len(p.doc.Tables) > p.opts.TableThreshold
}

// Plan returns the chunks for items. Page ranges are used when every table
// and item can be placed on a page; otherwise items (or, with no items,
// tables) are cut into fixed windows.
func (p *Planner) Plan(items []domain.RawLineItem) []Chunk {
	var chunks []Chunk
	if first, last, ok := p.pageSpan(items); ok {
		for start := first; start <= last; start += p.opts.PagesPerChunk {
			end := start + p.opts.PagesPerChunk - 1
			if end > last {
				end = last
			}
			if c, ok := p.pageChunk(items, start, end); ok {
				chunks = append(chunks, c)
			}
		}
	} else if len(items) > 0 {
		for start := 0; start < len(items); start += p.opts.ItemsPerChunk {
			end := start + p.opts.ItemsPerChunk
			if end > len(items) {
				end = len(items)
			}
			chunks = append(chunks, p.itemChunk(items[start:end]))
		}
	} else {
		for start := 0; start < len(p.doc.Tables); start += p.opts.TableThreshold {
			end := start + p.opts.TableThreshold
			if end > len(p.doc.Tables) {
				end = len(p.doc.Tables)
			}
			idx := make([]int, 0, end-start)
			for i := start; i < end; i++ {
				idx = append(idx, i)
			}
			chunks = append(chunks, p.tableChunk(idx))
		}
	}

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// Split halves a chunk, by page range when it spans several pages and by
// position otherwise. It returns nil when the chunk cannot be split.
func (p *Planner) Split(c Chunk) []Chunk {
	var halves []Chunk
	switch {
	case c.FirstPage > 0 && c.LastPage > c.FirstPage:
		mid := c.FirstPage + (c.LastPage-c.FirstPage)/2
		for _, r := range [][2]int{{c.FirstPage, mid}, {mid + 1, c.LastPage}} {
			if h, ok := p.pageChunk(c.Items, r[0], r[1]); ok {
				halves = append(halves, h)
			}
		}
	case len(c.Items) > 1:
		mid := len(c.Items) / 2
		halves = []Chunk{p.itemChunk(c.Items[:mid]), p.itemChunk(c.Items[mid:])}
	case len(c.Items) == 0 && len(c.tableIdx) > 1:
		mid := len(c.tableIdx) / 2
		halves = []Chunk{p.tableChunk(c.tableIdx[:mid]), p.tableChunk(c.tableIdx[mid:])}
	}
	if len(halves) < 2 {
		return nil
	}
	for i := range halves {
		halves[i].Index = c.Index
	}
	return halves
}

// itemPage places an item on a page: its own row page, or the first page of
// its source table.
func (p *Planner) itemPage(it *domain.RawLineItem) int {
	if it.SourcePage > 0 {
		return it.SourcePage
	}
	if it.SourceTable >= 0 && it.SourceTable < len(p.doc.Tables) {
		return p.doc.Tables[it.SourceTable].FirstPage()
	}
	return 0
}

func (p *Planner) pageSpan(items []domain.RawLineItem) (int, int, bool) {
	first, last := 0, 0
	note := func(a, b int) {
		if first == 0 || a < first {
			first = a
		}
		if b > last {
			last = b
		}
	}
	for i := range p.doc.Tables {
		t := &p.doc.Tables[i]
		if t.FirstPage() == 0 {
			return 0, 0, false
		}
		note(t.FirstPage(), t.LastPage())
	}
	for i := range items {
		pg := p.itemPage(&items[i])
		if pg == 0 {
			return 0, 0, false
		}
		note(pg, pg)
	}
	return first, last, first > 0
}

func (p *Planner) pageChunk(items []domain.RawLineItem, first, last int) (Chunk, bool) {
	c := Chunk{FirstPage: first, LastPage: last}
	for i := range p.doc.Tables {
		t := &p.doc.Tables[i]
		if t.FirstPage() <= last && t.LastPage() >= first {
			c.Tables = append(c.Tables, *t)
			c.tableIdx = append(c.tableIdx, i)
		}
	}
	for i := range items {
		if pg := p.itemPage(&items[i]); pg >= first && pg <= last {
			c.Items = append(c.Items, items[i])
		}
	}
	if len(items) > 0 {
		return c, len(c.Items) > 0
	}
	return c, len(c.Tables) > 0
}

func (p *Planner) itemChunk(items []domain.RawLineItem) Chunk {
	seen := make(map[int]bool)
	var idx []int
	for i := range items {
		ti := items[i].SourceTable
		if ti >= 0 && ti < len(p.doc.Tables) && !seen[ti] {
			seen[ti] = true
			idx = append(idx, ti)
		}
	}
	sort.Ints(idx)
	c := p.tableChunk(idx)
	c.Items = items
	return c
}

func (p *Planner) tableChunk(idx []int) Chunk {
	c := Chunk{tableIdx: idx}
	for _, i := range idx {
		c.Tables = append(c.Tables, p.doc.Tables[i])
	}
	return c
}
