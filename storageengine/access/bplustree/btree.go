package bplustree

import (
	"fmt"
	"sort"

	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/diskmanager"
	"github.com/shivang/stratumdb/storageengine/page"
	"github.com/shivang/stratumdb/types"
)

// BTree is a handle on one index file's disk-backed B+tree.
type BTree struct {
	fileID int32
	dm     *diskmanager.DiskManager
	bp     *bufferpool.BufferPool
	hdr    FileHeader
}

// minSize is the B+tree's minimum-occupancy invariant from spec.md
// §4.2.3: leaves floor at ⌊m/2⌋, internal nodes (which carry one more
// child pointer than key) floor at ⌈(m+1)/2⌉.
func (t *BTree) minSize(leaf bool) int32 {
	if leaf {
		return t.hdr.BTreeOrder / 2
	}
	return (t.hdr.BTreeOrder + 2) / 2
}

// DefaultOrder picks the largest order whose node page (header + keys
// + rids) fits in one page.Size buffer, per spec.md §4.2's "order m is
// chosen so that a node occupies one page."
func DefaultOrder(colTotLen int32) int32 {
	order := (page.Size - ixHeaderSize) / (colTotLen + 8)
	if order < 4 {
		order = 4
	}
	return order
}

// Create initializes a brand-new, empty index file over cols.
func Create(fileID uint32, cols []KeyColumn, order int32, dm *diskmanager.DiskManager, bp *bufferpool.BufferPool) (*BTree, error) {
	var totLen int32
	for _, c := range cols {
		totLen += c.Len
	}
	hdr := FileHeader{
		RootPageNo: IxInitRootPage,
		FirstLeaf:  NoLeaf,
		LastLeaf:   NoLeaf,
		NumPages:   0,
		BTreeOrder: order,
		ColTotLen:  totLen,
		Columns:    cols,
		KeysSize:   order * totLen,
	}
	t := &BTree{fileID: int32(fileID), dm: dm, bp: bp, hdr: hdr}
	if err := t.persistHeader(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open loads an existing index file's header.
func Open(fileID uint32, dm *diskmanager.DiskManager, bp *bufferpool.BufferPool) (*BTree, error) {
	data, err := dm.ReadMetadata(fileID)
	if err != nil {
		return nil, fmt.Errorf("bplustree: read header: %w", err)
	}
	hdr, err := decodeFileHeader(data)
	if err != nil {
		return nil, err
	}
	return &BTree{fileID: int32(fileID), dm: dm, bp: bp, hdr: hdr}, nil
}

func (t *BTree) persistHeader() error {
	return t.dm.WriteMetadata(uint32(t.fileID), encodeFileHeader(t.hdr))
}

func (t *BTree) globalID(local int32) page.ID {
	return page.ID(int64(t.fileID)<<32 | int64(local))
}

func (t *BTree) fetch(local int32) (*bufferpool.Guard, error) {
	return t.bp.Fetch(t.globalID(local))
}

func (t *BTree) allocNode(leaf bool) (int32, *bufferpool.Guard, error) {
	g, err := t.bp.NewGuard(uint32(t.fileID), page.TypeIndexNode)
	if err != nil {
		return 0, nil, err
	}
	InitNode(g.Page(), leaf)
	local := int32(g.Page().ID)
	t.hdr.NumPages++
	return local, g, nil
}

// A node's page_lsn is stamped by the caller's MarkDirty(lsn) call once
// a mutation finishes, not by allocNode — a freshly allocated node is
// empty and carries nothing the WAL ordering guarantee needs to protect
// until it is first written to.

// internalLookup computes the child index to follow for key, per
// spec.md §4.2.1's find_leaf_page rule: r = lower_bound(key); if
// r == num_keys, r--; if key < node.key[r], r--. The search starts at
// slot 1, not 0 — slot 0's key is a sentinel for the leftmost child
// and is not part of the node's sorted key range, so including it
// would misroute descent whenever an indexed column's domain includes
// values below the sentinel's zero value (a negative INT/BIGINT key).
func internalLookup(pg *page.Page, h FileHeader, key []byte) int32 {
	n := numKeys(pg)
	if n <= 1 {
		return 0
	}
	r := int32(sort.Search(int(n-1), func(i int) bool {
		return compareKey(h, keyAt(pg, h, int32(i)+1), key) >= 0
	})) + 1
	if r == n {
		r--
	}
	if compareKey(h, key, keyAt(pg, h, r)) < 0 {
		r--
	}
	if r < 0 {
		r = 0
	}
	return r
}

// path is a crab-latch traversal context: the pinned guards from root
// to the current node, per spec.md §9's page-guard redesign note.
type path struct {
	guards []*bufferpool.Guard
	local  []int32
}

func (p *path) push(local int32, g *bufferpool.Guard) {
	p.guards = append(p.guards, g)
	p.local = append(p.local, local)
}

func (p *path) top() (*bufferpool.Guard, int32) {
	n := len(p.guards)
	return p.guards[n-1], p.local[n-1]
}

// releaseGuard unlocks and unpins g, in that order. Guard.Release
// (BufferPool.UnpinPage) locks pg itself for its own bookkeeping, so a
// caller that still holds pg's lock from descend must drop it first or
// UnpinPage's Lock() deadlocks against the caller's own non-reentrant
// sync.RWMutex.
func releaseGuard(g *bufferpool.Guard) {
	g.Page().Unlock()
	g.Release()
}

// releaseAllButLast unpins every guard except the most recently
// pushed, used once a descent proves the child is safe.
func (p *path) releaseAllButLast() {
	for i := 0; i < len(p.guards)-1; i++ {
		releaseGuard(p.guards[i])
	}
	if len(p.guards) > 1 {
		last := p.guards[len(p.guards)-1]
		lastLocal := p.local[len(p.local)-1]
		p.guards, p.local = []*bufferpool.Guard{last}, []int32{lastLocal}
	}
}

func (p *path) releaseAll() {
	for _, g := range p.guards {
		releaseGuard(g)
	}
	p.guards, p.local = nil, nil
}

// popAndRelease releases the path's current bottom-most guard (the one
// top() returns) and removes it, for use once a caller is done with a
// node it popped off mid-traversal (a split or merged-away child).
func (p *path) popAndRelease() {
	n := len(p.guards)
	releaseGuard(p.guards[n-1])
	p.guards = p.guards[:n-1]
	p.local = p.local[:n-1]
}

// descend walks root to leaf, retaining the whole path when a node is
// not provably safe for the operation (spec.md §5's crab-latching
// rule), releasing ancestors once a safe node is reached.
//
// safe(pg) decides whether pg, once reached, guarantees the operation
// cannot propagate further up: for search, everything is safe; for
// insert, num_keys < max_size-1; for delete, num_keys > min_size.
func (t *BTree) descend(key []byte, safe func(pg *page.Page) bool) (*path, error) {
	p := &path{}
	if t.hdr.RootPageNo == IxInitRootPage {
		return p, nil
	}
	cur := t.hdr.RootPageNo
	for {
		g, err := t.fetch(cur)
		if err != nil {
			p.releaseAll()
			return nil, fmt.Errorf("bplustree: descend: %w", err)
		}
		g.Page().Lock()
		p.push(cur, g)
		if safe(g.Page()) {
			p.releaseAllButLast()
		}
		if isLeaf(g.Page()) {
			return p, nil
		}
		r := internalLookup(g.Page(), t.hdr, key)
		cur = childAt(g.Page(), t.hdr, r)
	}
}

// Search returns the Rid stored under key, or a not-found error.
func (t *BTree) Search(key []byte) (types.Rid, error) {
	p, err := t.descend(key, func(*page.Page) bool { return true })
	if err != nil {
		return types.NoRid, err
	}
	defer p.releaseAll()
	if len(p.guards) == 0 {
		return types.NoRid, fmt.Errorf("bplustree: empty tree")
	}
	leaf, _ := p.top()
	n := numKeys(leaf.Page())
	idx := sort.Search(int(n), func(i int) bool {
		return compareKey(t.hdr, keyAt(leaf.Page(), t.hdr, int32(i)), key) >= 0
	})
	if idx >= int(n) || compareKey(t.hdr, keyAt(leaf.Page(), t.hdr, int32(idx)), key) != 0 {
		return types.NoRid, fmt.Errorf("bplustree: key not found")
	}
	return ridAt(leaf.Page(), t.hdr, int32(idx)), nil
}
