// Package btree implements the in-memory B-tree keyed-multiset index
// backing NyaruDB2's secondary indexes (spec §4.5). Nodes are addressed
// by stable int index into an arena slice rather than by pointer, per
// spec §9's design note, so splits and merges never have to maintain
// parent pointers.
package btree

// Ordered constrains the tree's key type to anything with a natural
// total order via cmp; NyaruDB2 always indexes on the string-form of an
// extracted field (spec §4.2), but the tree itself stays generic so it
// can be exercised directly in tests with int keys.
type Ordered interface {
	~string | ~int | ~int32 | ~int64 | ~float64
}

const defaultDegree = 2

// Tree is a B-tree of minimum degree t mapping an ordered key to an
// ordered list of byte-string payloads, preserving insertion order
// among values at the same key (spec §4.5's multi-value invariant).
type Tree[K Ordered] struct {
	t     int
	root  int
	arena []*node[K]
}

type node[K Ordered] struct {
	leaf   bool
	keys   []K
	values [][][]byte // values[i] is the ordered payload list for keys[i]
	kids   []int      // child indices into arena; len == len(keys)+1 for internal nodes
}

// New creates an empty tree with the given minimum degree. Degrees below
// 2 are clamped to the default, since a B-tree with t<2 has no valid
// shape (spec §4.5 requires minimumDegree t >= 2).
func New[K Ordered](t int) *Tree[K] {
	if t < 2 {
		t = defaultDegree
	}
	tr := &Tree[K]{t: t}
	tr.root = tr.newNode(true)
	return tr
}

func (tr *Tree[K]) newNode(leaf bool) int {
	tr.arena = append(tr.arena, &node[K]{leaf: leaf})
	return len(tr.arena) - 1
}

func (tr *Tree[K]) at(i int) *node[K] { return tr.arena[i] }

// Insert adds value to the ordered list at key, creating the key if
// absent. Duplicate keys append rather than replace (spec §4.5).
func (tr *Tree[K]) Insert(key K, value []byte) {
	root := tr.at(tr.root)
	if len(root.keys) == 2*tr.t-1 {
		newRootIdx := tr.newNode(false)
		newRoot := tr.at(newRootIdx)
		newRoot.kids = []int{tr.root}
		tr.splitChild(newRootIdx, 0)
		tr.root = newRootIdx
	}
	tr.insertNonFull(tr.root, key, value)
}

func (tr *Tree[K]) insertNonFull(idx int, key K, value []byte) {
	n := tr.at(idx)
	i := searchKey(n.keys, key)
	if n.leaf {
		if i < len(n.keys) && n.keys[i] == key {
			n.values[i] = append(n.values[i], value)
			return
		}
		n.keys = insertAt(n.keys, i, key)
		n.values = insertValuesAt(n.values, i, [][]byte{value})
		return
	}

	if i < len(n.keys) && n.keys[i] == key {
		n.values[i] = append(n.values[i], value)
		return
	}

	child := n.kids[i]
	if len(tr.at(child).keys) == 2*tr.t-1 {
		tr.splitChild(idx, i)
		n = tr.at(idx)
		if key > n.keys[i] {
			i++
		} else if key == n.keys[i] {
			n.values[i] = append(n.values[i], value)
			return
		}
	}
	tr.insertNonFull(n.kids[i], key, value)
}

// splitChild splits the i-th child of the node at idx, which must be
// full (2t-1 keys), promoting its median key/value-list up into the
// parent.
func (tr *Tree[K]) splitChild(idx, i int) {
	parent := tr.at(idx)
	fullIdx := parent.kids[i]
	full := tr.at(fullIdx)
	t := tr.t

	newIdx := tr.newNode(full.leaf)
	newNode := tr.at(newIdx)

	midKey := full.keys[t-1]
	midValues := full.values[t-1]

	newNode.keys = append(newNode.keys, full.keys[t:]...)
	newNode.values = append(newNode.values, full.values[t:]...)
	if !full.leaf {
		newNode.kids = append(newNode.kids, full.kids[t:]...)
		full.kids = full.kids[:t]
	}
	full.keys = full.keys[:t-1]
	full.values = full.values[:t-1]

	parent.keys = insertAt(parent.keys, i, midKey)
	parent.values = insertValuesAt(parent.values, i, midValues)
	parent.kids = append(parent.kids, 0)
	copy(parent.kids[i+2:], parent.kids[i+1:])
	parent.kids[i+1] = newIdx
}

// Search returns the ordered value list at key, or nil if key is absent.
// The returned slice is a copy: the tree's own value list backing array
// is live and may be appended to by a later Insert at the same key, and
// callers may hold the result past their own lock scope.
func (tr *Tree[K]) Search(key K) [][]byte {
	idx := tr.root
	for {
		n := tr.at(idx)
		i := searchKey(n.keys, key)
		if i < len(n.keys) && n.keys[i] == key {
			return append([][]byte(nil), n.values[i]...)
		}
		if n.leaf {
			return nil
		}
		idx = n.kids[i]
	}
}

// RangeSearch returns, in ascending key order, all values whose key
// falls within [low, high] (inclusive=true) or (low, high) (exclusive)
// per spec §4.5.
func (tr *Tree[K]) RangeSearch(low, high K, inclusive bool) [][]byte {
	var out [][]byte
	tr.rangeWalk(tr.root, low, high, inclusive, &out)
	return out
}

func (tr *Tree[K]) rangeWalk(idx int, low, high K, inclusive bool, out *[][]byte) {
	n := tr.at(idx)
	for i, k := range n.keys {
		if !n.leaf {
			tr.rangeWalk(n.kids[i], low, high, inclusive, out)
		}
		if inRange(k, low, high, inclusive) {
			*out = append(*out, n.values[i]...)
		}
	}
	if !n.leaf {
		tr.rangeWalk(n.kids[len(n.keys)], low, high, inclusive, out)
	}
}

func inRange[K Ordered](k, low, high K, inclusive bool) bool {
	if inclusive {
		return k >= low && k <= high
	}
	return k > low && k < high
}

// All walks every key in ascending order, invoking fn with the key and
// the length of its value list. Used by StatsEngine to build per-key
// document counts (spec §4.7) without exposing the tree's internal node
// layout.
func (tr *Tree[K]) All(fn func(key K, count int)) {
	tr.walkAll(tr.root, fn)
}

func (tr *Tree[K]) walkAll(idx int, fn func(key K, count int)) {
	n := tr.at(idx)
	for i, k := range n.keys {
		if !n.leaf {
			tr.walkAll(n.kids[i], fn)
		}
		fn(k, len(n.values[i]))
	}
	if !n.leaf {
		tr.walkAll(n.kids[len(n.keys)], fn)
	}
}

// Delete removes a single occurrence of value from key's list. If the
// list becomes empty the key itself is removed from the tree via the
// canonical B-tree delete algorithm (predecessor/successor replacement
// in internal nodes, then borrow-from-sibling or merge to restore
// minimum occupancy), preserving every other key's value list intact
// (spec §4.5).
func (tr *Tree[K]) Delete(key K, value []byte) {
	if !tr.removeValue(tr.root, key, value) {
		return
	}
	tr.deleteFrom(tr.root, key)
	root := tr.at(tr.root)
	if !root.leaf && len(root.keys) == 0 {
		tr.root = root.kids[0]
	}
}

// removeValue finds key in the subtree rooted at idx and removes value
// from its posting list, reporting whether the list emptied out (in
// which case the key itself must now be deleted from the tree).
func (tr *Tree[K]) removeValue(idx int, key K, value []byte) bool {
	n := tr.at(idx)
	i := searchKey(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		n.values[i] = removeOne(n.values[i], value)
		return len(n.values[i]) == 0
	}
	if n.leaf {
		return false
	}
	return tr.removeValue(n.kids[i], key, value)
}

// deleteFrom removes key entirely from the subtree rooted at idx. It
// assumes idx is the tree root or already holds at least t keys, the
// invariant the CLRS B-tree delete algorithm maintains on every
// recursive step so no node ever drops below t-1 keys.
func (tr *Tree[K]) deleteFrom(idx int, key K) {
	n := tr.at(idx)
	i := searchKey(n.keys, key)

	if i < len(n.keys) && n.keys[i] == key {
		if n.leaf {
			tr.removeKeyFromLeaf(idx, i)
		} else {
			tr.deleteFromInternal(idx, i)
		}
		return
	}
	if n.leaf {
		return
	}
	childIdx := tr.ensureChildCanShrink(idx, i)
	tr.deleteFrom(childIdx, key)
}

func (tr *Tree[K]) removeKeyFromLeaf(idx, i int) {
	n := tr.at(idx)
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.values = append(n.values[:i], n.values[i+1:]...)
}

// deleteFromInternal removes the key/value-list at position i of the
// internal node at idx (CLRS case 2): replaced by the maximum key of
// the left child subtree if it has spare keys to give up, else by the
// minimum key of the right child subtree, else the two children are
// merged (pulling this key down into the merge) and the deletion
// continues into the merged node.
func (tr *Tree[K]) deleteFromInternal(idx, i int) {
	n := tr.at(idx)
	leftIdx, rightIdx := n.kids[i], n.kids[i+1]

	if len(tr.at(leftIdx).keys) >= tr.t {
		predKey, predValues := tr.maxOf(leftIdx)
		tr.deleteFrom(leftIdx, predKey)
		n.keys[i] = predKey
		n.values[i] = predValues
		return
	}
	if len(tr.at(rightIdx).keys) >= tr.t {
		succKey, succValues := tr.minOf(rightIdx)
		tr.deleteFrom(rightIdx, succKey)
		n.keys[i] = succKey
		n.values[i] = succValues
		return
	}

	sunk := n.keys[i]
	tr.mergeChildren(idx, i)
	tr.deleteFrom(n.kids[i], sunk)
}

// maxOf returns the greatest key and its value list in the subtree
// rooted at idx.
func (tr *Tree[K]) maxOf(idx int) (K, [][]byte) {
	n := tr.at(idx)
	if n.leaf {
		last := len(n.keys) - 1
		return n.keys[last], n.values[last]
	}
	return tr.maxOf(n.kids[len(n.kids)-1])
}

// minOf returns the least key and its value list in the subtree rooted
// at idx.
func (tr *Tree[K]) minOf(idx int) (K, [][]byte) {
	n := tr.at(idx)
	if n.leaf {
		return n.keys[0], n.values[0]
	}
	return tr.minOf(n.kids[0])
}

// ensureChildCanShrink guarantees that kids[i] of the node at idx has
// at least t keys before the caller deletes one from it — via a
// borrow from whichever sibling has spare keys, or else a merge with
// one (CLRS case 3). Returns the arena index to recurse into, which
// differs from the original kids[i] when a merge occurred.
func (tr *Tree[K]) ensureChildCanShrink(idx, i int) int {
	n := tr.at(idx)
	if len(tr.at(n.kids[i]).keys) >= tr.t {
		return n.kids[i]
	}

	if i > 0 && len(tr.at(n.kids[i-1]).keys) >= tr.t {
		tr.borrowFromLeft(idx, i)
		return n.kids[i]
	}
	if i < len(n.kids)-1 && len(tr.at(n.kids[i+1]).keys) >= tr.t {
		tr.borrowFromRight(idx, i)
		return n.kids[i]
	}
	if i > 0 {
		tr.mergeChildren(idx, i-1)
		return tr.at(idx).kids[i-1]
	}
	tr.mergeChildren(idx, i)
	return tr.at(idx).kids[i]
}

// borrowFromLeft rotates the greatest key of the left sibling kids[i-1]
// up through the parent and down into the front of kids[i].
func (tr *Tree[K]) borrowFromLeft(idx, i int) {
	parent := tr.at(idx)
	child := tr.at(parent.kids[i])
	left := tr.at(parent.kids[i-1])

	descKey, descValues := parent.keys[i-1], parent.values[i-1]

	last := len(left.keys) - 1
	parent.keys[i-1] = left.keys[last]
	parent.values[i-1] = left.values[last]
	left.keys = left.keys[:last]
	left.values = left.values[:last]

	child.keys = insertAt(child.keys, 0, descKey)
	child.values = insertValuesAt(child.values, 0, descValues)

	if !child.leaf {
		movedChild := left.kids[len(left.kids)-1]
		left.kids = left.kids[:len(left.kids)-1]
		child.kids = insertKidAt(child.kids, 0, movedChild)
	}
}

// borrowFromRight rotates the least key of the right sibling kids[i+1]
// up through the parent and down into the back of kids[i].
func (tr *Tree[K]) borrowFromRight(idx, i int) {
	parent := tr.at(idx)
	child := tr.at(parent.kids[i])
	right := tr.at(parent.kids[i+1])

	descKey, descValues := parent.keys[i], parent.values[i]

	parent.keys[i] = right.keys[0]
	parent.values[i] = right.values[0]
	right.keys = right.keys[1:]
	right.values = right.values[1:]

	child.keys = append(child.keys, descKey)
	child.values = append(child.values, descValues)

	if !child.leaf {
		movedChild := right.kids[0]
		right.kids = right.kids[1:]
		child.kids = append(child.kids, movedChild)
	}
}

// mergeChildren merges kids[i] and kids[i+1] of the node at idx into a
// single node at kids[i], pulling the separating key/value-list down
// from the parent between them (CLRS case 3b / the tail of case 2c).
func (tr *Tree[K]) mergeChildren(idx, i int) {
	parent := tr.at(idx)
	left := tr.at(parent.kids[i])
	right := tr.at(parent.kids[i+1])

	left.keys = append(left.keys, parent.keys[i])
	left.values = append(left.values, parent.values[i])
	left.keys = append(left.keys, right.keys...)
	left.values = append(left.values, right.values...)
	if !left.leaf {
		left.kids = append(left.kids, right.kids...)
	}

	parent.keys = append(parent.keys[:i], parent.keys[i+1:]...)
	parent.values = append(parent.values[:i], parent.values[i+1:]...)
	parent.kids = append(parent.kids[:i+1], parent.kids[i+2:]...)
}

func searchKey[K Ordered](keys []K, key K) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func insertAt[K Ordered](keys []K, i int, key K) []K {
	keys = append(keys, key)
	copy(keys[i+1:], keys[i:])
	keys[i] = key
	return keys
}

func insertValuesAt(values [][][]byte, i int, v [][]byte) [][][]byte {
	values = append(values, nil)
	copy(values[i+1:], values[i:])
	values[i] = v
	return values
}

func insertKidAt(kids []int, i, kid int) []int {
	kids = append(kids, 0)
	copy(kids[i+1:], kids[i:])
	kids[i] = kid
	return kids
}

func removeOne(list [][]byte, target []byte) [][]byte {
	for i, v := range list {
		if string(v) == string(target) {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
