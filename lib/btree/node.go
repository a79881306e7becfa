package btree

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/pager"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	nodeTypeLeaf   = 1
	nodeTypeBranch = 2

	// nodeHeaderSize is [type 1][count 2]
	nodeHeaderSize = 3

	// maxInlineValue is the largest value stored inside a leaf page. Larger
	// values go to a contiguous overflow run and the leaf keeps a reference.
	maxInlineValue = pager.PayloadSize / 4

	// mergeThreshold is the serialized size below which a node is merged with
	// a sibling during delete
	mergeThreshold = pager.PayloadSize / 4

	itemFlagInline   = 0
	itemFlagOverflow = 1
)

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// item is one entry of a node. Leaf items carry a value (inline or as an
// overflow reference), branch items carry a child pointer. The key of a
// branch item is the smallest key of its subtree.
type item struct {
	key      []byte
	val      []byte       // leaf: inline value
	overflow pager.PageID // leaf: head of overflow run (0 = inline)
	vlen     uint64       // leaf: total value length when overflowed
	child    pager.PageID // branch: on-disk child page
	node     *node        // branch: loaded child, nil if untouched
}

// node is the in-memory form of one tree page. A node read from disk keeps
// its page id; copy-on-write marks it dirty and the old page is freed when
// the new version is written out.
type node struct {
	pgid  pager.PageID // page the node was read from, 0 for new nodes
	leaf  bool
	dirty bool
	items []item
}

func (n *node) firstKey() []byte {
	return n.items[0].key
}

// size returns the serialized payload size of the node
func (n *node) size() int {
	sz := nodeHeaderSize
	for i := range n.items {
		it := &n.items[i]
		if n.leaf {
			if it.overflow != 0 {
				sz += 1 + uvarintLen(uint64(len(it.key))) + uvarintLen(it.vlen) + 8 + len(it.key)
			} else {
				sz += 1 + uvarintLen(uint64(len(it.key))) + uvarintLen(uint64(len(it.val))) + len(it.key) + len(it.val)
			}
		} else {
			sz += uvarintLen(uint64(len(it.key))) + 8 + len(it.key)
		}
	}
	return sz
}

// encode serializes the node into a page payload. Branch children must have
// been assigned their final page ids before encoding.
func (n *node) encode() ([]byte, error) {
	buf := make([]byte, pager.PayloadSize)

	if n.leaf {
		buf[0] = nodeTypeLeaf
	} else {
		buf[0] = nodeTypeBranch
	}
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.items)))

	off := nodeHeaderSize
	for i := range n.items {
		it := &n.items[i]
		if n.leaf {
			if it.overflow != 0 {
				buf[off] = itemFlagOverflow
				off++
				off += binary.PutUvarint(buf[off:], uint64(len(it.key)))
				off += binary.PutUvarint(buf[off:], it.vlen)
				binary.LittleEndian.PutUint64(buf[off:], uint64(it.overflow))
				off += 8
				off += copy(buf[off:], it.key)
			} else {
				buf[off] = itemFlagInline
				off++
				off += binary.PutUvarint(buf[off:], uint64(len(it.key)))
				off += binary.PutUvarint(buf[off:], uint64(len(it.val)))
				off += copy(buf[off:], it.key)
				off += copy(buf[off:], it.val)
			}
		} else {
			off += binary.PutUvarint(buf[off:], uint64(len(it.key)))
			binary.LittleEndian.PutUint64(buf[off:], uint64(it.child))
			off += 8
			off += copy(buf[off:], it.key)
		}
		if off > pager.PayloadSize {
			return nil, errors.Errorf("node overflows page: %d items, %d bytes", len(n.items), off)
		}
	}

	return buf[:off], nil
}

// decodeNode parses a page payload into a node
func decodeNode(pgid pager.PageID, payload []byte) (*node, error) {
	if len(payload) < nodeHeaderSize {
		return nil, errors.Wrapf(pager.ErrCorrupted, "node page %d truncated", pgid)
	}

	n := &node{pgid: pgid}
	switch payload[0] {
	case nodeTypeLeaf:
		n.leaf = true
	case nodeTypeBranch:
	default:
		return nil, errors.Wrapf(pager.ErrCorrupted, "node page %d has unknown type %d", pgid, payload[0])
	}

	count := int(binary.LittleEndian.Uint16(payload[1:3]))
	n.items = make([]item, 0, count)

	off := nodeHeaderSize
	for i := 0; i < count; i++ {
		var it item
		if n.leaf {
			if off >= len(payload) {
				return nil, errors.Wrapf(pager.ErrCorrupted, "node page %d truncated at item %d", pgid, i)
			}
			flags := payload[off]
			off++

			klen, m := binary.Uvarint(payload[off:])
			if m <= 0 {
				return nil, errors.Wrapf(pager.ErrCorrupted, "node page %d has bad key length", pgid)
			}
			off += m

			vlen, m := binary.Uvarint(payload[off:])
			if m <= 0 {
				return nil, errors.Wrapf(pager.ErrCorrupted, "node page %d has bad value length", pgid)
			}
			off += m

			if flags == itemFlagOverflow {
				if off+8 > len(payload) {
					return nil, errors.Wrapf(pager.ErrCorrupted, "node page %d truncated at item %d", pgid, i)
				}
				it.overflow = pager.PageID(binary.LittleEndian.Uint64(payload[off:]))
				it.vlen = vlen
				off += 8
				if off+int(klen) > len(payload) {
					return nil, errors.Wrapf(pager.ErrCorrupted, "node page %d truncated at item %d", pgid, i)
				}
				it.key = append([]byte(nil), payload[off:off+int(klen)]...)
				off += int(klen)
			} else {
				if off+int(klen)+int(vlen) > len(payload) {
					return nil, errors.Wrapf(pager.ErrCorrupted, "node page %d truncated at item %d", pgid, i)
				}
				it.key = append([]byte(nil), payload[off:off+int(klen)]...)
				off += int(klen)
				// non-nil even for empty values, nil means absent to callers
				it.val = append([]byte{}, payload[off:off+int(vlen)]...)
				off += int(vlen)
			}
		} else {
			klen, m := binary.Uvarint(payload[off:])
			if m <= 0 {
				return nil, errors.Wrapf(pager.ErrCorrupted, "node page %d has bad key length", pgid)
			}
			off += m

			if off+8+int(klen) > len(payload) {
				return nil, errors.Wrapf(pager.ErrCorrupted, "node page %d truncated at item %d", pgid, i)
			}
			it.child = pager.PageID(binary.LittleEndian.Uint64(payload[off:]))
			off += 8
			it.key = append([]byte(nil), payload[off:off+int(klen)]...)
			off += int(klen)
		}
		n.items = append(n.items, it)
	}

	return n, nil
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
