package pager

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Freelist chain page payload layout:
//
//	[0:8]   next page id (0 = end of chain)
//	[8:12]  id count in this page
//	[12:]   ids, 8 bytes each
const freelistIDsPerPage = (PayloadSize - 12) / 8

// writeFreelist persists the union of released and pending pages as a chain
// of freelist pages and returns the chain head (0 when nothing is free).
//
// The previous chain's pages are moved into the committing transaction's
// pending batch first: the prior meta still references them, so they may only
// be reused once that meta can no longer be rolled back to.
func (p *Pager) writeFreelist(txid uint64) (PageID, error) {
	p.mu.Lock()

	if len(p.lastFreelist) > 0 {
		p.pending[txid] = append(p.pending[txid], p.lastFreelist...)
		p.pendingQ.AddItem(txid, txid)
		p.lastFreelist = nil
	}

	// Allocating chain pages shrinks the free set, which shrinks the list to
	// persist. Iterate until the page count is stable (converges immediately
	// in practice).
	var chain []PageID
	for {
		need := chainPagesFor(p.freeAndPendingCountLocked())
		if need <= len(chain) {
			break
		}
		id, err := p.allocateLocked(need - len(chain))
		if err != nil {
			p.mu.Unlock()
			return 0, err
		}
		for i := 0; i < need-len(chain); i++ {
			chain = append(chain, id+PageID(i))
		}
	}

	ids := make([]PageID, 0, p.freeAndPendingCountLocked())
	ids = append(ids, p.free...)
	for _, batch := range p.pending {
		ids = append(ids, batch...)
	}
	sortPageIDs(ids)

	p.lastFreelist = chain
	p.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}

	for i, pgid := range chain {
		payload := make([]byte, PayloadSize)

		var next PageID
		if i+1 < len(chain) {
			next = chain[i+1]
		}
		binary.LittleEndian.PutUint64(payload[0:8], uint64(next))

		lo := i * freelistIDsPerPage
		hi := lo + freelistIDsPerPage
		if hi > len(ids) {
			hi = len(ids)
		}
		binary.LittleEndian.PutUint32(payload[8:12], uint32(hi-lo))
		for j, id := range ids[lo:hi] {
			binary.LittleEndian.PutUint64(payload[12+j*8:20+j*8], uint64(id))
		}

		if err := p.WritePage(pgid, payload); err != nil {
			return 0, errors.Wrap(err, "write freelist page")
		}
	}

	return chain[0], nil
}

// readFreelist loads the persisted chain starting at head
func (p *Pager) readFreelist(head PageID) ([]PageID, error) {
	var ids []PageID

	for pgid := head; pgid != 0; {
		payload, err := p.ReadPage(pgid)
		if err != nil {
			return nil, errors.Wrap(err, "read freelist page")
		}

		next := PageID(binary.LittleEndian.Uint64(payload[0:8]))
		count := binary.LittleEndian.Uint32(payload[8:12])
		if int(count) > freelistIDsPerPage {
			return nil, errors.Wrapf(ErrCorrupted, "freelist page %d claims %d ids", pgid, count)
		}

		for j := uint32(0); j < count; j++ {
			ids = append(ids, PageID(binary.LittleEndian.Uint64(payload[12+j*8:20+j*8])))
		}
		pgid = next
	}

	return ids, nil
}

// allocateLocked is Allocate without taking mu (callers hold it)
func (p *Pager) allocateLocked(n int) (PageID, error) {
	if run := findRun(p.free, n); run >= 0 {
		id := p.free[run]
		p.free = append(p.free[:run], p.free[run+n:]...)
		return id, nil
	}
	id := PageID(p.pageCount)
	p.pageCount += uint64(n)
	return id, nil
}

func (p *Pager) freeAndPendingCountLocked() int {
	n := len(p.free)
	for _, batch := range p.pending {
		n += len(batch)
	}
	return n
}

// chainPagesFor returns the number of chain pages needed for n ids
func chainPagesFor(n int) int {
	if n == 0 {
		return 0
	}
	return (n + freelistIDsPerPage - 1) / freelistIDsPerPage
}
