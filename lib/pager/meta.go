package pager

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum      = "ASPENDB\x00" // file format identifier
	formatVersion = 1

	// PageSize is the fixed size of every page in the backing file
	PageSize = 4096

	// pageHeaderSize is the per-page checksum prefix
	pageHeaderSize = 8

	// PayloadSize is the number of usable bytes per page
	PayloadSize = PageSize - pageHeaderSize

	// metaPageCount is the number of alternating meta pages at the file start
	metaPageCount = 2
)

// metaBodySize is the serialized size of a Meta (without the page checksum)
const metaBodySize = 8 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 16

// --------------------------------------------------------------------------
// Meta
// --------------------------------------------------------------------------

// Meta is the root descriptor of one committed database version. Two copies
// live in pages 0 and 1; the one with the highest TxID and a valid checksum
// is the current version.
type Meta struct {
	Version    uint32   // file format version
	PageSize   uint32   // page size recorded at creation time
	TxID       uint64   // transaction id of this commit
	Root       PageID   // root page of the catalog tree (0 = empty database)
	Freelist   PageID   // head of the persisted freelist chain (0 = empty)
	PageCount  uint64   // number of pages in the file at commit time
	Seed       uint64   // checksum salt for data pages
	InstanceID [16]byte // random id assigned at file creation
}

// encode serializes the meta into a full page buffer (including checksum).
// Meta checksums are unsalted: the seed itself lives in the meta.
func (m *Meta) encode() []byte {
	buf := make([]byte, PageSize)
	body := buf[pageHeaderSize:]

	copy(body[0:8], magicNum)
	binary.LittleEndian.PutUint32(body[8:12], m.Version)
	binary.LittleEndian.PutUint32(body[12:16], m.PageSize)
	binary.LittleEndian.PutUint64(body[16:24], m.TxID)
	binary.LittleEndian.PutUint64(body[24:32], uint64(m.Root))
	binary.LittleEndian.PutUint64(body[32:40], uint64(m.Freelist))
	binary.LittleEndian.PutUint64(body[40:48], m.PageCount)
	binary.LittleEndian.PutUint64(body[48:56], m.Seed)
	copy(body[56:72], m.InstanceID[:])

	sum := xxhash.Sum64(body[:metaBodySize])
	binary.LittleEndian.PutUint64(buf[0:pageHeaderSize], sum)

	return buf
}

// decodeMeta parses and validates a meta page buffer
func decodeMeta(buf []byte) (Meta, error) {
	var m Meta

	if len(buf) < PageSize {
		return m, errors.New("meta page truncated")
	}

	body := buf[pageHeaderSize:]

	sum := binary.LittleEndian.Uint64(buf[0:pageHeaderSize])
	if xxhash.Sum64(body[:metaBodySize]) != sum {
		return m, ErrChecksum
	}

	if !bytes.Equal(body[0:8], []byte(magicNum)) {
		return m, errors.Wrap(ErrCorrupted, "bad magic number")
	}

	m.Version = binary.LittleEndian.Uint32(body[8:12])
	m.PageSize = binary.LittleEndian.Uint32(body[12:16])
	m.TxID = binary.LittleEndian.Uint64(body[16:24])
	m.Root = PageID(binary.LittleEndian.Uint64(body[24:32]))
	m.Freelist = PageID(binary.LittleEndian.Uint64(body[32:40]))
	m.PageCount = binary.LittleEndian.Uint64(body[40:48])
	m.Seed = binary.LittleEndian.Uint64(body[48:56])
	copy(m.InstanceID[:], body[56:72])

	if m.Version != formatVersion {
		return m, errors.Wrapf(ErrCorrupted, "unsupported format version %d", m.Version)
	}
	if m.PageSize != PageSize {
		return m, errors.Wrapf(ErrCorrupted, "file has page size %d, expected %d", m.PageSize, PageSize)
	}

	return m, nil
}
