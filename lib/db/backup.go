package db

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Backup stream format
// --------------------------------------------------------------------------

// The backup stream is a magic header followed by a snappy-framed record
// sequence:
//
//	'B' [nameLen uvarint][name]           start of bucket
//	'E' [klen uvarint][vlen uvarint][k][v] one entry of the current bucket
//	'X'                                    end of stream

const backupMagic = "ASPENBK1"

const (
	recBucket = 'B'
	recEntry  = 'E'
	recEnd    = 'X'
)

// Backup streams a consistent snapshot of the whole database to w. Readers
// and the writer continue undisturbed; the snapshot is the version current
// when Backup starts.
func (e *Engine) Backup(w io.Writer) error {
	if _, err := w.Write([]byte(backupMagic)); err != nil {
		return errors.Wrap(err, "write backup header")
	}

	sw := snappy.NewBufferedWriter(w)
	var scratch [binary.MaxVarintLen64]byte

	writeUvarint := func(v uint64) error {
		n := binary.PutUvarint(scratch[:], v)
		_, err := sw.Write(scratch[:n])
		return err
	}

	err := e.View(func(tx *Tx) error {
		names, err := tx.Buckets()
		if err != nil {
			return err
		}

		for _, name := range names {
			b, err := tx.Bucket(name)
			if err != nil {
				return err
			}

			if _, err := sw.Write([]byte{recBucket}); err != nil {
				return err
			}
			if err := writeUvarint(uint64(len(name))); err != nil {
				return err
			}
			if _, err := sw.Write([]byte(name)); err != nil {
				return err
			}

			it := b.Cursor()
			for k, v, err := it.First(); k != nil; k, v, err = it.Next() {
				if err != nil {
					return err
				}
				if _, err := sw.Write([]byte{recEntry}); err != nil {
					return err
				}
				if err := writeUvarint(uint64(len(k))); err != nil {
					return err
				}
				if err := writeUvarint(uint64(len(v))); err != nil {
					return err
				}
				if _, err := sw.Write(k); err != nil {
					return err
				}
				if _, err := sw.Write(v); err != nil {
					return err
				}
			}
		}

		_, err = sw.Write([]byte{recEnd})
		return err
	})
	if err != nil {
		return errors.Wrap(err, "backup")
	}
	return errors.Wrap(sw.Close(), "flush backup stream")
}

// Restore loads a backup stream into the database. Restored buckets are
// merged into the current state; restoring into a fresh database yields an
// exact logical copy.
func (e *Engine) Restore(r io.Reader) error {
	var magic [len(backupMagic)]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return errors.Wrap(err, "read backup header")
	}
	if string(magic[:]) != backupMagic {
		return errors.Wrap(ErrCorrupted, "not an aspen backup stream")
	}

	sr := bufio.NewReader(snappy.NewReader(r))

	return e.Update(func(tx *Tx) error {
		var bucket *Bucket

		for {
			rec, err := sr.ReadByte()
			if err != nil {
				return errors.Wrap(err, "read backup record")
			}

			switch rec {
			case recBucket:
				name, err := readLengthPrefixed(sr)
				if err != nil {
					return err
				}
				bucket, err = tx.CreateBucketIfNotExists(string(name))
				if err != nil {
					return err
				}

			case recEntry:
				if bucket == nil {
					return errors.Wrap(ErrCorrupted, "backup entry before bucket record")
				}
				klen, err := binary.ReadUvarint(sr)
				if err != nil {
					return err
				}
				vlen, err := binary.ReadUvarint(sr)
				if err != nil {
					return err
				}
				k := make([]byte, klen)
				if _, err := io.ReadFull(sr, k); err != nil {
					return err
				}
				v := make([]byte, vlen)
				if _, err := io.ReadFull(sr, v); err != nil {
					return err
				}
				if err := bucket.Put(k, v); err != nil {
					return err
				}

			case recEnd:
				return nil

			default:
				return errors.Wrapf(ErrCorrupted, "unknown backup record %q", rec)
			}
		}
	})
}

func readLengthPrefixed(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(r, buf)
	return buf, err
}
