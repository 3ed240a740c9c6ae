package audit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Sink stores entries received by the collaborator.
type Sink interface {
	Write(e Entry) error
	Close() error
}

// FileSink appends one text line per entry.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFileSink opens path for appending, creating it if needed.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open audit log %s", path)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintln(s.f, e.String()); err != nil {
		return errors.Wrap(err, "append audit line")
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var (
	badgerSeqKey      = []byte("audit/seq")
	badgerEntryPrefix = []byte("audit/entry/")
)

// BadgerSink keeps entries in a Badger database, XDR encoded and keyed by
// a monotonically increasing sequence number.
type BadgerSink struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadgerSink opens (or creates) the database in dir.
func OpenBadgerSink(dir string) (*BadgerSink, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrapf(err, "open audit store %s", dir)
	}
	seq, err := db.GetSequence(badgerSeqKey, 128)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "audit sequence")
	}
	return &BadgerSink{db: db, seq: seq}, nil
}

func entryKey(n uint64) []byte {
	key := make([]byte, len(badgerEntryPrefix)+8)
	copy(key, badgerEntryPrefix)
	binary.BigEndian.PutUint64(key[len(badgerEntryPrefix):], n)
	return key
}

func (s *BadgerSink) Write(e Entry) error {
	n, err := s.seq.Next()
	if err != nil {
		return errors.Wrap(err, "next audit sequence")
	}

	var val bytes.Buffer
	if _, err := xdr.Marshal(&val, toArgs(e)); err != nil {
		return errors.Wrap(err, "encode audit entry")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(n), val.Bytes())
	})
	return errors.Wrap(err, "store audit entry")
}

// Recent returns up to n of the newest entries, oldest first.
func (s *BadgerSink) Recent(n int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = badgerEntryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, badgerEntryPrefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		for it.Seek(seek); it.Valid() && len(entries) < n; it.Next() {
			var args logArgs
			err := it.Item().Value(func(val []byte) error {
				_, err := xdr.Unmarshal(bytes.NewReader(val), &args)
				return err
			})
			if err != nil {
				return errors.Wrapf(err, "decode audit entry %x", it.Item().Key())
			}
			entries = append(entries, args.entry())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *BadgerSink) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return errors.Wrap(err, "release audit sequence")
	}
	return s.db.Close()
}
