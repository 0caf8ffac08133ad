// Package bolt provides an embedded bbolt implementation of store.Store.
//
// Records are gob-encoded under their ID in a single bucket. Queries scan
// the bucket inside a read transaction, which is adequate for the mail
// volume of a single game server and keeps the file format trivial.
package bolt

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rbaliyan/playermail/store"
	bbolt "go.etcd.io/bbolt"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store on a bbolt file.
type Store struct {
	path   string
	opts   *options
	db     atomic.Pointer[bbolt.DB]
	bucket []byte
}

// New creates a store for the database file at path.
// Call Connect() to open the file and create the bucket.
func New(path string, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		path:   path,
		opts:   o,
		bucket: []byte(o.bucket),
	}
}

// Path returns the filesystem path of the database file.
func (s *Store) Path() string { return s.path }

// Connect opens the database file and ensures the bucket exists.
func (s *Store) Connect(_ context.Context) error {
	if s.db.Load() != nil {
		return store.ErrAlreadyConnected
	}
	if s.path == "" {
		return fmt.Errorf("bolt: path is required")
	}

	db, err := bbolt.Open(s.path, s.opts.fileMode, &bbolt.Options{Timeout: s.opts.timeout})
	if err != nil {
		return fmt.Errorf("bolt: open %s: %w", s.path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("bolt: create bucket: %w", err)
	}

	if !s.db.CompareAndSwap(nil, db) {
		db.Close()
		return store.ErrAlreadyConnected
	}
	s.opts.logger.Info("opened bbolt mail store", "path", s.path, "bucket", s.opts.bucket)
	return nil
}

// Close closes the database file.
func (s *Store) Close(_ context.Context) error {
	db := s.db.Swap(nil)
	if db == nil {
		return nil
	}
	return db.Close()
}

func (s *Store) conn() (*bbolt.DB, error) {
	db := s.db.Load()
	if db == nil {
		return nil, store.ErrNotConnected
	}
	return db, nil
}

// Insert persists a new record.
func (s *Store) Insert(_ context.Context, m *store.Mail) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := encodeMail(m)
	if err != nil {
		return fmt.Errorf("bolt: encode mail %s: %w", m.ID, err)
	}
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(m.ID)) != nil {
			return store.ErrDuplicateEntry
		}
		return b.Put([]byte(m.ID), data)
	})
}

// Update replaces an existing record.
func (s *Store) Update(_ context.Context, m *store.Mail) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if m.ID == "" {
		return store.ErrInvalidID
	}
	data, err := encodeMail(m)
	if err != nil {
		return fmt.Errorf("bolt: encode mail %s: %w", m.ID, err)
	}
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(m.ID)) == nil {
			return store.ErrNotFound
		}
		return b.Put([]byte(m.ID), data)
	})
}

// Delete removes a record.
func (s *Store) Delete(_ context.Context, id string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(id)) == nil {
			return store.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// Get returns the record with the given ID.
func (s *Store) Get(_ context.Context, id string) (*store.Mail, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	var m *store.Mail
	err = db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(id))
		if v == nil {
			return store.ErrNotFound
		}
		var derr error
		m, derr = decodeMail(v)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Find returns matching records in the requested order.
func (s *Store) Find(_ context.Context, filters []store.Filter, opts store.ListOptions) ([]*store.Mail, error) {
	var out []*store.Mail
	err := s.scan(filters, func(m *store.Mail) {
		out = append(out, m)
	})
	if err != nil {
		return nil, err
	}
	return store.SortAndPage(out, opts), nil
}

// Count returns the number of matching records.
func (s *Store) Count(_ context.Context, filters []store.Filter) (int64, error) {
	var n int64
	err := s.scan(filters, func(*store.Mail) { n++ })
	return n, err
}

func (s *Store) scan(filters []store.Filter, fn func(*store.Mail)) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			m, err := decodeMail(v)
			if err != nil {
				// Skip the record rather than failing every listing.
				s.opts.logger.Warn("skipping undecodable mail record", "key", string(k), "error", err)
				return nil
			}
			if store.MatchAll(m, filters) {
				fn(m)
			}
			return nil
		})
	})
}

var errEmptyRecord = errors.New("bolt: empty record")

func encodeMail(m *store.Mail) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMail(data []byte) (*store.Mail, error) {
	if len(data) == 0 {
		return nil, errEmptyRecord
	}
	var m store.Mail
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
