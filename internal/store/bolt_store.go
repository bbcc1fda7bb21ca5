package store

import (
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"parley/internal/domain"
)

// Logical stores kept in the client database.
const (
	AuthBucket     = "auth"
	ContactsBucket = "contacts"
	SessionsBucket = "sessions"
)

var buckets = []string{AuthBucket, ContactsBucket, SessionsBucket}

// BoltStore is the key-value persistence collaborator, one bucket per
// logical store.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt creates (or loads) the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: create buckets")
	}
	return &BoltStore{db: db}, nil
}

// Get returns a copy of the value stored under key.
func (s *BoltStore) Get(bucket, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt, err := lookup(tx, bucket)
		if err != nil {
			return err
		}
		if v := bkt.Get([]byte(key)); v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// Put stores value under key.
func (s *BoltStore) Put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := lookup(tx, bucket)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(key), value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BoltStore) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := lookup(tx, bucket)
		if err != nil {
			return err
		}
		return bkt.Delete([]byte(key))
	})
}

// Close flushes and closes the database.
func (s *BoltStore) Close() error {
	if err := s.db.Sync(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

func lookup(tx *bolt.Tx, bucket string) (*bolt.Bucket, error) {
	bkt := tx.Bucket([]byte(bucket))
	if bkt == nil {
		return nil, errors.Errorf("store: unknown bucket %q", bucket)
	}
	return bkt, nil
}

var _ domain.KeyValueStore = (*BoltStore)(nil)
