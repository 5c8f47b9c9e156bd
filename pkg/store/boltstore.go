package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

var bucketConversions = []byte("conversions")

// BoltStore is a BoltDB-backed Store, used as the local/test double for
// DynamoStore: same interface, no network access. Adapted from the teacher's
// pkg/storage/boltdb.go bucket-per-resource pattern, collapsed here to a
// single bucket since there is only one resource kind to persist.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "ec2-spot-converter.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}

	s := &BoltStore{db: db}
	if err := s.EnsureTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureTable creates the conversions bucket if it does not already exist.
func (s *BoltStore) EnsureTable() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConversions)
		return err
	})
}

func (s *BoltStore) Get(jobID string) (*types.ConversionRecord, error) {
	var rec types.ConversionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversions)
		data := b.Get([]byte(jobID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put persists rec. When force is false and the stored value is
// byte-for-byte identical to rec's JSON encoding, the write is skipped —
// this is the idempotent-write behavior spec.md §4.2.b names explicitly, kept
// here (rather than only in the Engine) so unit tests against BoltStore alone
// can assert it directly.
func (s *BoltStore) Put(rec *types.ConversionRecord, force bool) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.JobId, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversions)
		if !force {
			if existing := b.Get([]byte(rec.JobId)); existing != nil && string(existing) == string(data) {
				return nil
			}
		}
		return b.Put([]byte(rec.JobId), data)
	})
}

func (s *BoltStore) Delete(jobID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversions).Delete([]byte(jobID))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
