// Package store keeps a journal of received readings in BoltDB.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"ArduinoLink/internal/model"
)

// DefaultBucket holds readings when no bucket name is configured.
const DefaultBucket = "readings"

// Journal appends readings under monotonically increasing keys.
type Journal struct {
	db     *bbolt.DB
	bucket []byte
}

// Open opens or creates the journal at path.
func Open(path, bucket string) (*Journal, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("[store] failed to create %s: %w", dir, err)
		}
	}
	db, err := bbolt.Open(path, 0o666, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("[store] failed to open BoltDB: %w", err)
	}
	j := &Journal{db: db, bucket: []byte(bucket)}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(j.bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[store] failed to create bucket %s: %w", bucket, err)
	}
	return j, nil
}

// Append stores r after all previous readings.
func (j *Journal) Append(r model.Reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(j.bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), body)
	})
}

// Latest returns the most recent reading. ok is false when the journal is empty.
func (j *Journal) Latest() (r model.Reading, ok bool, err error) {
	err = j.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(j.bucket).Cursor().Last()
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &r)
	})
	return r, ok, err
}

// Recent returns up to n readings, oldest first.
func (j *Journal) Recent(n int) ([]model.Reading, error) {
	var out []model.Reading
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(j.bucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var r model.Reading
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}
