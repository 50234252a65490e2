package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const watermarkBucket = "watermarks"

// boltStore implements a Store backed by BoltDB; values use the state file's JSON encoding.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string) (*boltStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(watermarkBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}
	return &boltStore{db: db}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Get returns the stored watermark for fid, zero when absent.
func (b *boltStore) Get(fid int) (domain.Watermark, error) {
	var w domain.Watermark
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(watermarkBucket))
		if bucket == nil {
			return fmt.Errorf("watermark bucket missing")
		}
		value := bucket.Get([]byte(strconv.Itoa(fid)))
		if value == nil {
			return nil
		}
		var err error
		w, err = decodeWatermark(value)
		return err
	})
	return w, err
}

// Put merges w into the stored watermark inside one transaction.
func (b *boltStore) Put(fid int, w domain.Watermark) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(watermarkBucket))
		if bucket == nil {
			return fmt.Errorf("watermark bucket missing")
		}
		key := []byte(strconv.Itoa(fid))
		current, err := decodeWatermark(bucket.Get(key))
		if err != nil {
			return err
		}
		data, err := json.Marshal(current.Merge(w))
		if err != nil {
			return fmt.Errorf("encode watermark: %w", err)
		}
		return bucket.Put(key, data)
	})
}

// All returns every stored watermark.
func (b *boltStore) All() (map[int]domain.Watermark, error) {
	out := map[int]domain.Watermark{}
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(watermarkBucket))
		if bucket == nil {
			return fmt.Errorf("watermark bucket missing")
		}
		return bucket.ForEach(func(k, v []byte) error {
			fid, err := strconv.Atoi(string(k))
			if err != nil {
				return nil
			}
			w, err := decodeWatermark(v)
			if err != nil {
				return fmt.Errorf("section %d: %w", fid, err)
			}
			out[fid] = w
			return nil
		})
	})
	return out, err
}
