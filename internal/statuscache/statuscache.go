// Package statuscache maintains a small read-side cache of recent trace
// rows in an embedded bbolt database, repurposing the teacher's
// checkpoint store as a read-side cache rather than cross-restart
// coordinator state: spec.md 6 names "Persisted state: none across
// restarts" for the coordinator itself, and this cache is never read back
// into the coordinator's decision path. Rows are read back only through
// Recent; the coordinator's /status HTTP handler does not read this cache.
package statuscache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("recent_trace")

// Row is one cached trace row, JSON-encoded as the bucket value.
type Row struct {
	Timestamp time.Time `json:"timestamp"`
	Target    float64   `json:"target"`
	Cap       float64   `json:"cap"`
	Measured  float64   `json:"measured"`
}

// Cache is a bounded ring buffer of the most recent rows, persisted in
// bbolt; Recent reads them back without touching the bookkeeping mutex
// that guards live coordinator state.
type Cache struct {
	db       *bbolt.DB
	capacity int
	next     uint64
}

// Open opens (creating if absent) the bbolt file at path, bounding the
// cache to capacity rows.
func Open(path string, capacity int) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("statuscache: opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("statuscache: creating bucket: %w", err)
	}

	return &Cache{db: db, capacity: capacity}, nil
}

// Append records one row, evicting the oldest once capacity is exceeded.
func (c *Cache) Append(r Row) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("statuscache: marshaling row: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, c.next)
		c.next++
		if err := b.Put(key, data); err != nil {
			return err
		}

		if c.capacity <= 0 {
			return nil
		}
		return evictOldest(b, c.capacity)
	})
}

func evictOldest(b *bbolt.Bucket, capacity int) error {
	count := b.Stats().KeyN
	if count <= capacity {
		return nil
	}
	cursor := b.Cursor()
	for k, _ := cursor.First(); k != nil && count > capacity; k, _ = cursor.Next() {
		if err := b.Delete(k); err != nil {
			return err
		}
		count--
	}
	return nil
}

// Recent returns up to n most-recently-appended rows, oldest first.
func (c *Cache) Recent(n int) ([]Row, error) {
	var rows []Row
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		cursor := b.Cursor()

		var all []Row
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var r Row
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			all = append(all, r)
		}
		if n > 0 && len(all) > n {
			all = all[len(all)-n:]
		}
		rows = all
		return nil
	})
	return rows, err
}

// Close closes the underlying bbolt database.
func (c *Cache) Close() error {
	return c.db.Close()
}
