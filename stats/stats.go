// Package stats implements a hit counter for served paths on top of bbolt.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	bolt "go.etcd.io/bbolt"
)

const hitsBucket = "hits"

// ErrNotConnected is returned when the database has not been opened.
var ErrNotConnected = errors.New("stats database is not connected")

// Hit is the stored record of one path.
type Hit struct {
	Path       string    `json:"-"`
	Count      uint64    `json:"count"`
	LastStatus int       `json:"lastStatus"`
	LastServed time.Time `json:"lastServed"`
}

// Service is a service that interacts with the database.
type Service struct {
	db     *bolt.DB
	logger *log.Logger
	now    func() time.Time
}

// Connect opens the database and makes sure the hits bucket exists.
func (s *Service) Connect(dbName string, mode os.FileMode, options *bolt.Options) (err error) {
	s.db, err = bolt.Open(dbName, mode, options)
	if err != nil {
		return fmt.Errorf("open %s: %w", dbName, err)
	}
	if options != nil && options.ReadOnly {
		return nil
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(hitsBucket))
		return err
	})
	if err != nil {
		_ = s.db.Close()
		s.db = nil
		return fmt.Errorf("create bucket %q: %w", hitsBucket, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Service) Close() error {
	if s.db == nil {
		return ErrNotConnected
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SetLogger sets the logger.
func (s *Service) SetLogger(logger *log.Logger) {
	s.logger = logger
}

func (s *Service) timeNow() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// RecordHit increments the counter of path and remembers the status.
func (s *Service) RecordHit(path string, status int) error {
	if s.db == nil {
		return ErrNotConnected
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(hitsBucket))
		if b == nil {
			return fmt.Errorf("bucket %q does not exist", hitsBucket)
		}

		var hit Hit
		if v := b.Get([]byte(path)); v != nil {
			if err := json.Unmarshal(v, &hit); err != nil {
				if s.logger != nil {
					s.logger.Warn("Resetting unreadable hit record", "path", path, "err", err)
				}
				hit = Hit{}
			}
		}
		hit.Count++
		hit.LastStatus = status
		hit.LastServed = s.timeNow()

		value, err := json.Marshal(hit)
		if err != nil {
			return fmt.Errorf("marshal hit: %w", err)
		}
		if err := b.Put([]byte(path), value); err != nil {
			return fmt.Errorf("put %q: %w", path, err)
		}
		return nil
	})
}

// Hits returns every stored record, most requested first.
func (s *Service) Hits() ([]Hit, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}

	var hits []Hit
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(hitsBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var hit Hit
			if err := json.Unmarshal(v, &hit); err != nil {
				return fmt.Errorf("unmarshal %q: %w", k, err)
			}
			hit.Path = string(k)
			hits = append(hits, hit)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Count != hits[j].Count {
			return hits[i].Count > hits[j].Count
		}
		return hits[i].Path < hits[j].Path
	})
	return hits, nil
}

// Reset deletes all the records.
func (s *Service) Reset() error {
	if s.db == nil {
		return ErrNotConnected
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(hitsBucket)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("delete bucket %q: %w", hitsBucket, err)
		}
		_, err := tx.CreateBucket([]byte(hitsBucket))
		return err
	})
}
