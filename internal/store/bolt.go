package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
)

var (
	bucketBoards      = []byte("boards")
	bucketEntities    = []byte("entities")
	bucketConnections = []byte("connections")
)

// Bolt is an on-disk Persistence implementation backed by a single BoltDB
// file, one reference implementation of the opaque key-value store
// language in spec §1/§6.3. Entity and connection keys are namespaced by
// board id (`boardID + "/" + id`) inside their respective buckets, since
// BoltDB buckets are flat.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) a BoltDB file at path and ensures
// its buckets exist.
func OpenBolt(path string) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBoards, bucketEntities, bucketConnections} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %q: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func namespacedKey(boardID, id string) []byte {
	return []byte(boardID + "/" + id)
}

func (s *Bolt) LoadBoard(_ context.Context, boardID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBoards).Get([]byte(boardID))
		if v == nil {
			return &Error{Op: "LoadBoard", Key: boardID, Message: "not found"}
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

func (s *Bolt) SaveBoard(_ context.Context, boardID string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBoards).Put([]byte(boardID), data)
	})
}

func (s *Bolt) LoadEntity(_ context.Context, boardID, entityID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntities).Get(namespacedKey(boardID, entityID))
		if v == nil {
			return &Error{Op: "LoadEntity", Key: entityID, Message: "not found"}
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

func (s *Bolt) SaveEntity(_ context.Context, boardID, entityID string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntities).Put(namespacedKey(boardID, entityID), data)
	})
}

func (s *Bolt) DeleteEntity(_ context.Context, boardID, entityID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntities).Delete(namespacedKey(boardID, entityID))
	})
}

func (s *Bolt) ListEntities(_ context.Context, boardID string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	prefix := []byte(boardID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntities).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			id := string(k[len(prefix):])
			out[id] = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *Bolt) LoadConnection(_ context.Context, boardID, connectionID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketConnections).Get(namespacedKey(boardID, connectionID))
		if v == nil {
			return &Error{Op: "LoadConnection", Key: connectionID, Message: "not found"}
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

func (s *Bolt) SaveConnection(_ context.Context, boardID, connectionID string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConnections).Put(namespacedKey(boardID, connectionID), data)
	})
}

func (s *Bolt) DeleteConnection(_ context.Context, boardID, connectionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConnections).Delete(namespacedKey(boardID, connectionID))
	})
}

func (s *Bolt) ListConnections(_ context.Context, boardID string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	prefix := []byte(boardID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketConnections).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			id := string(k[len(prefix):])
			out[id] = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *Bolt) Close() error { return s.db.Close() }

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

var _ Store = (*Bolt)(nil)
