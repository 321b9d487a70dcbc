package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/oauth2"
)

const (
	boltBucketAuth = "auth" // token and profile
	boltKeyToken   = "token"
	boltKeyProfile = "profile"
)

// BoltStore persists credentials and the cached profile in a bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the state file at path with owner-only
// permissions.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucketAuth))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state file: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) Load(ctx context.Context) (*oauth2.Token, error) {
	data, err := b.get(boltKeyToken)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNoToken
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode stored token: %w", err)
	}
	return &tok, nil
}

func (b *BoltStore) Save(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("token is nil")
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return b.put(boltKeyToken, data)
}

// Clear removes the token and the cached profile.
func (b *BoltStore) Clear(ctx context.Context) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucketAuth))
		if err := bucket.Delete([]byte(boltKeyToken)); err != nil {
			return err
		}
		return bucket.Delete([]byte(boltKeyProfile))
	})
}

// SaveProfile stores the raw profile JSON next to the token.
func (b *BoltStore) SaveProfile(profile []byte) error {
	return b.put(boltKeyProfile, profile)
}

// LoadProfile returns the stored profile JSON, or nil when absent.
func (b *BoltStore) LoadProfile() ([]byte, error) {
	return b.get(boltKeyProfile)
}

func (b *BoltStore) get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(boltBucketAuth)).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (b *BoltStore) put(key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketAuth)).Put([]byte(key), value)
	})
}
