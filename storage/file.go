package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var valuesBucket = []byte("client_state")

// File is a Store kept in a single bolt database on local disk
type File struct {
	db *bolt.DB
}

// NewFile opens (creating if needed) the bolt file at path
func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(valuesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &File{db: db}, nil
}

func (f *File) Get(_ context.Context, key string) (string, error) {
	var out string
	err := f.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(valuesBucket).Get([]byte(key)); v != nil {
			out = string(v)
		}
		return nil
	})
	return out, err
}

func (f *File) Set(_ context.Context, key, value string) error {
	return f.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).Put([]byte(key), []byte(value))
	})
}

func (f *File) Delete(_ context.Context, key string) error {
	return f.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).Delete([]byte(key))
	})
}

// Close releases the file lock
func (f *File) Close() error {
	return f.db.Close()
}
