// Package boltstore provides an on-disk state backend on boltdb
package boltstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/hugolhafner/go-streams-runtime/state"
)

var (
	dataBucket  = []byte("data")
	metaBucket  = []byte("meta")
	positionKey = []byte("changelog-position")
)

var (
	_ state.Backend      = (*Backend)(nil)
	_ state.Checkpointer = (*Backend)(nil)
)

type Config struct {
	// LockTimeout bounds how long Open waits for another owner to release the file
	LockTimeout time.Duration
	// SyncOnFlush defers fsync from every write to Flush
	SyncOnFlush bool
	FileMode    os.FileMode
}

type Option func(*Config)

func WithLockTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.LockTimeout = d
	}
}

func WithSyncOnEveryWrite() Option {
	return func(c *Config) {
		c.SyncOnFlush = false
	}
}

func defaultConfig() Config {
	return Config{
		LockTimeout: 100 * time.Millisecond,
		SyncOnFlush: true,
		FileMode:    0o600,
	}
}

type Backend struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the database at path. If another owner holds the file past the
// lock timeout, the error wraps state.ErrStoreLocked.
func Open(path string, opts ...Option) (*Backend, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := bolt.Open(path, config.FileMode, &bolt.Options{Timeout: config.LockTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", state.ErrStoreLocked, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.NoSync = config.SyncOnFlush

	err = db.Update(
		func(tx *bolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(dataBucket); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists(metaBucket)
			return err
		},
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets in %s: %w", path, err)
	}

	return &Backend{db: db, path: path}, nil
}

// Supplier opens <StateDir>/<TaskID>/<StoreName>.db
func Supplier(opts ...Option) state.BackendSupplier {
	return func(ctx state.BackendContext) (state.Backend, error) {
		if ctx.StateDir == "" {
			return nil, errors.New("boltstore needs a state directory")
		}
		return Open(filepath.Join(ctx.StateDir, ctx.TaskID, ctx.StoreName+".db"), opts...)
	}
}

func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) Get(key []byte) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)

	err := b.db.View(
		func(tx *bolt.Tx) error {
			v := tx.Bucket(dataBucket).Get(key)
			if v != nil {
				value = append([]byte{}, v...)
				found = true
			}
			return nil
		},
	)
	return value, found, err
}

func (b *Backend) Put(key, value []byte) error {
	return b.db.Update(
		func(tx *bolt.Tx) error {
			return tx.Bucket(dataBucket).Put(key, value)
		},
	)
}

func (b *Backend) Delete(key []byte) error {
	return b.db.Update(
		func(tx *bolt.Tx) error {
			return tx.Bucket(dataBucket).Delete(key)
		},
	)
}

func (b *Backend) Range(from, to []byte, fn func(key, value []byte) bool) error {
	return b.db.View(
		func(tx *bolt.Tx) error {
			c := tx.Bucket(dataBucket).Cursor()

			var k, v []byte
			if from == nil {
				k, v = c.First()
			} else {
				k, v = c.Seek(from)
			}

			for ; k != nil; k, v = c.Next() {
				if to != nil && bytes.Compare(k, to) >= 0 {
					return nil
				}
				if !fn(append([]byte{}, k...), append([]byte{}, v...)) {
					return nil
				}
			}
			return nil
		},
	)
}

func (b *Backend) Position() (int64, bool, error) {
	var (
		pos   int64
		found bool
	)

	err := b.db.View(
		func(tx *bolt.Tx) error {
			v := tx.Bucket(metaBucket).Get(positionKey)
			if v == nil {
				return nil
			}
			if len(v) != 8 {
				return fmt.Errorf("corrupt checkpoint of %d bytes", len(v))
			}
			pos = int64(binary.BigEndian.Uint64(v))
			found = true
			return nil
		},
	)
	return pos, found, err
}

func (b *Backend) SetPosition(offset int64) error {
	err := b.db.Update(
		func(tx *bolt.Tx) error {
			return tx.Bucket(metaBucket).Put(positionKey, binary.BigEndian.AppendUint64(nil, uint64(offset)))
		},
	)
	if err != nil {
		return err
	}
	return b.db.Sync()
}

func (b *Backend) Flush() error {
	return b.db.Sync()
}

func (b *Backend) Close() error {
	return b.db.Close()
}
