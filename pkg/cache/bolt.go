package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	boltRegistryBucket = []byte("registry")
	boltMetaBucket     = []byte("registry_meta")
	boltRegistryExpiry = []byte("expires_at")
)

// BoltOptions configures a BoltBackend.
type BoltOptions struct {
	// Bucket is the name of the Bolt bucket holding cache entries (default "cache")
	Bucket string

	// Timeout bounds waiting for the file lock (default 1s)
	Timeout time.Duration
}

// BoltBackend is a single-node durable tier stored in a bbolt file.
// Values are laid out as 8 bytes big endian expiry (unix nanos, 0 = never)
// followed by the raw value.
type BoltBackend struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBolt opens or creates a Bolt database at path.
func OpenBolt(path string, opts BoltOptions) (*BoltBackend, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	bucket := []byte("cache")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucket, boltRegistryBucket, boltMetaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}
	return &BoltBackend{db: db, bucket: bucket}, nil
}

// Name implements Backend.
func (b *BoltBackend) Name() string { return "bolt" }

// Get implements Backend.
func (b *BoltBackend) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	var expired bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get([]byte(key))
		if v == nil || len(v) < 8 {
			return nil
		}
		if expiresAt := int64(binary.BigEndian.Uint64(v[:8])); expiresAt > 0 && time.Now().UnixNano() > expiresAt {
			expired = true
			return nil
		}
		out = append([]byte{}, v[8:]...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt get: %w", err)
	}
	if expired {
		// Lazily drop the stale value; a failure here only leaves garbage behind.
		_ = b.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(b.bucket).Delete([]byte(key))
		})
		return nil, ErrCacheMiss
	}
	if out == nil {
		return nil, ErrCacheMiss
	}
	return out, nil
}

// Set implements Backend. A ttl <= 0 stores the value without expiry.
func (b *BoltBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)

	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), buf)
	}); err != nil {
		return fmt.Errorf("bolt put: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (b *BoltBackend) Delete(_ context.Context, key string) error {
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("bolt delete: %w", err)
	}
	return nil
}

// Ping implements Backend.
func (b *BoltBackend) Ping(context.Context) error {
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(b.bucket) == nil {
			return fmt.Errorf("bolt bucket %q missing", b.bucket)
		}
		return nil
	})
}

// Close closes the underlying database.
func (b *BoltBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Registry returns a Registry stored in the same database.
func (b *BoltBackend) Registry() *BoltRegistry {
	return &BoltRegistry{db: b.db}
}

// BoltRegistry stores registered keys in their own bucket. The registry-wide
// expiry lives in a meta bucket and is refreshed on every Add.
type BoltRegistry struct {
	db *bolt.DB
}

// Add implements Registry.
func (r *BoltRegistry) Add(_ context.Context, key string, ttl time.Duration) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		if err := r.expireTx(tx); err != nil {
			return err
		}
		if err := tx.Bucket(boltRegistryBucket).Put([]byte(key), []byte{1}); err != nil {
			return err
		}
		var expiresAt int64
		if ttl > 0 {
			expiresAt = time.Now().Add(ttl).UnixNano()
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(expiresAt))
		return tx.Bucket(boltMetaBucket).Put(boltRegistryExpiry, buf)
	})
	if err != nil {
		return fmt.Errorf("bolt registry add: %w", err)
	}
	return nil
}

// Remove implements Registry.
func (r *BoltRegistry) Remove(_ context.Context, key string) error {
	if err := r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltRegistryBucket).Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("bolt registry remove: %w", err)
	}
	return nil
}

// Members implements Registry.
func (r *BoltRegistry) Members(context.Context) ([]string, error) {
	var members []string
	err := r.db.View(func(tx *bolt.Tx) error {
		if registryExpired(tx) {
			return nil
		}
		return tx.Bucket(boltRegistryBucket).ForEach(func(k, _ []byte) error {
			members = append(members, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt registry members: %w", err)
	}
	return members, nil
}

// Clear implements Registry.
func (r *BoltRegistry) Clear(context.Context) error {
	if err := r.db.Update(clearRegistryTx); err != nil {
		return fmt.Errorf("bolt registry clear: %w", err)
	}
	return nil
}

func (r *BoltRegistry) expireTx(tx *bolt.Tx) error {
	if registryExpired(tx) {
		return clearRegistryTx(tx)
	}
	return nil
}

func registryExpired(tx *bolt.Tx) bool {
	v := tx.Bucket(boltMetaBucket).Get(boltRegistryExpiry)
	if len(v) != 8 {
		return false
	}
	expiresAt := int64(binary.BigEndian.Uint64(v))
	return expiresAt > 0 && time.Now().UnixNano() > expiresAt
}

func clearRegistryTx(tx *bolt.Tx) error {
	if tx.Bucket(boltRegistryBucket) != nil {
		if err := tx.DeleteBucket(boltRegistryBucket); err != nil {
			return err
		}
	}
	if _, err := tx.CreateBucket(boltRegistryBucket); err != nil {
		return err
	}
	return tx.Bucket(boltMetaBucket).Delete(boltRegistryExpiry)
}
