package capture

import "errors"

var errBucketNotFound = errors.New("capture: bucket not found")

// storage is a sorted key-value backend: bbolt on disk, or memory for tests.
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns a root bucket (sub == "") or a bucket nested in it, or
	// nil if it does not exist.
	Bucket(name, sub string) storageBucket

	// CreateBucket creates the bucket, and its root for sub != "", if needed.
	CreateBucket(name, sub string) (storageBucket, error)

	// DeleteBucket deletes a nested bucket.
	DeleteBucket(name, sub string) error

	Commit() error

	// Rollback is safe to call after Commit.
	Rollback() error

	// Size is the database size in bytes, 0 if unknown.
	Size() int64
}

type storageBucket interface {
	// Get returns nil for a missing key. The value is only valid during the
	// transaction.
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() storageCursor
	KeyCount() int
}

type storageCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)
}
