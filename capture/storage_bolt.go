package capture

import (
	"errors"
	"unsafe"

	"go.etcd.io/bbolt"
)

type boltStorage struct {
	bdb *bbolt.DB
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltTx struct {
	btx *bbolt.Tx
}

func (tx *boltTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltTx) Bucket(name, sub string) storageBucket {
	root := tx.btx.Bucket(stringBytes(name))
	if root == nil {
		return nil
	}
	if sub == "" {
		return boltBucket{root}
	}
	if leaf := root.Bucket(stringBytes(sub)); leaf != nil {
		return boltBucket{leaf}
	}
	return nil
}

func (tx *boltTx) CreateBucket(name, sub string) (storageBucket, error) {
	root, err := tx.btx.CreateBucketIfNotExists(stringBytes(name))
	if err != nil {
		return nil, err
	}
	if sub == "" {
		return boltBucket{root}, nil
	}
	leaf, err := root.CreateBucketIfNotExists(stringBytes(sub))
	if err != nil {
		return nil, err
	}
	return boltBucket{leaf}, nil
}

func (tx *boltTx) DeleteBucket(name, sub string) error {
	root := tx.btx.Bucket(stringBytes(name))
	if root == nil || sub == "" {
		return errBucketNotFound
	}
	err := root.DeleteBucket(stringBytes(sub))
	if errors.Is(err, bbolt.ErrBucketNotFound) {
		return errBucketNotFound
	}
	return err
}

func (tx *boltTx) Commit() error { return tx.btx.Commit() }

func (tx *boltTx) Rollback() error {
	err := tx.btx.Rollback()
	if errors.Is(err, bbolt.ErrTxClosed) {
		return nil
	}
	return err
}

func (tx *boltTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte { return b.b.Get(key) }
func (b boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }
func (b boltBucket) Delete(key []byte) error { return b.b.Delete(key) }
func (b boltBucket) Cursor() storageCursor { return b.b.Cursor() }
func (b boltBucket) KeyCount() int { return b.b.Stats().KeyN }

// stringBytes is only used for bucket names, which bbolt copies.
func stringBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
