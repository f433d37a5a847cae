// Package capture keeps recordings of BPIO2 link traffic in a bbolt
// database, one session per recording, and moves sessions in and out as
// compressed archives.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/andreyvit/flatbuf/link"
)

const (
	sessionsBucket = "sessions"
	framesRoot     = "frames"
	metaBucket     = "meta"
)

// lastSessionKey holds the highest session id ever allocated, so ids of
// deleted sessions are never handed out again.
var lastSessionKey = []byte("last_session")

var (
	ErrSessionNotFound = errors.New("capture: session not found")
	ErrCorrupt         = errors.New("capture: corrupt record")
)

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time

	// IsTesting trades durability for speed.
	IsTesting bool
	MmapSize  int
}

// SessionInfo describes a recorded session.
type SessionInfo struct {
	ID       uint64    `msgpack:"-"`
	Label    string    `msgpack:"l"`
	Started  time.Time `msgpack:"s"`
	Updated  time.Time `msgpack:"u"`
	Frames   uint64    `msgpack:"n"`
	Bytes    uint64    `msgpack:"b"`
	Sent     uint64    `msgpack:"tx"`
	Received uint64    `msgpack:"rx"`
}

func (si *SessionInfo) add(dir link.Direction, t time.Time, n int) {
	si.Frames++
	si.Bytes += uint64(n)
	switch dir {
	case link.Sent:
		si.Sent++
	case link.Received:
		si.Received++
	}
	if t.After(si.Updated) {
		si.Updated = t
	}
}

// Frame is one recorded frame. Data is only valid during the callback it is
// passed to.
type Frame struct {
	Seq  uint64
	Dir  link.Direction
	Time time.Time
	Data []byte
}

type Stats struct {
	Sessions int
	Frames   uint64
	Bytes    uint64
	Size     int64 // database size, 0 when unknown
}

type Store struct {
	st     storage
	logger *slog.Logger
	now    func() time.Time
}

func Open(path string, o Options) (*Store, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if o.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if o.MmapSize != 0 {
		bopt.InitialMmapSize = o.MmapSize
	}
	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return newStore(&boltStorage{bdb}, o), nil
}

// OpenMemory returns a store that lives in memory until closed.
func OpenMemory(o Options) *Store {
	return newStore(newMemStorage(), o)
}

func newStore(st storage, o Options) *Store {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Store{st: st, logger: o.Logger, now: o.Now}
}

func (s *Store) Close() error {
	return s.st.Close()
}

func (s *Store) read(f func(tx storageTx) error) error {
	tx, err := s.st.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func (s *Store) write(f func(tx storageTx) error) error {
	tx, err := s.st.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func loadInfo(tx storageTx, id uint64) (SessionInfo, error) {
	info := SessionInfo{ID: id}
	b := tx.Bucket(sessionsBucket, "")
	if b == nil {
		return info, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	raw := b.Get(idKey(id))
	if raw == nil {
		return info, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	err := decodeMsgpack(raw, &info)
	info.ID = id
	return info, err
}

func saveInfo(tx storageTx, info *SessionInfo) error {
	b, err := tx.CreateBucket(sessionsBucket, "")
	if err != nil {
		return err
	}
	raw, err := appendMsgpack(nil, info)
	if err != nil {
		return err
	}
	return b.Put(idKey(info.ID), raw)
}

// createSession allocates the next session id.
func createSession(tx storageTx, label string, started time.Time) (SessionInfo, error) {
	b, err := tx.CreateBucket(sessionsBucket, "")
	if err != nil {
		return SessionInfo{}, err
	}
	mb, err := tx.CreateBucket(metaBucket, "")
	if err != nil {
		return SessionInfo{}, err
	}
	var last uint64
	if v := mb.Get(lastSessionKey); len(v) == 8 {
		last = binary.BigEndian.Uint64(v)
	}
	if k, _ := b.Cursor().Last(); len(k) == 8 {
		last = max(last, binary.BigEndian.Uint64(k))
	}
	id := last + 1
	if err := mb.Put(lastSessionKey, idKey(id)); err != nil {
		return SessionInfo{}, err
	}
	info := SessionInfo{ID: id, Label: label, Started: started, Updated: started}
	if _, err := tx.CreateBucket(framesRoot, framesBucket(id)); err != nil {
		return info, err
	}
	return info, saveInfo(tx, &info)
}

func putFrame(tx storageTx, info *SessionInfo, buf []byte, dir link.Direction, t time.Time, frame []byte) ([]byte, error) {
	fb := tx.Bucket(framesRoot, framesBucket(info.ID))
	if fb == nil {
		return buf, fmt.Errorf("%w: %d", ErrSessionNotFound, info.ID)
	}
	buf, err := appendRecord(buf[:0], dir, t, frame)
	if err != nil {
		return buf, err
	}
	if err := fb.Put(idKey(info.Frames+1), buf); err != nil {
		return buf, err
	}
	info.add(dir, t, len(frame))
	return buf, saveInfo(tx, info)
}

// BeginSession starts a new recording. The session is a link.Recorder.
func (s *Store) BeginSession(label string) (*Session, error) {
	var info SessionInfo
	err := s.write(func(tx storageTx) error {
		var err error
		info, err = createSession(tx, label, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "capture: session started", slog.Uint64("session", info.ID), slog.String("label", label))
	return &Session{store: s, info: info}, nil
}

// Sessions lists all sessions in id order.
func (s *Store) Sessions() ([]SessionInfo, error) {
	var result []SessionInfo
	err := s.read(func(tx storageTx) error {
		b := tx.Bucket(sessionsBucket, "")
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			info := SessionInfo{ID: binary.BigEndian.Uint64(k)}
			if err := decodeMsgpack(v, &info); err != nil {
				return err
			}
			info.ID = binary.BigEndian.Uint64(k)
			result = append(result, info)
		}
		return nil
	})
	return result, err
}

func (s *Store) Session(id uint64) (SessionInfo, error) {
	var info SessionInfo
	err := s.read(func(tx storageTx) error {
		var err error
		info, err = loadInfo(tx, id)
		return err
	})
	return info, err
}

// Frames calls fn for every frame of the session in recording order,
// verifying each record's checksum. Iteration stops at the first error.
func (s *Store) Frames(id uint64, fn func(Frame) error) error {
	return s.read(func(tx storageTx) error {
		if _, err := loadInfo(tx, id); err != nil {
			return err
		}
		b := tx.Bucket(framesRoot, framesBucket(id))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			seq := binary.BigEndian.Uint64(k)
			h, data, err := parseRecord(v)
			if err != nil {
				return fmt.Errorf("session %d frame %d: %w", id, seq, err)
			}
			err = fn(Frame{Seq: seq, Dir: h.Dir, Time: time.Unix(0, h.Time), Data: data})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteSession(id uint64) error {
	err := s.write(func(tx storageTx) error {
		if _, err := loadInfo(tx, id); err != nil {
			return err
		}
		if err := tx.DeleteBucket(framesRoot, framesBucket(id)); err != nil && !errors.Is(err, errBucketNotFound) {
			return err
		}
		return tx.Bucket(sessionsBucket, "").Delete(idKey(id))
	})
	if err == nil {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "capture: session deleted", slog.Uint64("session", id))
	}
	return err
}

func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.read(func(tx storageTx) error {
		st.Size = tx.Size()
		b := tx.Bucket(sessionsBucket, "")
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var info SessionInfo
			if err := decodeMsgpack(v, &info); err != nil {
				return err
			}
			st.Sessions++
			st.Frames += info.Frames
			st.Bytes += info.Bytes
		}
		return nil
	})
	return st, err
}

// Session records frames into the store, one write transaction per frame.
type Session struct {
	store *Store

	mu   sync.Mutex
	info SessionInfo
	buf  []byte
}

var _ link.Recorder = (*Session)(nil)

func (ss *Session) ID() uint64 {
	return ss.info.ID
}

func (ss *Session) Info() SessionInfo {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.info
}

func (ss *Session) Record(dir link.Direction, frame []byte) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	info := ss.info
	err := ss.store.write(func(tx storageTx) error {
		var err error
		ss.buf, err = putFrame(tx, &info, ss.buf, dir, ss.store.now(), frame)
		return err
	})
	if err != nil {
		return err
	}
	ss.info = info
	return nil
}
