// Package wirelog writes raw link traffic to append-only segment files.
//
// A Log is a link.Recorder. It keeps appending to the current segment until
// the segment reaches MaxFileSize, then starts the next one. Nothing is ever
// rewritten, so a wire log survives a crash of the process that wrote it: the
// reader stops at the first damaged record of a segment and goes on with the
// next segment.
//
// File format:
//
//   - file = segmentHeader record*
//   - segmentHeader = magic:64 version:8 pad:24 segment:32 started:64 firstRecord:64 reserved:64*3 checksum:64
//   - record = size:uvarint dir:8 delta:uvarint bytes* checksum:64
//
// started is in unix microseconds, delta is the microseconds since the
// previous record (or segment start). Checksums are xxhash64 over everything
// from the start of the file, so every record also vouches for the ones
// before it.
package wirelog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/flatbuf/link"
	"github.com/andreyvit/flatbuf/mmap"
)

var (
	ErrUnsupportedVersion = errors.New("wirelog: unsupported version")
	ErrClosed             = errors.New("wirelog: closed")
	errCorruptedFile      = errors.New("wirelog: corrupted segment")
)

type Options struct {
	FileName    string // e.g. "bpio-*.wlog"
	MaxFileSize int64  // new segment after this size
	Now         func() time.Time
	Logger      *slog.Logger

	// Sync flushes every record to stable storage before Record returns.
	Sync bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x474f4c574f495042 // "BPIOWLOG" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 8 * 8

type segmentHeader struct {
	Magic          uint64
	Version        uint8
	_              [3]uint8
	SegmentOrdinal uint32
	Started        int64
	FirstRecord    uint64
	_              [3]uint64
	Checksum       uint64
}

const timestampFmt = "20060102T150405"

// Log appends frames to a directory of segments.
type Log struct {
	dir            string
	fileNamePrefix string
	fileNameSuffix string
	maxFileSize    int64
	now            func() time.Time
	logger         *slog.Logger
	sync           bool

	mu       sync.Mutex
	err      error
	closed   bool
	writeSeg uint32
	writeRec uint64
	w        *segmentWriter
}

var _ link.Recorder = (*Log)(nil)

func fillDefaults(o *Options) {
	if o.FileName == "" {
		o.FileName = "bpio-*.wlog"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Open prepares dir for writing, creating it if needed. New records go to a
// fresh segment numbered after the last one already present.
func Open(dir string, o Options) (*Log, error) {
	fillDefaults(&o)
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, err
	}
	l := &Log{
		dir:            dir,
		fileNamePrefix: prefix,
		fileNameSuffix: suffix,
		maxFileSize:    o.MaxFileSize,
		now:            o.Now,
		logger:         o.Logger,
		sync:           o.Sync,
	}
	names, err := segmentNames(dir, prefix, suffix)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		last := names[len(names)-1]
		seg, _, rec, err := parseSegmentName(last, prefix, suffix)
		if err != nil {
			return nil, err
		}
		l.writeSeg = seg
		l.writeRec = rec - 1
		err = readSegment(filepath.Join(dir, last), seg, func(e Entry) error {
			l.writeRec = e.Seq
			return nil
		})
		if err != nil && !errors.Is(err, errCorruptedFile) {
			return nil, err
		}
	}
	return l, nil
}

func segmentNames(dir, prefix, suffix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		name := ent.Name()
		if !ent.Type().IsRegular() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		if _, _, _, err := parseSegmentName(name, prefix, suffix); err != nil {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Segments lists the segment files in write order.
func (l *Log) Segments() ([]string, error) {
	return segmentNames(l.dir, l.fileNamePrefix, l.fileNameSuffix)
}

func (l *Log) fail(err error) error {
	if err == nil {
		return nil
	}
	l.logger.LogAttrs(context.Background(), slog.LevelError, "wirelog: failed", slog.String("dir", l.dir), slog.Any("err", err))
	if l.w != nil {
		l.w.close()
		l.w = nil
	}
	if l.err == nil {
		l.err = err
	}
	return err
}

// Record appends one frame. After a write error the log stays failed and
// returns that error.
func (l *Log) Record(dir link.Direction, frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.err != nil {
		return l.err
	}

	now := l.now()
	l.writeRec++
	if l.w != nil && l.w.size >= l.maxFileSize {
		if err := l.w.close(); err != nil {
			return l.fail(err)
		}
		l.w = nil
	}
	if l.w == nil {
		l.writeSeg++
		w, err := l.startSegment(l.writeSeg, now, l.writeRec)
		if err != nil {
			return l.fail(err)
		}
		l.w = w
	}
	if err := l.w.writeRecord(dir, now, frame); err != nil {
		return l.fail(err)
	}
	if l.sync {
		return l.fail(mmap.Fdatasync(l.w.f, nil))
	}
	return nil
}

// Rotate makes the next record start a new segment.
func (l *Log) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.close()
	l.w = nil
	return l.fail(err)
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.w == nil {
		return nil
	}
	err := l.w.close()
	l.w = nil
	return err
}

type segmentWriter struct {
	f    *os.File
	last int64 // unix micros of the previous record
	size int64
	hash xxhash.Digest
	buf  []byte
}

func (l *Log) startSegment(seg uint32, now time.Time, rec uint64) (*segmentWriter, error) {
	name := formatSegmentName(l.fileNamePrefix, l.fileNameSuffix, seg, now, rec)
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	w := &segmentWriter{f: f, last: now.UnixMicro(), size: segmentHeaderSize}
	w.hash.Reset()
	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], seg, now.UnixMicro(), rec, &w.hash)
	if _, err := f.Write(hbuf[:]); err != nil {
		return nil, err
	}
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "wirelog: new segment", slog.String("file", name))
	ok = true
	return w, nil
}

const maxRecHeaderLen = 2*binary.MaxVarintLen64 + 1

func (w *segmentWriter) writeRecord(dir link.Direction, now time.Time, data []byte) error {
	var delta uint64
	if ts := now.UnixMicro(); ts > w.last {
		delta = uint64(ts - w.last)
		w.last = ts
	}

	b := slices.Grow(w.buf[:0], maxRecHeaderLen+len(data)+8)
	b = binary.AppendUvarint(b, uint64(len(data)))
	b = append(b, byte(dir))
	b = binary.AppendUvarint(b, delta)
	b = append(b, data...)
	w.hash.Write(b)
	b = binary.LittleEndian.AppendUint64(b, w.hash.Sum64())
	w.hash.Write(b[len(b)-8:])
	w.buf = b

	n, err := w.f.Write(b)
	w.size += int64(n)
	return err
}

func (w *segmentWriter) close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, seg uint32, started int64, rec uint64, hash *xxhash.Digest) {
	h := segmentHeader{
		Magic:          magic,
		Version:        version0,
		SegmentOrdinal: seg,
		Started:        started,
		FirstRecord:    rec,
	}
	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}
	hash.Write(buf[:segmentHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], hash.Sum64())
	hash.Write(buf[segmentHeaderSize-8:])
}

func formatSegmentName(prefix, suffix string, seg uint32, t time.Time, rec uint64) string {
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seg, t.UTC().Format(timestampFmt), rec, suffix)
}

func parseSegmentName(name, prefix, suffix string) (seg uint32, ts time.Time, rec uint64, err error) {
	core, ok := strings.CutPrefix(name, prefix)
	if ok {
		core, ok = strings.CutSuffix(core, suffix)
	}
	if !ok {
		return 0, ts, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	segStr, rem, ok := strings.Cut(core, "-")
	if !ok {
		return 0, ts, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(segStr, 10, 32)
	if err != nil {
		return 0, ts, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seg = uint32(v)

	tsStr, recStr, ok := strings.Cut(rem, "-")
	if !ok {
		return seg, ts, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	ts, err = time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seg, ts, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	rec, err = strconv.ParseUint(recStr, 16, 64)
	if err != nil {
		return seg, ts, 0, fmt.Errorf("invalid segment file name %q (invalid record number)", name)
	}
	return
}

// Entry is one frame read back from a wire log. Data is only valid during
// the callback it is passed to.
type Entry struct {
	Seq     uint64
	Segment uint32
	Dir     link.Direction
	Time    time.Time
	Data    []byte
}

// Read calls fn for every intact record under dir, oldest first. A damaged
// segment tail is logged and skipped.
func Read(dir string, o Options, fn func(Entry) error) error {
	fillDefaults(&o)
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	names, err := segmentNames(dir, prefix, suffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		seg, _, _, _ := parseSegmentName(name, prefix, suffix)
		err := readSegment(filepath.Join(dir, name), seg, fn)
		if errors.Is(err, errCorruptedFile) {
			o.Logger.LogAttrs(context.Background(), slog.LevelWarn, "wirelog: skipping damaged data", slog.String("file", name), slog.Any("err", err))
			continue
		} else if err != nil {
			return err
		}
	}
	return nil
}

func readSegment(path string, seg uint32, fn func(Entry) error) error {
	r, err := mmap.Open(path, mmap.SequentialAccess)
	if err != nil {
		return err
	}
	defer r.Close()
	buf := r.Bytes()

	if len(buf) < segmentHeaderSize {
		return fmt.Errorf("%w: short header", errCorruptedFile)
	}
	var h segmentHeader
	if _, err := binary.Decode(buf[:segmentHeaderSize], binary.LittleEndian, &h); err != nil {
		panic(err)
	}
	var hash xxhash.Digest
	hash.Reset()
	hash.Write(buf[:segmentHeaderSize-8])
	switch {
	case h.Magic != magic || hash.Sum64() != h.Checksum:
		return fmt.Errorf("%w: bad header", errCorruptedFile)
	case h.Version > version0:
		return ErrUnsupportedVersion
	case h.SegmentOrdinal != seg:
		return fmt.Errorf("%w: segment %d named as %d", errCorruptedFile, h.SegmentOrdinal, seg)
	}
	hash.Write(buf[segmentHeaderSize-8 : segmentHeaderSize])

	last := h.Started
	seq := h.FirstRecord
	for off := segmentHeaderSize; off < len(buf); seq++ {
		start := off
		size, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return fmt.Errorf("%w: bad size at %d", errCorruptedFile, start)
		}
		off += n
		if off >= len(buf) {
			return fmt.Errorf("%w: truncated at %d", errCorruptedFile, start)
		}
		dir := link.Direction(buf[off])
		off++
		delta, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return fmt.Errorf("%w: bad timestamp at %d", errCorruptedFile, start)
		}
		off += n
		if rem := uint64(len(buf) - off); size > rem || rem-size < 8 {
			return fmt.Errorf("%w: truncated at %d", errCorruptedFile, start)
		}
		data := buf[off : off+int(size)]
		off += int(size)
		hash.Write(buf[start:off])
		if hash.Sum64() != binary.LittleEndian.Uint64(buf[off:]) {
			return fmt.Errorf("%w: checksum mismatch at %d", errCorruptedFile, start)
		}
		hash.Write(buf[off : off+8])
		off += 8

		last += int64(delta)
		if err := fn(Entry{Seq: seq, Segment: seg, Dir: dir, Time: time.UnixMicro(last), Data: data}); err != nil {
			return err
		}
	}
	return nil
}
