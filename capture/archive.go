package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/andreyvit/flatbuf/cobs"
)

// An archive is archiveMagic, one Compression byte, then a compressed stream
// of COBS frames: a header, one frame per record and a trailer. The trailer
// carries a BLAKE3 digest of every record in order.
const archiveMagic = "BPIOCAP1"

const (
	archiveHeader  byte = 'H'
	archiveRecord  byte = 'R'
	archiveTrailer byte = 'T'
)

var ErrBadArchive = errors.New("capture: bad archive")

// Compression identifies how an archive body is compressed. The values are
// stored in archives and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

type archiveHead struct {
	Label   string    `msgpack:"l"`
	Started time.Time `msgpack:"s"`
	Frames  uint64    `msgpack:"n"`
}

type archiveTail struct {
	Frames uint64 `msgpack:"n"`
	Digest []byte `msgpack:"h"`
}

// archive digests are keyed so they never collide with plain BLAKE3 sums
var archiveKey = [32]byte{
	'b', 'p', 'i', 'o', 'c', 'a', 'p', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e',
}

func newDigest() *blake3.Hasher {
	h, err := blake3.NewKeyed(archiveKey[:])
	if err != nil {
		panic(err)
	}
	return h
}

func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	default:
		return nil, fmt.Errorf("unsupported compression: %v", c)
	}
}

func decompressor(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionNone:
		return r, func() {}, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CompressionZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported compression %v", ErrBadArchive, c)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Export writes a session to w as an archive.
func (s *Store) Export(w io.Writer, id uint64, c Compression) error {
	info, err := s.Session(id)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(archiveMagic)
	bw.WriteByte(byte(c))
	zw, err := compressor(bw, c)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			zw.Close()
		}
	}()

	var frame, enc []byte
	emit := func(kind byte, body []byte) error {
		frame = append(append(frame[:0], kind), body...)
		enc = cobs.Encode(enc[:0], frame)
		_, err := zw.Write(enc)
		return err
	}

	body, err := appendMsgpack(nil, &archiveHead{Label: info.Label, Started: info.Started, Frames: info.Frames})
	if err != nil {
		return err
	}
	if err := emit(archiveHeader, body); err != nil {
		return err
	}

	digest := newDigest()
	var n uint64
	err = s.Frames(id, func(f Frame) error {
		body, err = appendRecord(body[:0], f.Dir, f.Time, f.Data)
		if err != nil {
			return err
		}
		digest.Write(body)
		n++
		return emit(archiveRecord, body)
	})
	if err != nil {
		return err
	}

	body, err = appendMsgpack(body[:0], &archiveTail{Frames: n, Digest: digest.Sum(nil)})
	if err != nil {
		return err
	}
	if err := emit(archiveTrailer, body); err != nil {
		return err
	}
	closed = true
	if err := zw.Close(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "capture: session exported",
		slog.Uint64("session", id), slog.Uint64("frames", n), slog.String("compression", c.String()))
	return nil
}

// Import reads an archive into a new session. Nothing is stored unless the
// whole archive, its trailer digest included, checks out.
func (s *Store) Import(r io.Reader) (SessionInfo, error) {
	var prefix [len(archiveMagic) + 1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return SessionInfo{}, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	if !bytes.Equal(prefix[:len(archiveMagic)], []byte(archiveMagic)) {
		return SessionInfo{}, fmt.Errorf("%w: bad magic", ErrBadArchive)
	}
	zr, done, err := decompressor(r, Compression(prefix[len(archiveMagic)]))
	if err != nil {
		return SessionInfo{}, err
	}
	defer done()
	fr := cobs.NewReader(zr, 2*cobs.DefaultMaxFrameSize)

	next := func(want byte) ([]byte, error) {
		frame, err := fr.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
		}
		if len(frame) == 0 {
			return nil, fmt.Errorf("%w: empty frame", ErrBadArchive)
		}
		if frame[0] != want {
			return nil, fmt.Errorf("%w: got frame %q, wanted %q", ErrBadArchive, frame[0], want)
		}
		return frame[1:], nil
	}

	body, err := next(archiveHeader)
	if err != nil {
		return SessionInfo{}, err
	}
	var head archiveHead
	if err := decodeMsgpack(body, &head); err != nil {
		return SessionInfo{}, fmt.Errorf("%w: header: %v", ErrBadArchive, err)
	}

	var info SessionInfo
	err = s.write(func(tx storageTx) error {
		var err error
		info, err = createSession(tx, head.Label, head.Started)
		if err != nil {
			return err
		}
		digest := newDigest()
		var buf []byte
		for {
			frame, err := fr.ReadFrame()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBadArchive, err)
			}
			if len(frame) == 0 {
				return fmt.Errorf("%w: empty frame", ErrBadArchive)
			}
			if frame[0] == archiveTrailer {
				return checkTail(frame[1:], info.Frames, digest)
			}
			if frame[0] != archiveRecord {
				return fmt.Errorf("%w: got frame %q, wanted %q", ErrBadArchive, frame[0], archiveRecord)
			}
			digest.Write(frame[1:])
			h, data, err := parseRecord(frame[1:])
			if err != nil {
				return fmt.Errorf("%w: frame %d: %v", ErrBadArchive, info.Frames+1, err)
			}
			buf, err = putFrame(tx, &info, buf, h.Dir, time.Unix(0, h.Time), data)
			if err != nil {
				return err
			}
		}
	})
	if err != nil {
		return SessionInfo{}, err
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "capture: session imported",
		slog.Uint64("session", info.ID), slog.Uint64("frames", info.Frames))
	return info, nil
}

func checkTail(body []byte, frames uint64, digest *blake3.Hasher) error {
	var tail archiveTail
	if err := decodeMsgpack(body, &tail); err != nil {
		return fmt.Errorf("%w: trailer: %v", ErrBadArchive, err)
	}
	if tail.Frames != frames {
		return fmt.Errorf("%w: trailer counts %d frames, archive has %d", ErrBadArchive, tail.Frames, frames)
	}
	if !bytes.Equal(tail.Digest, digest.Sum(nil)) {
		return fmt.Errorf("%w: digest mismatch", ErrBadArchive)
	}
	return nil
}
