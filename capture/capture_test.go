package capture

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andreyvit/flatbuf/link"
)

func forEachBackend(t *testing.T, f func(t *testing.T, s *Store)) {
	t.Run("bolt", func(t *testing.T) {
		s := must(Open(filepath.Join(t.TempDir(), "capture.db"), testOptions(t)))
		defer s.Close()
		f(t, s)
	})
	t.Run("mem", func(t *testing.T) {
		s := OpenMemory(testOptions(t))
		defer s.Close()
		f(t, s)
	})
}

func testOptions(t testing.TB) Options {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	return Options{
		Logger:    slog.New(slog.NewTextHandler(logWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug})),
		IsTesting: true,
		Now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Millisecond)
		},
	}
}

type recorded struct {
	seq  uint64
	dir  link.Direction
	at   time.Time
	data string
}

func collect(t testing.TB, s *Store, id uint64) []recorded {
	var result []recorded
	ensure(s.Frames(id, func(f Frame) error {
		result = append(result, recorded{f.Seq, f.Dir, f.Time, string(f.Data)})
		return nil
	}))
	return result
}

func TestSessionRecordsFrames(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ss := must(s.BeginSession("eeprom dump"))
		eq(t, ss.ID(), uint64(1))
		ensure(ss.Record(link.Sent, []byte("req")))
		ensure(ss.Record(link.Received, []byte("response")))
		ensure(ss.Record(link.Received, nil))

		frames := collect(t, s, ss.ID())
		eq(t, len(frames), 3)
		eq(t, frames[0].seq, uint64(1))
		eq(t, frames[0].dir, link.Sent)
		eq(t, frames[0].data, "req")
		eq(t, frames[1].dir, link.Received)
		eq(t, frames[1].data, "response")
		eq(t, frames[2].seq, uint64(3))
		eq(t, frames[2].data, "")
		eq(t, frames[1].at.After(frames[0].at), true)

		info := must(s.Session(ss.ID()))
		eq(t, info.Label, "eeprom dump")
		eq(t, info.Frames, uint64(3))
		eq(t, info.Bytes, uint64(11))
		eq(t, info.Sent, uint64(1))
		eq(t, info.Received, uint64(2))
		eq(t, info.Updated.Equal(frames[2].at), true)
		eq(t, ss.Info().Frames, info.Frames)
	})
}

func TestSessionsAndStats(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		eq(t, len(must(s.Sessions())), 0)

		a := must(s.BeginSession("a"))
		b := must(s.BeginSession("b"))
		ensure(a.Record(link.Sent, []byte("12345")))
		ensure(b.Record(link.Sent, []byte("12")))
		ensure(b.Record(link.Received, []byte("3")))

		list := must(s.Sessions())
		eq(t, len(list), 2)
		eq(t, list[0].ID, uint64(1))
		eq(t, list[0].Label, "a")
		eq(t, list[1].ID, uint64(2))
		eq(t, list[1].Frames, uint64(2))

		st := must(s.Stats())
		eq(t, st.Sessions, 2)
		eq(t, st.Frames, uint64(3))
		eq(t, st.Bytes, uint64(8))
		eq(t, st.Size > 0, true)
	})
}

func TestDeleteSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		a := must(s.BeginSession("a"))
		ensure(a.Record(link.Sent, []byte("x")))
		b := must(s.BeginSession("b"))

		ensure(s.DeleteSession(a.ID()))
		_, err := s.Session(a.ID())
		isErr(t, err, ErrSessionNotFound)
		isErr(t, s.Frames(a.ID(), func(Frame) error { return nil }), ErrSessionNotFound)
		isErr(t, s.DeleteSession(a.ID()), ErrSessionNotFound)
		isErr(t, a.Record(link.Sent, []byte("y")), ErrSessionNotFound)

		eq(t, len(must(s.Sessions())), 1)
		eq(t, must(s.Session(b.ID())).Label, "b")
	})
}

func TestDeletedSessionIDIsNotReused(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		a := must(s.BeginSession("a"))
		b := must(s.BeginSession("b"))
		ensure(s.DeleteSession(b.ID()))

		c := must(s.BeginSession("c"))
		eq(t, c.ID(), b.ID()+1)
		isErr(t, b.Record(link.Sent, []byte("late")), ErrSessionNotFound)
		ensure(c.Record(link.Sent, []byte("mine")))
		eq(t, must(s.Session(c.ID())).Frames, uint64(1))

		ensure(s.DeleteSession(a.ID()))
		ensure(s.DeleteSession(c.ID()))
		eq(t, must(s.BeginSession("d")).ID(), c.ID()+1)
	})
}

func TestFramesStopsOnCallbackError(t *testing.T) {
	s := OpenMemory(testOptions(t))
	defer s.Close()
	ss := must(s.BeginSession(""))
	for i := range 5 {
		ensure(ss.Record(link.Received, []byte{byte(i)}))
	}
	stop := errors.New("stop")
	var n int
	err := s.Frames(ss.ID(), func(f Frame) error {
		n++
		if f.Seq == 2 {
			return stop
		}
		return nil
	})
	isErr(t, err, stop)
	eq(t, n, 2)
}

func TestCorruptRecordIsReported(t *testing.T) {
	s := OpenMemory(testOptions(t))
	defer s.Close()
	ss := must(s.BeginSession(""))
	ensure(ss.Record(link.Sent, []byte("hello")))

	ensure(s.write(func(tx storageTx) error {
		b := tx.Bucket(framesRoot, framesBucket(ss.ID()))
		v := bytes.Clone(b.Get(idKey(1)))
		v[len(v)-1] ^= 0xFF
		return b.Put(idKey(1), v)
	}))

	err := s.Frames(ss.ID(), func(Frame) error { return nil })
	isErr(t, err, ErrCorrupt)
	if err == nil || !strings.Contains(err.Error(), "frame 1") {
		t.Errorf("** got %v, wanted the frame number in the error", err)
	}
}

func TestParseRecord(t *testing.T) {
	at := time.Unix(0, 1234567890)
	rec := must(appendRecord([]byte("junk"), link.Received, at, []byte("frame")))[4:]
	h, data, err := parseRecord(rec)
	ensure(err)
	eq(t, h.Dir, link.Received)
	eq(t, h.Time, at.UnixNano())
	eq(t, string(data), "frame")

	for _, bad := range [][]byte{nil, {0x7F}, rec[:len(rec)-1], append(bytes.Clone(rec), 'x')} {
		_, _, err := parseRecord(bad)
		isErr(t, err, ErrCorrupt)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			src := OpenMemory(testOptions(t))
			defer src.Close()
			ss := must(src.BeginSession("uart sniff"))
			for i := range 50 {
				ensure(ss.Record(link.Direction(1+i%2), bytes.Repeat([]byte{byte(i)}, i*10)))
			}

			var buf bytes.Buffer
			ensure(src.Export(&buf, ss.ID(), c))
			eq(t, string(buf.Bytes()[:len(archiveMagic)]), archiveMagic)
			eq(t, Compression(buf.Bytes()[len(archiveMagic)]), c)

			dst := must(Open(filepath.Join(t.TempDir(), "dst.db"), testOptions(t)))
			defer dst.Close()
			must(dst.BeginSession("existing"))
			info := must(dst.Import(&buf))
			eq(t, info.ID, uint64(2))
			eq(t, info.Label, "uart sniff")
			eq(t, info.Frames, uint64(50))
			eq(t, info.Started.Equal(ss.Info().Started), true)

			want := collect(t, src, ss.ID())
			got := collect(t, dst, info.ID)
			eq(t, len(got), len(want))
			for i := range want {
				eq(t, got[i].dir, want[i].dir)
				eq(t, got[i].data, want[i].data)
				eq(t, got[i].at.Equal(want[i].at), true)
			}
		})
	}
}

func TestImportRejectsDamage(t *testing.T) {
	src := OpenMemory(testOptions(t))
	defer src.Close()
	ss := must(src.BeginSession("x"))
	ensure(ss.Record(link.Sent, []byte("abcdef")))
	ensure(ss.Record(link.Received, []byte("ghijkl")))
	var buf bytes.Buffer
	ensure(src.Export(&buf, ss.ID(), CompressionNone))
	archive := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"magic", append([]byte("NOTACAP1"), archive[len(archiveMagic):]...)},
		{"compression", append([]byte(archiveMagic+"\x09"), archive[len(archiveMagic)+1:]...)},
		{"truncated", archive[:len(archive)-10]},
		{"payload", func() []byte {
			d := bytes.Clone(archive)
			i := bytes.Index(d, []byte("ghijkl"))
			d[i] = 'G'
			return d
		}()},
		{"empty header frame", []byte(archiveMagic + "\x00\x01\x00")},
		{"empty record frame", func() []byte {
			n := len(archiveMagic) + 1
			end := n + bytes.IndexByte(archive[n:], 0) + 1
			return append(bytes.Clone(archive[:end]), 0x01, 0x00)
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := OpenMemory(testOptions(t))
			defer dst.Close()
			_, err := dst.Import(bytes.NewReader(tt.data))
			isErr(t, err, ErrBadArchive)
			eq(t, len(must(dst.Sessions())), 0)
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestExportReportsWriteErrors(t *testing.T) {
	s := OpenMemory(testOptions(t))
	defer s.Close()
	ss := must(s.BeginSession("big"))
	frame := bytes.Repeat([]byte{0xA5, 0x5A, 0x01}, 40000)
	for range 4 {
		ensure(ss.Record(link.Received, frame))
	}
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		if err := s.Export(failingWriter{}, ss.ID(), c); err == nil {
			t.Errorf("** %v: export to a failing writer succeeded", c)
		}
	}
}

func TestCompression(t *testing.T) {
	eq(t, CompressionLZ4.String(), "lz4")
	eq(t, Compression(7).String(), "unknown(7)")
	eq(t, must(ParseCompression("none")), CompressionNone)
	eq(t, must(ParseCompression("")), CompressionZstd)
	if _, err := ParseCompression("gzip"); err == nil {
		t.Errorf("** ParseCompression(gzip) succeeded")
	}
}

func TestMemCursor(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	tx := must(st.BeginTx(true))
	b := must(tx.CreateBucket("root", "sub"))
	for _, k := range []string{"b", "d", "a", "c"} {
		ensure(b.Put([]byte(k), []byte(strings.ToUpper(k))))
	}
	ensure(tx.Commit())

	tx = must(st.BeginTx(false))
	defer tx.Rollback()
	if tx.Bucket("root", "") == nil {
		t.Fatalf("** root bucket was not created")
	}
	b = tx.Bucket("root", "sub")
	eq(t, b.KeyCount(), 4)
	eq(t, string(b.Get([]byte("c"))), "C")
	if b.Get([]byte("x")) != nil {
		t.Errorf("** Get of a missing key returned a value")
	}

	c := b.Cursor()
	var keys []string
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, string(k))
	}
	eq(t, fmt.Sprint(keys), "[a b c d]")

	k, _ := c.Seek([]byte("bb"))
	eq(t, string(k), "c")
	k, _ = c.Prev()
	eq(t, string(k), "b")
	k, v := c.Last()
	eq(t, string(k)+string(v), "dD")
	k, _ = c.Next()
	eq(t, k == nil, true)

	if err := b.Put([]byte("e"), nil); err == nil {
		t.Errorf("** Put succeeded in a read-only tx")
	}
}

type logWriter struct{ t testing.TB }

func (w logWriter) Write(buf []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(buf), "\n"))
	return len(buf), nil
}

func eq[T comparable](t testing.TB, a, e T) {
	if a != e {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isErr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, target)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
