package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/flatbuf/link"
)

// recordHeader precedes the frame bytes in every stored record.
type recordHeader struct {
	Dir  link.Direction `msgpack:"d"`
	Time int64          `msgpack:"t"` // unix nanoseconds
	Len  int            `msgpack:"n"`
	Sum  uint64         `msgpack:"x"` // xxhash64 of the frame
}

type bytesBuilder struct {
	Buf []byte
}

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = append(bb.Buf, b...)
	return len(b), nil
}

func appendMsgpack(buf []byte, v any) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return buf, fmt.Errorf("capture: encoding %T: %w", v, err)
	}
	return bb.Buf, nil
}

func decodeMsgpack(buf []byte, v any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return fmt.Errorf("%w: decoding %T: %v", ErrCorrupt, v, err)
	}
	return nil
}

// appendRecord lays out a record as uvarint(header len), msgpack header, frame.
func appendRecord(buf []byte, dir link.Direction, t time.Time, frame []byte) ([]byte, error) {
	var hdr [64]byte
	h, err := appendMsgpack(hdr[:0], &recordHeader{
		Dir:  dir,
		Time: t.UnixNano(),
		Len:  len(frame),
		Sum:  xxhash.Sum64(frame),
	})
	if err != nil {
		return buf, err
	}
	buf = binary.AppendUvarint(buf, uint64(len(h)))
	buf = append(buf, h...)
	return append(buf, frame...), nil
}

// parseRecord verifies a record and returns its frame, which aliases buf.
func parseRecord(buf []byte) (recordHeader, []byte, error) {
	var h recordHeader
	n, w := binary.Uvarint(buf)
	if w <= 0 || uint64(len(buf)-w) < n {
		return h, nil, fmt.Errorf("%w: bad record header length", ErrCorrupt)
	}
	if err := decodeMsgpack(buf[w:w+int(n)], &h); err != nil {
		return h, nil, err
	}
	frame := buf[w+int(n):]
	if len(frame) != h.Len {
		return h, nil, fmt.Errorf("%w: frame is %d bytes, header says %d", ErrCorrupt, len(frame), h.Len)
	}
	if sum := xxhash.Sum64(frame); sum != h.Sum {
		return h, nil, fmt.Errorf("%w: checksum %016x, header says %016x", ErrCorrupt, sum, h.Sum)
	}
	return h, frame, nil
}

func idKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

func framesBucket(id uint64) string {
	return fmt.Sprintf("%016x", id)
}
