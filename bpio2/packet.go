package bpio2

import (
	"errors"
	"fmt"

	"github.com/andreyvit/flatbuf"
)

// Protocol version spoken by this package. Devices reporting a different
// major flatbuffers version, or a minor version below MinVersionMinor, are
// incompatible.
const (
	VersionMajor    = 2
	VersionMinor    = 0
	MinVersionMinor = 0
)

var (
	ErrUnexpectedResponse = errors.New("bpio2: unexpected response")
	ErrIncompatible       = errors.New("bpio2: incompatible protocol version")
)

// ResponseError is an error reported by the device, either as an
// ErrorResponse, in ResponsePacket.Error or in the error field of the
// response contents.
type ResponseError struct {
	Kind string
	Msg  string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("bpio2: %s: %s", e.Kind, e.Msg)
}

// NewRequest wraps contents into a packet stamped with the protocol version.
func NewRequest(contents RequestContents) *RequestPacket {
	return &RequestPacket{
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		Contents:     contents,
	}
}

func EncodeRequest(req *RequestPacket) ([]byte, error) {
	return Schema.Encode(req)
}

// AppendRequest is EncodeRequest reusing the caller's builder and buffer.
func AppendRequest(dst []byte, b *flatbuf.Builder, req *RequestPacket) ([]byte, error) {
	return Schema.AppendEncode(dst, b, req)
}

func DecodeRequest(buf []byte) (*RequestPacket, error) {
	req := new(RequestPacket)
	if err := Schema.Unmarshal(buf, req); err != nil {
		return nil, err
	}
	return req, nil
}

func EncodeResponse(resp *ResponsePacket) ([]byte, error) {
	return Schema.Encode(resp)
}

// DecodeResponse decodes a response packet. Malformed data yields an error
// matching flatbuf.ErrCorruptBuffer and a nil packet. A well-formed packet
// that reports a device error is returned together with a *ResponseError.
func DecodeResponse(buf []byte) (*ResponsePacket, error) {
	resp := new(ResponsePacket)
	if err := Schema.Unmarshal(buf, resp); err != nil {
		return nil, err
	}
	return resp, resp.Err()
}

// Err returns the device error carried by the packet, if any.
func (resp *ResponsePacket) Err() error {
	if resp.Error != "" {
		return &ResponseError{Kind: "ResponsePacket", Msg: resp.Error}
	}
	var kind, msg string
	switch c := resp.Contents.(type) {
	case *ErrorResponse:
		kind, msg = "ErrorResponse", c.Error
		if msg == "" {
			msg = "unspecified error"
		}
	case *StatusResponse:
		kind, msg = "StatusResponse", c.Error
	case *ConfigurationResponse:
		kind, msg = "ConfigurationResponse", c.Error
	case *DataResponse:
		kind, msg = "DataResponse", c.Error
	}
	if msg == "" {
		return nil
	}
	return &ResponseError{Kind: kind, Msg: msg}
}

// CheckCompatible verifies the flatbuffers protocol version a device reports
// in its status.
func CheckCompatible(st *StatusResponse) error {
	if st.VersionFlatbuffersMajor != VersionMajor || st.VersionFlatbuffersMinor < MinVersionMinor {
		return fmt.Errorf("%w: device speaks %d.%d, want %d.%d+", ErrIncompatible,
			st.VersionFlatbuffersMajor, st.VersionFlatbuffersMinor, VersionMajor, MinVersionMinor)
	}
	return nil
}

// ContentsAs extracts the response contents as *T, failing with
// ErrUnexpectedResponse if the device answered with another table.
func ContentsAs[T any, PT interface {
	*T
	ResponseContents
}](resp *ResponsePacket) (PT, error) {
	if c, ok := resp.Contents.(PT); ok && c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: got %s, wanted %s", ErrUnexpectedResponse, ContentsName(resp.Contents), ContentsName(PT(nil)))
}

// ContentsName returns the table name of a union value, or "NONE".
func ContentsName(c any) string {
	switch c.(type) {
	case *StatusRequest:
		return "StatusRequest"
	case *ConfigurationRequest:
		return "ConfigurationRequest"
	case *DataRequest:
		return "DataRequest"
	case *ErrorResponse:
		return "ErrorResponse"
	case *StatusResponse:
		return "StatusResponse"
	case *ConfigurationResponse:
		return "ConfigurationResponse"
	case *DataResponse:
		return "DataResponse"
	default:
		return "NONE"
	}
}

// Answers reports whether resp is a plausible answer to req. ErrorResponse
// and empty contents answer anything.
func Answers(req RequestContents, resp ResponseContents) bool {
	switch resp.(type) {
	case nil, *ErrorResponse:
		return true
	case *StatusResponse:
		_, ok := req.(*StatusRequest)
		return ok
	case *ConfigurationResponse:
		_, ok := req.(*ConfigurationRequest)
		return ok
	case *DataResponse:
		_, ok := req.(*DataRequest)
		return ok
	default:
		return false
	}
}
