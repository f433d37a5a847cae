package bpio2

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/andreyvit/flatbuf"
	fb "github.com/google/flatbuffers/go"
)

func TestEmptyStatusRequest(t *testing.T) {
	buf := must(Schema.Encode(&StatusRequest{}))
	tbl := must(flatbuf.Root(buf))
	eq(t, tbl.VTableLen(), 0)
	eq(t, tbl.InlineSize(), 4)

	var req StatusRequest
	ensure(Schema.Unmarshal(buf, &req))
	deepEqual(t, req, StatusRequest{})
}

func TestStatusResponseOneString(t *testing.T) {
	buf := must(Schema.Encode(&StatusResponse{ModeCurrent: "OK"}))

	var st StatusResponse
	ensure(Schema.Unmarshal(buf, &st))
	eq(t, st.ModeCurrent, "OK")
	eq(t, len(st.ModeCurrent), 2)
	eq(t, st.PSUSetMV, uint32(0))
	eq(t, st.Error, "")

	tbl := must(flatbuf.Root(buf))
	eq(t, tbl.Present(15), false)
	eq(t, must(tbl.Uint32(15, 0)), uint32(0))
}

func TestRequestPacketMatchesReferenceRuntime(t *testing.T) {
	rb := fb.NewBuilder(0)
	rb.StartObject(1)
	inner := rb.EndObject()
	rb.StartObject(4)
	rb.PrependUOffsetTSlot(3, inner, 0)
	rb.PrependUint8Slot(0, VersionMajor, 0)
	rb.PrependUint8Slot(2, 1, 0)
	rb.Finish(rb.EndObject())

	buf := must(EncodeRequest(NewRequest(NewStatusRequest())))
	deepEqual(t, buf, rb.FinishedBytes())
}

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		contents RequestContents
	}{
		{"status", NewStatusRequest(QueryVersion, QueryIO)},
		{"configure", func() RequestContents {
			req := NewConfigurationRequest("I2C")
			req.ModeConfiguration.Speed = 400000
			req.PSUEnable = true
			req.PSUSetMV = 3300
			req.PullupEnable = true
			return req
		}()},
		{"led colors", &ConfigurationRequest{PSUSetMA: 300, LEDColor: []uint32{0xFF0000, 0x00FF00}, PrintString: "hi"}},
		{"data", &DataRequest{StartMain: true, DataWrite: []byte{0xA0, 0x10}, BytesRead: 8, StopMain: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest(tt.contents)
			got := must(DecodeRequest(must(EncodeRequest(req))))
			deepEqual(t, got, req)
		})
	}
}

func TestConfigurationDefaultsOmitted(t *testing.T) {
	req := NewConfigurationRequest("UART")
	buf := must(Schema.Encode(req))
	tbl := must(flatbuf.Root(buf))
	eq(t, tbl.Present(7), false)

	mc, ok, err := tbl.Table(1)
	ensure(err)
	eq(t, ok, true)
	eq(t, mc.VTableLen(), 0)

	// zero values that differ from the defaults are written explicitly
	buf = must(Schema.Encode(&ModeConfiguration{}))
	tbl = must(flatbuf.Root(buf))
	eq(t, must(tbl.Uint8(1, 8)), uint8(0))
	eq(t, must(tbl.Bool(9, true)), false)
}

func TestDecodeResponse(t *testing.T) {
	st := &StatusResponse{
		VersionFirmwareMajor:    1,
		VersionFirmwareGitHash:  "deadbeef",
		VersionFirmwareDate:     "2026-01-30",
		ModesAvailable:          []string{"mode1", "mode2"},
		ModeCurrent:             "testmode",
		ADCMV:                   []uint32{3300, 0},
		DiskSizeMB:              64.5,
		VersionFlatbuffersMajor: 2,
	}
	buf := must(EncodeResponse(&ResponsePacket{Contents: st}))
	resp := must(DecodeResponse(buf))
	got := must(ContentsAs[StatusResponse](resp))
	deepEqual(t, got, st)
	ensure(CheckCompatible(got))

	_, err := ContentsAs[DataResponse](resp)
	isErr(t, err, ErrUnexpectedResponse)
}

func TestDecodeResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		resp *ResponsePacket
		kind string
		msg  string
	}{
		{"packet", &ResponsePacket{Error: "bad version"}, "ResponsePacket", "bad version"},
		{"error response", &ResponsePacket{Contents: &ErrorResponse{Error: "unknown packet"}}, "ErrorResponse", "unknown packet"},
		{"empty error response", &ResponsePacket{Contents: &ErrorResponse{}}, "ErrorResponse", "unspecified error"},
		{"configuration", &ResponsePacket{Contents: &ConfigurationResponse{Error: "invalid mode"}}, "ConfigurationResponse", "invalid mode"},
		{"data", &ResponsePacket{Contents: &DataResponse{Error: "NACK"}}, "DataResponse", "NACK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse(must(EncodeResponse(tt.resp)))
			var re *ResponseError
			if !errors.As(err, &re) {
				t.Fatalf("** got %v, wanted *ResponseError", err)
			}
			eq(t, re.Kind, tt.kind)
			eq(t, re.Msg, tt.msg)
			if resp == nil {
				t.Errorf("** packet not returned with the device error")
			}
		})
	}

	_, err := DecodeResponse([]byte{1, 2, 3})
	isErr(t, err, flatbuf.ErrCorruptBuffer)
}

func TestCheckCompatible(t *testing.T) {
	ensure(CheckCompatible(&StatusResponse{VersionFlatbuffersMajor: 2, VersionFlatbuffersMinor: 3}))
	isErr(t, CheckCompatible(&StatusResponse{VersionFlatbuffersMajor: 1}), ErrIncompatible)
	isErr(t, CheckCompatible(&StatusResponse{}), ErrIncompatible)
}

func TestStatusQuery(t *testing.T) {
	eq(t, QueryPSU.String(), "psu")
	eq(t, StatusQuery(42).String(), "StatusQuery(42)")
	eq(t, must(ParseStatusQuery("IO")), QueryIO)
	if _, err := ParseStatusQuery("bogus"); err == nil {
		t.Errorf("** ParseStatusQuery(bogus) succeeded")
	}
	deepEqual(t, NewStatusRequest(QueryVersion, QueryAll), &StatusRequest{})
	deepEqual(t, NewStatusRequest(QueryLED).Query, []StatusQuery{QueryLED})
}

func TestSchemaDescription(t *testing.T) {
	s := Schema.Describe()
	for _, want := range []string{
		"union RequestPacketContents {\n  StatusRequest = 1,\n  ConfigurationRequest = 2,\n  DataRequest = 3,\n}",
		"  data_bits:ubyte = 8 (id: 1);",
		"  chip_select_idle:bool = true (id: 9);",
		"  adc_mv:[uint] (id: 21);",
		"  contents:ResponsePacketContents (id: 2);",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("** description lacks %q:\n%s", want, s)
		}
	}
}

func TestAsyncDataResponse(t *testing.T) {
	buf := must(EncodeResponse(&ResponsePacket{Contents: &DataResponse{DataRead: []byte("hello"), IsAsync: true}}))
	resp := must(DecodeResponse(buf))
	dr := must(ContentsAs[DataResponse](resp))
	eq(t, dr.IsAsync, true)
	eq(t, string(dr.DataRead), "hello")
}

func eq[T comparable](t testing.TB, a, e T) {
	if a != e {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %+v, wanted %+v", a, e)
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

func TestAnswers(t *testing.T) {
	eq(t, Answers(&StatusRequest{}, &StatusResponse{}), true)
	eq(t, Answers(&StatusRequest{}, &DataResponse{}), false)
	eq(t, Answers(&DataRequest{}, &DataResponse{}), true)
	eq(t, Answers(&ConfigurationRequest{}, &ErrorResponse{}), true)
	eq(t, Answers(&ConfigurationRequest{}, nil), true)
}
