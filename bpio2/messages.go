package bpio2

import (
	"github.com/andreyvit/flatbuf"
)

// RequestContents is the union carried by RequestPacket: one of
// *StatusRequest, *ConfigurationRequest or *DataRequest.
type RequestContents interface {
	isRequestContents()
}

// ResponseContents is the union carried by ResponsePacket: one of
// *ErrorResponse, *StatusResponse, *ConfigurationResponse or *DataResponse.
type ResponseContents interface {
	isResponseContents()
}

type RequestPacket struct {
	VersionMajor uint8           `flat:"0"`
	VersionMinor uint16          `flat:"1"`
	Contents     RequestContents `flat:"2,union"`
}

type ResponsePacket struct {
	Error    string           `flat:"0"`
	Contents ResponseContents `flat:"1,union"`
}

// StatusRequest asks for parts of the device status. An empty Query asks for
// everything.
type StatusRequest struct {
	Query []StatusQuery `flat:"0"`
}

type StatusResponse struct {
	Error                   string   `flat:"0"`
	VersionHardwareMajor    uint8    `flat:"1"`
	VersionHardwareMinor    uint8    `flat:"2"`
	VersionFirmwareMajor    uint8    `flat:"3"`
	VersionFirmwareMinor    uint8    `flat:"4"`
	VersionFirmwareGitHash  string   `flat:"5"`
	VersionFirmwareDate     string   `flat:"6"`
	ModesAvailable          []string `flat:"7"`
	ModeCurrent             string   `flat:"8"`
	ModePinLabels           []string `flat:"9"`
	ModeBitorderMSB         bool     `flat:"10"`
	ModeMaxPacketSize       uint32   `flat:"11"`
	ModeMaxWrite            uint32   `flat:"12"`
	ModeMaxRead             uint32   `flat:"13"`
	PSUEnabled              bool     `flat:"14"`
	PSUSetMV                uint32   `flat:"15"`
	PSUSetMA                uint32   `flat:"16"`
	PSUMeasuredMV           uint32   `flat:"17"`
	PSUMeasuredMA           uint32   `flat:"18"`
	PSUCurrentError         bool     `flat:"19"`
	PullupEnabled           bool     `flat:"20"`
	ADCMV                   []uint32 `flat:"21,name=adc_mv"`
	IODirection             uint8    `flat:"22"`
	IOValue                 uint8    `flat:"23"`
	DiskSizeMB              float32  `flat:"24"`
	DiskUsedMB              float32  `flat:"25"`
	LEDCount                uint8    `flat:"26"`
	VersionFlatbuffersMajor uint16   `flat:"27"`
	VersionFlatbuffersMinor uint16   `flat:"28"`
}

// ModeConfiguration holds the per-mode settings of a ConfigurationRequest.
// The Go zero value differs from the wire defaults (DataBits 8, StopBits 1,
// ChipSelectIdle true); start from NewModeConfiguration.
type ModeConfiguration struct {
	Speed           uint32 `flat:"0"`
	DataBits        uint8  `flat:"1,default=8"`
	Parity          bool   `flat:"2"`
	StopBits        uint8  `flat:"3,default=1"`
	FlowControl     bool   `flat:"4"`
	SignalInversion bool   `flat:"5"`
	ClockStretch    bool   `flat:"6"`
	ClockPolarity   bool   `flat:"7"`
	ClockPhase      bool   `flat:"8"`
	ChipSelectIdle  bool   `flat:"9,default=true"`
	Submode         uint8  `flat:"10"`
	TxModulation    uint32 `flat:"11"`
	RxSensor        uint8  `flat:"12"`
}

func NewModeConfiguration() *ModeConfiguration {
	return &ModeConfiguration{DataBits: 8, StopBits: 1, ChipSelectIdle: true}
}

// ConfigurationRequest changes the device mode and peripherals. Like
// ModeConfiguration, its zero value does not match the wire defaults
// (PSUSetMA 300); start from NewConfigurationRequest.
type ConfigurationRequest struct {
	Mode               string             `flat:"0"`
	ModeConfiguration  *ModeConfiguration `flat:"1"`
	ModeBitorderMSB    bool               `flat:"2"`
	ModeBitorderLSB    bool               `flat:"3"`
	PSUDisable         bool               `flat:"4"`
	PSUEnable          bool               `flat:"5"`
	PSUSetMV           uint32             `flat:"6"`
	PSUSetMA           uint16             `flat:"7,default=300"`
	PullupDisable      bool               `flat:"8"`
	PullupEnable       bool               `flat:"9"`
	IODirectionMask    uint8              `flat:"10"`
	IODirection        uint8              `flat:"11"`
	IOValueMask        uint8              `flat:"12"`
	IOValue            uint8              `flat:"13"`
	LEDResume          bool               `flat:"14"`
	LEDColor           []uint32           `flat:"15"`
	PrintString        string             `flat:"16"`
	HardwareBootloader bool               `flat:"17"`
	HardwareReset      bool               `flat:"18"`
	HardwareSelftest   bool               `flat:"19"`
}

// NewConfigurationRequest returns a request switching to mode (empty keeps
// the current mode) with wire defaults filled in.
func NewConfigurationRequest(mode string) *ConfigurationRequest {
	req := &ConfigurationRequest{Mode: mode, PSUSetMA: 300}
	if mode != "" {
		req.ModeConfiguration = NewModeConfiguration()
	}
	return req
}

type ConfigurationResponse struct {
	Error string `flat:"0"`
}

// DataRequest performs one bus transaction: optional start condition, write,
// read, optional stop condition.
type DataRequest struct {
	StartMain bool   `flat:"0"`
	StartAlt  bool   `flat:"1"`
	DataWrite []byte `flat:"2"`
	BytesRead uint16 `flat:"3"`
	StopMain  bool   `flat:"4"`
	StopAlt   bool   `flat:"5"`
}

// DataResponse carries the bytes read. IsAsync marks data the device pushed
// on its own, e.g. bytes received by the UART.
type DataResponse struct {
	Error    string `flat:"0"`
	DataRead []byte `flat:"1"`
	IsAsync  bool   `flat:"2"`
}

type ErrorResponse struct {
	Error string `flat:"0"`
}

func (*StatusRequest) isRequestContents()        {}
func (*ConfigurationRequest) isRequestContents() {}
func (*DataRequest) isRequestContents()          {}

func (*ErrorResponse) isResponseContents()         {}
func (*StatusResponse) isResponseContents()        {}
func (*ConfigurationResponse) isResponseContents() {}
func (*DataResponse) isResponseContents()          {}

// Schema describes every BPIO2 table. It is frozen on first use.
var Schema = buildSchema()

func buildSchema() *flatbuf.Schema {
	scm := flatbuf.NewSchema("bpio")
	flatbuf.AddTable[StatusRequest](scm, "StatusRequest")
	flatbuf.AddTable[StatusResponse](scm, "StatusResponse")
	flatbuf.AddTable[ModeConfiguration](scm, "ModeConfiguration")
	flatbuf.AddTable[ConfigurationRequest](scm, "ConfigurationRequest")
	flatbuf.AddTable[ConfigurationResponse](scm, "ConfigurationResponse")
	flatbuf.AddTable[DataRequest](scm, "DataRequest")
	flatbuf.AddTable[DataResponse](scm, "DataResponse")
	flatbuf.AddTable[ErrorResponse](scm, "ErrorResponse")
	flatbuf.AddTable[RequestPacket](scm, "RequestPacket")
	flatbuf.AddTable[ResponsePacket](scm, "ResponsePacket")

	flatbuf.AddUnion[RequestContents](scm, "RequestPacketContents",
		(*StatusRequest)(nil),
		(*ConfigurationRequest)(nil),
		(*DataRequest)(nil))
	flatbuf.AddUnion[ResponseContents](scm, "ResponsePacketContents",
		(*ErrorResponse)(nil),
		(*StatusResponse)(nil),
		(*ConfigurationResponse)(nil),
		(*DataResponse)(nil))
	scm.Freeze()
	return scm
}
