package bpio2

import (
	"fmt"
	"strings"
)

// StatusQuery selects a part of the device status.
type StatusQuery uint8

const (
	QueryAll StatusQuery = iota
	QueryVersion
	QueryMode
	QueryPullup
	QueryPSU
	QueryADC
	QueryIO
	QueryDisk
	QueryLED
)

var statusQueryNames = [...]string{
	QueryAll:     "all",
	QueryVersion: "version",
	QueryMode:    "mode",
	QueryPullup:  "pullup",
	QueryPSU:     "psu",
	QueryADC:     "adc",
	QueryIO:      "io",
	QueryDisk:    "disk",
	QueryLED:     "led",
}

func (q StatusQuery) String() string {
	if int(q) < len(statusQueryNames) {
		return statusQueryNames[q]
	}
	return fmt.Sprintf("StatusQuery(%d)", uint8(q))
}

func ParseStatusQuery(s string) (StatusQuery, error) {
	for i, name := range statusQueryNames {
		if strings.EqualFold(s, name) {
			return StatusQuery(i), nil
		}
	}
	return 0, fmt.Errorf("bpio2: unknown status query %q", s)
}

// NewStatusRequest asks for the given parts of the status, or for all of it
// when none are given.
func NewStatusRequest(queries ...StatusQuery) *StatusRequest {
	req := &StatusRequest{}
	for _, q := range queries {
		if q == QueryAll {
			return &StatusRequest{}
		}
		req.Query = append(req.Query, q)
	}
	return req
}
