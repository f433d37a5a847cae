package bpio2

import (
	"fmt"
	"strings"
)

// LEDMode is the submode of the LED mode.
type LEDMode uint8

const (
	LEDWS2812  LEDMode = 0
	LEDAPA102  LEDMode = 1
	LEDOnboard LEDMode = 2
)

func (m LEDMode) String() string {
	switch m {
	case LEDWS2812:
		return "WS2812"
	case LEDAPA102:
		return "APA102"
	case LEDOnboard:
		return "ONBOARD"
	default:
		return fmt.Sprintf("LEDMode(%d)", uint8(m))
	}
}

func ParseLEDMode(s string) (LEDMode, error) {
	switch strings.ToUpper(s) {
	case "WS2812":
		return LEDWS2812, nil
	case "APA102":
		return LEDAPA102, nil
	case "ONBOARD":
		return LEDOnboard, nil
	default:
		return 0, fmt.Errorf("bpio2: invalid LED type %q, use WS2812, APA102 or ONBOARD", s)
	}
}

type RGB struct {
	R, G, B uint8
}

// MaxBrightness is the APA102 global brightness limit.
const MaxBrightness = 0x1F

// LEDFrame encodes colors in the byte order the LED type expects: GRB for
// WS2812, RGB for the onboard LEDs, and a brightness byte followed by BGR
// for APA102. brightness is ignored by the other types.
func LEDFrame(mode LEDMode, brightness uint8, colors ...RGB) ([]byte, error) {
	var out []byte
	switch mode {
	case LEDWS2812:
		out = make([]byte, 0, 3*len(colors))
		for _, c := range colors {
			out = append(out, c.G, c.R, c.B)
		}
	case LEDOnboard:
		out = make([]byte, 0, 3*len(colors))
		for _, c := range colors {
			out = append(out, c.R, c.G, c.B)
		}
	case LEDAPA102:
		out = make([]byte, 0, 4*len(colors))
		bb := 0xE0 | brightness&MaxBrightness
		for _, c := range colors {
			out = append(out, bb, c.B, c.G, c.R)
		}
	default:
		return nil, fmt.Errorf("bpio2: unsupported LED type %v", mode)
	}
	return out, nil
}

// RGBWFrame encodes a single RGBW pixel. Only WS2812 strips support it.
func RGBWFrame(mode LEDMode, c RGB, w uint8) ([]byte, error) {
	if mode != LEDWS2812 {
		return nil, fmt.Errorf("bpio2: RGBW is only supported by WS2812, not %v", mode)
	}
	return []byte{c.G, c.R, c.B, w}, nil
}

// LEDConfiguration switches the device to LED mode with the given submode.
func LEDConfiguration(mode LEDMode) *ConfigurationRequest {
	req := NewConfigurationRequest("LED")
	req.ModeConfiguration.Submode = uint8(mode)
	return req
}

// LEDWrite wraps a frame into a data request. The start and stop flags make
// the device emit the reset or start/end frames around the data.
func LEDWrite(frame []byte) *DataRequest {
	return &DataRequest{StartMain: true, DataWrite: frame, StopMain: true}
}

// UARTConfiguration switches the device to UART mode at the given speed,
// 8N1 without flow control.
func UARTConfiguration(speed uint32) *ConfigurationRequest {
	req := NewConfigurationRequest("UART")
	req.ModeConfiguration.Speed = speed
	return req
}
