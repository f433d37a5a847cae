package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/andreyvit/flatbuf/bpio2"
)

func init() {
	register(&command{
		name:    "transfer",
		summary: "write hex bytes and/or read bytes on the current bus",
		run:     runTransfer,
	})
	register(&command{
		name:    "led",
		summary: "set LED colors (RRGGBB ...) on WS2812, APA102 or onboard LEDs",
		run:     runLED,
	})
	register(&command{
		name:    "monitor",
		summary: "switch to UART and print received data until interrupted",
		run:     runMonitor,
	})
}

// parseHex accepts "a0 10", "a010" and "0xa0,0x10".
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer("0x", "", "0X", "", " ", "", ",", "", ":", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, usagef("bad hex data: %v", err)
	}
	return data, nil
}

func runTransfer(ctx context.Context, e *env, args []string) error {
	var write string
	var read uint16
	var noStart, noStop, alt bool
	fs := newFlagSet(e, "transfer")
	fs.StringVarP(&write, "write", "w", "", "hex bytes to write")
	fs.Uint16VarP(&read, "read", "r", 0, "number of bytes to read")
	fs.BoolVar(&noStart, "no-start", false, "do not send a start condition")
	fs.BoolVar(&noStop, "no-stop", false, "do not send a stop condition")
	fs.BoolVar(&alt, "alt", false, "use the alternate start/stop (I2C repeated start, SPI CS high)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	data, err := parseHex(write)
	if err != nil {
		return err
	}
	if len(data) == 0 && read == 0 {
		return usagef("nothing to transfer, use --write and/or --read")
	}
	dr := &bpio2.DataRequest{DataWrite: data, BytesRead: read}
	if alt {
		dr.StartAlt, dr.StopAlt = !noStart, !noStop
	} else {
		dr.StartMain, dr.StopMain = !noStart, !noStop
	}

	d, err := e.openDevice(label("transfer", args))
	if err != nil {
		return err
	}
	defer d.Close()
	got, err := d.Transfer(ctx, dr)
	if err != nil {
		return err
	}
	if len(got) > 0 {
		fmt.Fprint(e.stdout, hex.Dump(got))
	}
	return nil
}

func runLED(ctx context.Context, e *env, args []string) error {
	var typ string
	var brightness uint8
	var white int
	fs := newFlagSet(e, "led")
	fs.StringVarP(&typ, "type", "t", "onboard", "LED type: ws2812, apa102 or onboard")
	fs.Uint8VarP(&brightness, "brightness", "b", bpio2.MaxBrightness, "APA102 global brightness, 0-31")
	fs.IntVar(&white, "white", -1, "white channel for a single RGBW WS2812 LED")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	mode, err := bpio2.ParseLEDMode(typ)
	if err != nil {
		return &usageError{err.Error()}
	}
	var colors []bpio2.RGB
	for _, a := range fs.Args() {
		c, err := parseColor(a)
		if err != nil {
			return err
		}
		colors = append(colors, c)
	}
	if len(colors) == 0 {
		return usagef("no colors given")
	}

	var frame []byte
	if white >= 0 {
		if len(colors) != 1 || white > 0xFF {
			return usagef("--white takes one color and a value up to 255")
		}
		frame, err = bpio2.RGBWFrame(mode, colors[0], uint8(white))
	} else {
		frame, err = bpio2.LEDFrame(mode, brightness, colors...)
	}
	if err != nil {
		return &usageError{err.Error()}
	}

	d, err := e.openDevice(label("led", args))
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Configure(ctx, bpio2.LEDConfiguration(mode)); err != nil {
		return err
	}
	_, err = d.Transfer(ctx, bpio2.LEDWrite(frame))
	return err
}

func runMonitor(ctx context.Context, e *env, args []string) error {
	var speed uint32
	var duration time.Duration
	var send string
	fs := newFlagSet(e, "monitor")
	fs.Uint32Var(&speed, "speed", 115200, "UART speed in bps")
	fs.DurationVar(&duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	fs.StringVar(&send, "send", "", "text to send once configured")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	d, err := e.openDevice(label("monitor", args))
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Configure(ctx, bpio2.UARTConfiguration(speed)); err != nil {
		return err
	}
	if send != "" {
		if _, err := d.Transfer(ctx, &bpio2.DataRequest{DataWrite: []byte(send)}); err != nil {
			return err
		}
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	var total int
	for {
		data, err := d.PollAsync(ctx, time.Second)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				e.logger.LogAttrs(context.Background(), slog.LevelInfo, "monitor stopped", slog.Int("bytes", total))
				return nil
			}
			return err
		}
		total += len(data)
		e.stdout.Write(data)
	}
}
