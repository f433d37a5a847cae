package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/andreyvit/flatbuf/bpio2"
)

func init() {
	register(&command{
		name:    "status",
		summary: "query and print the device status (queries: " + queryNames() + ")",
		run:     runStatus,
	})
}

func queryNames() string {
	var names []string
	for q := bpio2.QueryAll; q <= bpio2.QueryLED; q++ {
		names = append(names, q.String())
	}
	return strings.Join(names, ", ")
}

func runStatus(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "status")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	var queries []bpio2.StatusQuery
	for _, a := range fs.Args() {
		q, err := bpio2.ParseStatusQuery(a)
		if err != nil {
			return &usageError{err.Error()}
		}
		queries = append(queries, q)
	}

	d, err := e.openDevice(label("status", args))
	if err != nil {
		return err
	}
	defer d.Close()

	st, err := d.Status(ctx, queries...)
	if err != nil {
		return err
	}
	if st.VersionFlatbuffersMajor != 0 {
		if err := bpio2.CheckCompatible(st); err != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "device may not understand us", slog.Any("err", err))
		}
	}
	printStatus(e.stdout, st)
	return nil
}

func printStatus(w io.Writer, st *bpio2.StatusResponse) {
	p := func(name, format string, args ...any) {
		fmt.Fprintf(w, "%-20s "+format+"\n", append([]any{name + ":"}, args...)...)
	}
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}

	if st.VersionFirmwareGitHash != "" || st.VersionHardwareMajor != 0 {
		p("hardware", "v%d REV%d", st.VersionHardwareMajor, st.VersionHardwareMinor)
		p("firmware", "v%d.%d (%s, %s)", st.VersionFirmwareMajor, st.VersionFirmwareMinor, st.VersionFirmwareGitHash, st.VersionFirmwareDate)
		p("protocol", "%d.%d", st.VersionFlatbuffersMajor, st.VersionFlatbuffersMinor)
	}
	if st.ModeCurrent != "" {
		p("mode", "%s", st.ModeCurrent)
		order := "LSB"
		if st.ModeBitorderMSB {
			order = "MSB"
		}
		p("bit order", "%s", order)
		p("max packet", "%d (write %d, read %d)", st.ModeMaxPacketSize, st.ModeMaxWrite, st.ModeMaxRead)
	}
	if len(st.ModesAvailable) > 0 {
		p("modes", "%s", strings.Join(st.ModesAvailable, ", "))
	}
	if len(st.ModePinLabels) > 0 {
		p("pins", "%s", strings.Join(st.ModePinLabels, " "))
	}
	p("psu", "%s, set %.2fV/%dmA, measured %.2fV/%dmA", onOff(st.PSUEnabled),
		float64(st.PSUSetMV)/1000, st.PSUSetMA, float64(st.PSUMeasuredMV)/1000, st.PSUMeasuredMA)
	if st.PSUCurrentError {
		p("psu fault", "current limit tripped")
	}
	p("pull-ups", "%s", onOff(st.PullupEnabled))
	if len(st.ADCMV) > 0 {
		var vs []string
		for _, mv := range st.ADCMV {
			vs = append(vs, fmt.Sprintf("%.2fV", float64(mv)/1000))
		}
		p("adc", "%s", strings.Join(vs, " "))
	}
	p("io", "direction %08b, value %08b", st.IODirection, st.IOValue)
	if st.DiskSizeMB > 0 {
		p("disk", "%s used of %s", mb(st.DiskUsedMB), mb(st.DiskSizeMB))
	}
	if st.LEDCount > 0 {
		p("leds", "%d", st.LEDCount)
	}
}

func mb(v float32) string {
	return humanize.IBytes(uint64(float64(v) * 1024 * 1024))
}
