package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/andreyvit/flatbuf/bpio2"
)

func init() {
	register(&command{
		name:    "configure",
		summary: "switch mode and set up PSU, pull-ups, IO pins and LEDs",
		run:     runConfigure,
	})
}

type configureFlags struct {
	mode string
	mc   bpio2.ModeConfiguration

	msb, lsb bool
	psuMV    uint32
	psuMA    uint16
	psuOff   bool
	pullups  string
	io       string
	leds     []string
	print    string

	reset, bootloader, selftest bool
}

func (f *configureFlags) add(fs *pflag.FlagSet) {
	f.mc = *bpio2.NewModeConfiguration()
	fs.StringVarP(&f.mode, "mode", "m", "", "mode to switch to, e.g. I2C, SPI, UART, LED")
	fs.Uint32Var(&f.mc.Speed, "speed", 0, "bus speed in Hz or bps")
	fs.Uint8Var(&f.mc.DataBits, "data-bits", f.mc.DataBits, "UART data bits")
	fs.BoolVar(&f.mc.Parity, "parity", false, "UART parity")
	fs.Uint8Var(&f.mc.StopBits, "stop-bits", f.mc.StopBits, "UART stop bits")
	fs.BoolVar(&f.mc.FlowControl, "flow-control", false, "UART hardware flow control")
	fs.BoolVar(&f.mc.SignalInversion, "invert", false, "invert UART signals")
	fs.BoolVar(&f.mc.ClockStretch, "clock-stretch", false, "allow I2C clock stretching")
	fs.BoolVar(&f.mc.ClockPolarity, "cpol", false, "SPI clock polarity")
	fs.BoolVar(&f.mc.ClockPhase, "cpha", false, "SPI clock phase")
	fs.BoolVar(&f.mc.ChipSelectIdle, "cs-idle", f.mc.ChipSelectIdle, "SPI chip select idle level")
	fs.Uint8Var(&f.mc.Submode, "submode", 0, "mode-specific submode")
	fs.Uint32Var(&f.mc.TxModulation, "tx-modulation", 0, "IR transmit modulation in Hz")
	fs.Uint8Var(&f.mc.RxSensor, "rx-sensor", 0, "IR receive sensor")
	fs.BoolVar(&f.msb, "msb", false, "send most significant bit first")
	fs.BoolVar(&f.lsb, "lsb", false, "send least significant bit first")
	fs.Uint32Var(&f.psuMV, "psu-mv", 0, "enable the PSU at this many millivolts")
	fs.Uint16Var(&f.psuMA, "psu-ma", 300, "PSU current limit in milliamps")
	fs.BoolVar(&f.psuOff, "psu-off", false, "disable the PSU")
	fs.StringVar(&f.pullups, "pullups", "", "on or off")
	fs.StringVar(&f.io, "io", "", "pin settings as pin=in|0|1, comma separated")
	fs.StringSliceVar(&f.leds, "led", nil, "RRGGBB colors for the onboard LEDs, or resume")
	fs.StringVar(&f.print, "print", "", "string to print on the device terminal")
	fs.BoolVar(&f.reset, "reset", false, "reset the device")
	fs.BoolVar(&f.bootloader, "bootloader", false, "jump to the bootloader")
	fs.BoolVar(&f.selftest, "selftest", false, "run the hardware self-test")
}

// request builds a configuration request that only touches what was asked for.
func (f *configureFlags) request(fs *pflag.FlagSet) (*bpio2.ConfigurationRequest, error) {
	req := bpio2.NewConfigurationRequest(f.mode)
	if f.mode != "" {
		mc := f.mc
		req.ModeConfiguration = &mc
	} else {
		for _, name := range []string{"speed", "data-bits", "parity", "stop-bits", "flow-control", "invert",
			"clock-stretch", "cpol", "cpha", "cs-idle", "submode", "tx-modulation", "rx-sensor"} {
			if fs.Changed(name) {
				return nil, usagef("--%s needs --mode", name)
			}
		}
	}

	if f.msb && f.lsb {
		return nil, usagef("--msb and --lsb are exclusive")
	}
	req.ModeBitorderMSB = f.msb
	req.ModeBitorderLSB = f.lsb

	switch {
	case f.psuOff && fs.Changed("psu-mv"):
		return nil, usagef("--psu-off and --psu-mv are exclusive")
	case f.psuOff:
		req.PSUDisable = true
	case fs.Changed("psu-mv"):
		req.PSUEnable = true
		req.PSUSetMV = f.psuMV
		req.PSUSetMA = f.psuMA
	}

	switch strings.ToLower(f.pullups) {
	case "":
	case "on":
		req.PullupEnable = true
	case "off":
		req.PullupDisable = true
	default:
		return nil, usagef("--pullups must be on or off, got %q", f.pullups)
	}

	if f.io != "" {
		if err := parseIO(req, f.io); err != nil {
			return nil, err
		}
	}

	for _, s := range f.leds {
		if strings.EqualFold(s, "resume") {
			req.LEDResume = true
			continue
		}
		c, err := parseColor(s)
		if err != nil {
			return nil, err
		}
		req.LEDColor = append(req.LEDColor, uint32(c.R)<<16|uint32(c.G)<<8|uint32(c.B))
	}

	req.PrintString = f.print
	req.HardwareReset = f.reset
	req.HardwareBootloader = f.bootloader
	req.HardwareSelftest = f.selftest
	return req, nil
}

// parseIO applies "0=in,1=1,2=0" style pin settings: in makes a pin an
// input, 0 and 1 make it an output driven low or high.
func parseIO(req *bpio2.ConfigurationRequest, list string) error {
	for _, part := range strings.Split(list, ",") {
		pin, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		n, err := strconv.ParseUint(pin, 10, 8)
		if !ok || err != nil || n > 7 {
			return usagef("bad --io setting %q", part)
		}
		bit := uint8(1) << n
		req.IODirectionMask |= bit
		switch strings.ToLower(val) {
		case "in":
		case "0", "1":
			req.IODirection |= bit
			req.IOValueMask |= bit
			if val == "1" {
				req.IOValue |= bit
			}
		default:
			return usagef("bad --io setting %q", part)
		}
	}
	return nil
}

func parseColor(s string) (bpio2.RGB, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "#"), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil || len(s) != 6 {
		return bpio2.RGB{}, usagef("bad color %q, want RRGGBB", s)
	}
	return bpio2.RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func runConfigure(ctx context.Context, e *env, args []string) error {
	var f configureFlags
	fs := newFlagSet(e, "configure")
	f.add(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usagef("unexpected argument %q", fs.Arg(0))
	}
	req, err := f.request(fs)
	if err != nil {
		return err
	}

	d, err := e.openDevice(label("configure", args))
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Configure(ctx, req); err != nil {
		return err
	}
	if req.Mode != "" {
		fmt.Fprintf(e.stdout, "mode: %s\n", req.Mode)
	}
	return nil
}
