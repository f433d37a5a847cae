package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/andreyvit/flatbuf/link"
	"github.com/andreyvit/flatbuf/wirelog"
)

func init() {
	register(&command{
		name:    "wirelog",
		summary: "print the frames in a wire log directory",
		run:     runWireLog,
	})
}

type loggedFrame struct {
	Seq     uint64    `json:"seq"`
	Segment uint32    `json:"segment"`
	Dir     string    `json:"dir"`
	Time    time.Time `json:"time"`
	decoded
}

func runWireLog(ctx context.Context, e *env, args []string) error {
	var raw bool
	fs := newFlagSet(e, "wirelog")
	fs.BoolVar(&raw, "raw", false, "hex dump frames instead of decoding them")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	dir := e.cfg.WireLog
	switch fs.NArg() {
	case 0:
	case 1:
		dir = fs.Arg(0)
	default:
		return usagef("expected one wire log directory")
	}
	if dir == "" {
		return usagef("no wire log directory given")
	}
	return printWireLog(e.stdout, dir, wirelog.Options{Logger: e.logger}, raw)
}

func printWireLog(w io.Writer, dir string, o wirelog.Options, raw bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return wirelog.Read(dir, o, func(ent wirelog.Entry) error {
		if raw {
			_, err := fmt.Fprintf(w, "#%d %s %s\n%s", ent.Seq, ent.Dir, ent.Time.Format(time.RFC3339Nano), hex.Dump(ent.Data))
			return err
		}
		as := "response"
		if ent.Dir == link.Sent {
			as = "request"
		}
		return enc.Encode(loggedFrame{
			Seq:     ent.Seq,
			Segment: ent.Segment,
			Dir:     ent.Dir.String(),
			Time:    ent.Time.UTC(),
			decoded: decodePacket(ent.Data, as),
		})
	})
}
