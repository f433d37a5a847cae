package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/andreyvit/flatbuf/capture"
	"github.com/andreyvit/flatbuf/link"
)

func init() {
	register(&command{
		name:    "capture",
		summary: "list, show, export, import or delete recorded sessions",
		run:     runCapture,
	})
}

func (e *env) openStore() (*capture.Store, error) {
	if e.cfg.Capture == "" {
		return nil, usagef("no capture database, use --capture or set capture in the config")
	}
	return capture.Open(e.cfg.Capture, capture.Options{Logger: e.logger})
}

func parseSessionID(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, usagef("expected one session id")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, usagef("bad session id %q", args[0])
	}
	return id, nil
}

func runCapture(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return usagef("capture needs a subcommand: list, show, stats, export, import, delete")
	}
	sub, args := args[0], args[1:]
	fs := newFlagSet(e, "capture "+sub)
	var raw bool
	var output, compression string
	switch sub {
	case "show":
		fs.BoolVar(&raw, "raw", false, "hex dump frames instead of decoding them")
	case "export":
		fs.StringVarP(&output, "output", "o", "", "archive file (default stdout)")
		fs.StringVarP(&compression, "compression", "c", e.cfg.Compression, "none, lz4 or zstd")
	case "list", "stats", "import", "delete":
	default:
		return usagef("unknown capture subcommand %q", sub)
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	args = fs.Args()

	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	switch sub {
	case "list":
		return listSessions(e.stdout, store)
	case "stats":
		st, err := store.Stats()
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "sessions: %d\nframes:   %s\npayload:  %s\ndatabase: %s\n",
			st.Sessions, humanize.Comma(int64(st.Frames)), humanize.IBytes(st.Bytes), humanize.IBytes(uint64(st.Size)))
		return nil
	case "show":
		id, err := parseSessionID(args)
		if err != nil {
			return err
		}
		return showSession(e.stdout, store, id, raw)
	case "export":
		id, err := parseSessionID(args)
		if err != nil {
			return err
		}
		c, err := capture.ParseCompression(compression)
		if err != nil {
			return &usageError{err.Error()}
		}
		return exportSession(store, id, c, output, e.stdout)
	case "import":
		if len(args) != 1 {
			return usagef("expected one archive file")
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := store.Import(f)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "imported session %d (%d frames)\n", info.ID, info.Frames)
		return nil
	case "delete":
		id, err := parseSessionID(args)
		if err != nil {
			return err
		}
		return store.DeleteSession(id)
	}
	return nil
}

func listSessions(w io.Writer, store *capture.Store) error {
	list, err := store.Sessions()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tFRAMES\tBYTES\tLABEL")
	for _, s := range list {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", s.ID, s.Started.Local().Format(time.DateTime),
			s.Frames, humanize.IBytes(s.Bytes), s.Label)
	}
	return tw.Flush()
}

type shownFrame struct {
	Seq  uint64    `json:"seq"`
	Dir  string    `json:"dir"`
	Time time.Time `json:"time"`
	decoded
}

func showSession(w io.Writer, store *capture.Store, id uint64, raw bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return store.Frames(id, func(f capture.Frame) error {
		if raw {
			_, err := fmt.Fprintf(w, "#%d %s %s\n%s", f.Seq, f.Dir, f.Time.Format(time.RFC3339Nano), hex.Dump(f.Data))
			return err
		}
		as := "response"
		if f.Dir == link.Sent {
			as = "request"
		}
		return enc.Encode(shownFrame{Seq: f.Seq, Dir: f.Dir.String(), Time: f.Time, decoded: decodePacket(f.Data, as)})
	})
}

func exportSession(store *capture.Store, id uint64, c capture.Compression, output string, stdout io.Writer) (err error) {
	w := stdout
	if output != "" {
		var f *os.File
		f, err = os.Create(output)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}
	return store.Export(w, id, c)
}
