package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/andreyvit/flatbuf/bpio2"
	"github.com/andreyvit/flatbuf/cobs"
	"github.com/andreyvit/flatbuf/mmap"
)

func init() {
	register(&command{
		name:    "decode",
		summary: "decode BPIO2 packets from a raw or COBS-framed file as JSON",
		run:     runDecode,
	})
	register(&command{
		name:    "schema",
		summary: "print the BPIO2 schema",
		run:     runSchema,
	})
}

// decoded is one packet as printed by decode and capture show.
type decoded struct {
	Frame    int    `json:"frame,omitempty"`
	Kind     string `json:"kind"`
	Contents string `json:"contents,omitempty"`
	Error    string `json:"error,omitempty"`
	Packet   any    `json:"packet,omitempty"`
}

// decodePacket decodes a frame as a request, a response, or whichever fits
// when as is "auto". A packet carrying a device error still decodes.
func decodePacket(frame []byte, as string) decoded {
	if as == "auto" || as == "request" {
		req, err := bpio2.DecodeRequest(frame)
		switch {
		case err == nil && (as == "request" || req.VersionMajor == bpio2.VersionMajor && req.Contents != nil):
			return decoded{Kind: "request", Contents: bpio2.ContentsName(req.Contents), Packet: req}
		case as == "request":
			return decoded{Kind: "request", Error: err.Error()}
		}
	}
	resp, err := bpio2.DecodeResponse(frame)
	d := decoded{Kind: "response"}
	if resp != nil {
		d.Contents = bpio2.ContentsName(resp.Contents)
		d.Packet = resp
	}
	if err != nil {
		d.Error = err.Error()
	}
	return d
}

// splitFrames returns the packets in data. "auto" takes data as COBS frames
// if it ends in a delimiter and every frame decodes, and as a single raw
// packet otherwise.
func splitFrames(data []byte, framing string) ([][]byte, error) {
	switch framing {
	case "raw":
		return [][]byte{data}, nil
	case "cobs", "auto":
	default:
		return nil, usagef("unknown framing %q, use auto, raw or cobs", framing)
	}
	if framing == "auto" && (len(data) == 0 || data[len(data)-1] != cobs.Delimiter) {
		return [][]byte{data}, nil
	}
	r := cobs.NewReader(bytes.NewReader(data), len(data)+1)
	var frames [][]byte
	for {
		frame, err := r.ReadFrame()
		if errors.Is(err, io.EOF) {
			return frames, nil
		} else if err != nil {
			if framing == "auto" {
				return [][]byte{data}, nil
			}
			return nil, err
		}
		frames = append(frames, bytes.Clone(frame))
	}
}

func decodeFile(w io.Writer, path, framing, as string) error {
	r, err := mmap.Open(path, mmap.SequentialAccess)
	if err != nil {
		return err
	}
	defer r.Close()
	frames, err := splitFrames(r.Bytes(), framing)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	for i, frame := range frames {
		d := decodePacket(frame, as)
		d.Frame = i + 1
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}

func runDecode(ctx context.Context, e *env, args []string) error {
	var framing, as string
	fs := newFlagSet(e, "decode")
	fs.StringVar(&framing, "framing", "auto", "auto, raw or cobs")
	fs.StringVar(&as, "as", "auto", "auto, request or response")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	switch as {
	case "auto", "request", "response":
	default:
		return usagef("unknown --as %q", as)
	}
	if fs.NArg() == 0 {
		return usagef("no files given")
	}
	for _, path := range fs.Args() {
		if err := decodeFile(e.stdout, path, framing, as); err != nil {
			return err
		}
	}
	return nil
}

func runSchema(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "schema")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	_, err := io.WriteString(e.stdout, bpio2.Schema.Describe())
	return err
}
