package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/andreyvit/flatbuf/capture"
	"github.com/andreyvit/flatbuf/link"
	"github.com/andreyvit/flatbuf/wirelog"
)

// device is an open link, recording into the capture database and the wire
// log if those are configured.
type device struct {
	*link.Client
	store   *capture.Store
	session *capture.Session
	wlog    *wirelog.Log
	logger  *slog.Logger
}

// recorders fans every frame out to several recorders. All of them see the
// frame even if one fails.
type recorders []link.Recorder

func (rs recorders) Record(dir link.Direction, frame []byte) error {
	var errs []error
	for _, r := range rs {
		if err := r.Record(dir, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *env) openDevice(label string) (_ *device, err error) {
	d := &device{logger: e.logger}
	defer func() {
		if err != nil {
			d.closeRecorders()
		}
	}()
	o := link.Options{
		Logger:       e.logger,
		Timeout:      e.cfg.Timeout,
		MaxFrameSize: e.cfg.MaxFrameSize,
	}
	var rs recorders
	if e.cfg.Capture != "" {
		d.store, err = capture.Open(e.cfg.Capture, capture.Options{Logger: e.logger})
		if err != nil {
			return nil, err
		}
		d.session, err = d.store.BeginSession(label)
		if err != nil {
			return nil, err
		}
		rs = append(rs, d.session)
	}
	if e.cfg.WireLog != "" {
		d.wlog, err = wirelog.Open(e.cfg.WireLog, wirelog.Options{Logger: e.logger})
		if err != nil {
			return nil, err
		}
		rs = append(rs, d.wlog)
	}
	switch len(rs) {
	case 0:
	case 1:
		o.Recorder = rs[0]
	default:
		o.Recorder = rs
	}

	port, err := link.OpenSerial(e.cfg.Port)
	if err != nil {
		return nil, err
	}
	d.Client = link.New(port, o)
	e.logger.LogAttrs(context.Background(), slog.LevelDebug, "device opened", slog.String("port", e.cfg.Port))
	return d, nil
}

func (d *device) closeRecorders() error {
	var errs []error
	if d.wlog != nil {
		errs = append(errs, d.wlog.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

func (d *device) Close() error {
	err := d.Client.Close()
	st := d.Stats()
	attrs := []slog.Attr{
		slog.Uint64("requests", st.Requests),
		slog.Uint64("bad_frames", st.BadFrames),
		slog.Uint64("decode_errors", st.DecodeErrors),
		slog.Uint64("unsolicited", st.Unsolicited),
		slog.Uint64("timeouts", st.Timeouts),
	}
	if d.session != nil {
		attrs = append(attrs, slog.Uint64("session", d.session.ID()))
	}
	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "device closed", attrs...)
	if cerr := d.closeRecorders(); err == nil {
		err = cerr
	}
	return err
}
