// Package link runs BPIO2 request/response sessions over a COBS-framed byte
// stream such as a Bus Pirate serial port.
//
// One request is in flight at a time. Frames arrive on a background reader;
// asynchronous DataResponse frames (e.g. bytes received by the UART) are
// queued separately and never mistaken for the answer to a request. A frame
// that fails to decode is logged, counted and dropped, and the session goes on.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyvit/flatbuf"
	"github.com/andreyvit/flatbuf/bpio2"
	"github.com/andreyvit/flatbuf/cobs"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultAsyncQueue = 64
)

var ErrClosed = errors.New("link: closed")

// Direction tells which way a frame travelled.
type Direction uint8

const (
	Sent     Direction = 1
	Received Direction = 2
)

func (d Direction) String() string {
	switch d {
	case Sent:
		return "sent"
	case Received:
		return "received"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Recorder receives every decoded frame that crosses the link, before it is
// parsed. frame is only valid during the call.
type Recorder interface {
	Record(dir Direction, frame []byte) error
}

type Options struct {
	Logger       *slog.Logger
	Timeout      time.Duration // per request; negative disables
	MaxFrameSize int
	AsyncQueue   int
	Recorder     Recorder
}

type Stats struct {
	Requests      uint64
	Responses     uint64
	Async         uint64
	AsyncDropped  uint64
	BadFrames     uint64 // COBS errors
	DecodeErrors  uint64 // well-framed but not a valid ResponsePacket
	Unsolicited   uint64
	Timeouts      uint64
	BytesSent     uint64
	BytesReceived uint64
}

type result struct {
	resp *bpio2.ResponsePacket
	err  error
}

type Client struct {
	rw       io.ReadWriter
	logger   *slog.Logger
	timeout  time.Duration
	recorder Recorder

	mu      sync.Mutex
	builder *flatbuf.Builder
	frame   []byte
	wbuf    []byte

	responses chan result
	async     chan *bpio2.DataResponse
	done      chan struct{}
	closed    chan struct{}
	readErr   error
	closeOnce sync.Once

	requests, responsesN, asyncN, asyncDropped atomic.Uint64
	badFrames, decodeErrors, unsolicited       atomic.Uint64
	timeouts, bytesSent, bytesReceived         atomic.Uint64
}

// New starts a session over rw. The client owns rw from now on: Close closes
// it if it implements io.Closer.
func New(rw io.ReadWriter, o Options) *Client {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.AsyncQueue <= 0 {
		o.AsyncQueue = DefaultAsyncQueue
	}
	c := &Client{
		rw:        rw,
		logger:    o.Logger,
		timeout:   o.Timeout,
		recorder:  o.Recorder,
		builder:   flatbuf.NewBuilder(256),
		responses: make(chan result, 1),
		async:     make(chan *bpio2.DataResponse, o.AsyncQueue),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
	}
	go c.readLoop(cobs.NewReader(rw, o.MaxFrameSize))
	return c
}

func (c *Client) Stats() Stats {
	return Stats{
		Requests:      c.requests.Load(),
		Responses:     c.responsesN.Load(),
		Async:         c.asyncN.Load(),
		AsyncDropped:  c.asyncDropped.Load(),
		BadFrames:     c.badFrames.Load(),
		DecodeErrors:  c.decodeErrors.Load(),
		Unsolicited:   c.unsolicited.Load(),
		Timeouts:      c.timeouts.Load(),
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
	}
}

// Close shuts the session down. Pending and future requests fail with
// ErrClosed or the read error that ended the session. The reader goroutine
// only exits if rw is an io.Closer (or its reads fail on their own).
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if cl, ok := c.rw.(io.Closer); ok {
			err = cl.Close()
			<-c.done
		}
	})
	return err
}

// Done is closed when the reader stops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the reader, if it has stopped.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

func (c *Client) readLoop(r *cobs.Reader) {
	defer close(c.done)
	ctx := context.Background()
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			var fe *cobs.FrameError
			if errors.As(err, &fe) {
				c.badFrames.Add(1)
				c.logger.LogAttrs(ctx, slog.LevelWarn, "link: dropping bad frame", slog.Any("err", err))
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				c.readErr = ErrClosed
			} else {
				c.readErr = fmt.Errorf("link: read: %w", err)
				c.logger.LogAttrs(ctx, slog.LevelError, "link: reader failed", slog.Any("err", err))
			}
			return
		}
		c.bytesReceived.Add(uint64(len(frame)))
		c.record(Received, frame)
		c.dispatch(ctx, frame)
	}
}

func (c *Client) dispatch(ctx context.Context, frame []byte) {
	resp, err := bpio2.DecodeResponse(frame)
	if resp == nil {
		c.decodeErrors.Add(1)
		c.logger.LogAttrs(ctx, slog.LevelWarn, "link: dropping undecodable frame", slog.Int("len", len(frame)), slog.Any("err", err))
		return
	}

	if dr, ok := resp.Contents.(*bpio2.DataResponse); ok && dr.IsAsync {
		c.asyncN.Add(1)
		select {
		case c.async <- dr:
		default:
			c.asyncDropped.Add(1)
			c.logger.LogAttrs(ctx, slog.LevelWarn, "link: async queue full, dropping data", slog.Int("len", len(dr.DataRead)))
		}
		return
	}

	c.responsesN.Add(1)
	select {
	case c.responses <- result{resp, err}:
	default:
		c.unsolicited.Add(1)
		c.logger.LogAttrs(ctx, slog.LevelWarn, "link: dropping unsolicited response", slog.String("contents", bpio2.ContentsName(resp.Contents)))
	}
}

func (c *Client) record(dir Direction, frame []byte) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(dir, frame); err != nil {
		c.logger.LogAttrs(context.Background(), slog.LevelWarn, "link: recorder failed", slog.String("dir", dir.String()), slog.Any("err", err))
	}
}

// Do sends req and waits for the response. A response carrying a device
// error is returned together with a *bpio2.ResponseError.
func (c *Client) Do(ctx context.Context, req *bpio2.RequestPacket) (*bpio2.ResponsePacket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return nil, ErrClosed
	case <-c.done:
		return nil, c.readErr
	default:
	}

	// a late answer to a request that timed out must not be taken for ours
	select {
	case <-c.responses:
		c.unsolicited.Add(1)
	default:
	}

	var err error
	c.frame, err = bpio2.AppendRequest(c.frame[:0], c.builder, req)
	if err != nil {
		return nil, err
	}
	c.record(Sent, c.frame)
	c.wbuf = cobs.Encode(c.wbuf[:0], c.frame)
	if _, err := c.rw.Write(c.wbuf); err != nil {
		return nil, fmt.Errorf("link: write: %w", err)
	}
	c.requests.Add(1)
	c.bytesSent.Add(uint64(len(c.frame)))

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	for {
		select {
		case r := <-c.responses:
			// without request ids, only a mismatched type exposes a stale answer
			if !bpio2.Answers(req.Contents, r.resp.Contents) {
				c.unsolicited.Add(1)
				c.logger.LogAttrs(ctx, slog.LevelWarn, "link: dropping stale response",
					slog.String("request", bpio2.ContentsName(req.Contents)),
					slog.String("response", bpio2.ContentsName(r.resp.Contents)))
				continue
			}
			return r.resp, r.err
		case <-c.closed:
			return nil, ErrClosed
		case <-c.done:
			return nil, c.readErr
		case <-ctx.Done():
			c.timeouts.Add(1)
			return nil, fmt.Errorf("link: waiting for response to %s: %w", bpio2.ContentsName(req.Contents), ctx.Err())
		}
	}
}

// Status queries the device status, all of it when no queries are given.
func (c *Client) Status(ctx context.Context, queries ...bpio2.StatusQuery) (*bpio2.StatusResponse, error) {
	resp, err := c.Do(ctx, bpio2.NewRequest(bpio2.NewStatusRequest(queries...)))
	if err != nil {
		return nil, err
	}
	return bpio2.ContentsAs[bpio2.StatusResponse](resp)
}

// Handshake fetches the version status and verifies protocol compatibility.
func (c *Client) Handshake(ctx context.Context) (*bpio2.StatusResponse, error) {
	st, err := c.Status(ctx, bpio2.QueryVersion)
	if err != nil {
		return nil, err
	}
	return st, bpio2.CheckCompatible(st)
}

func (c *Client) Configure(ctx context.Context, cfg *bpio2.ConfigurationRequest) error {
	resp, err := c.Do(ctx, bpio2.NewRequest(cfg))
	if err != nil {
		return err
	}
	_, err = bpio2.ContentsAs[bpio2.ConfigurationResponse](resp)
	return err
}

// Transfer performs a bus transaction and returns the bytes read.
func (c *Client) Transfer(ctx context.Context, dr *bpio2.DataRequest) ([]byte, error) {
	resp, err := c.Do(ctx, bpio2.NewRequest(dr))
	if err != nil {
		return nil, err
	}
	data, err := bpio2.ContentsAs[bpio2.DataResponse](resp)
	if err != nil {
		return nil, err
	}
	return data.DataRead, nil
}

// Async delivers data the device pushed on its own.
func (c *Client) Async() <-chan *bpio2.DataResponse {
	return c.async
}

// PollAsync waits up to wait for asynchronous data. It returns nil, nil if
// nothing arrived in time.
func (c *Client) PollAsync(ctx context.Context, wait time.Duration) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case dr := <-c.async:
		return dr.DataRead, nil
	case <-timer.C:
		return nil, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-c.done:
		return nil, c.readErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
