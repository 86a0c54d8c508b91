// Package stream manages the duplex client connections of the examination
// server: per-connection read/write loops with heartbeat over a WebSocket,
// a capped registry with broadcast, and a typed event dispatcher that
// decouples transport from the exam pipeline.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vivavox/vivavox/pkg/audio"
)

const (
	defaultSampleRate        = 24000
	defaultHeartbeatInterval = 30 * time.Second
	defaultConnectionTimeout = 60 * time.Second
	pingTimeout              = 5 * time.Second
)

// Client is the outbound surface of a connection, narrowed so that the
// registry, dispatcher consumers and tests do not depend on a live socket.
type Client interface {
	// ID returns the connection's unique identifier.
	ID() string

	// SendJSON marshals v and writes it as a text message.
	SendJSON(ctx context.Context, v any) error

	// SendAudio writes a raw PCM chunk as a binary message.
	SendAudio(ctx context.Context, pcm []byte) error

	// Close tears the connection down. Safe to call multiple times.
	Close() error
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets the connection's logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) ConnOption {
	return func(c *Conn) { c.log = log }
}

// WithSampleRate sets the sample rate stamped onto inbound PCM frames.
func WithSampleRate(rate int) ConnOption {
	return func(c *Conn) { c.sampleRate = rate }
}

// WithHeartbeat sets the ping interval and the inactivity timeout after
// which the connection is dropped.
func WithHeartbeat(interval, timeout time.Duration) ConnOption {
	return func(c *Conn) {
		c.heartbeat = interval
		c.timeout = timeout
	}
}

// Conn wraps a single client WebSocket. All writes go through an internal
// mutex so exactly one goroutine touches the socket's write side at a time;
// reads happen only inside Run.
type Conn struct {
	id         string
	ws         *websocket.Conn
	log        *slog.Logger
	sampleRate int
	heartbeat  time.Duration
	timeout    time.Duration
	start      time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	seq          atomic.Uint64
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
	lastActivity atomic.Int64 // unix nanos
}

// NewConn wraps an accepted WebSocket. The connection does nothing until
// Run is called.
func NewConn(ws *websocket.Conn, opts ...ConnOption) *Conn {
	c := &Conn{
		id:         uuid.NewString(),
		ws:         ws,
		log:        slog.Default(),
		sampleRate: defaultSampleRate,
		heartbeat:  defaultHeartbeatInterval,
		timeout:    defaultConnectionTimeout,
		start:      time.Now(),
	}
	for _, o := range opts {
		o(c)
	}
	c.touch()
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// Stats is a snapshot of a connection's transport counters.
type Stats struct {
	FramesReceived uint64
	BytesReceived  uint64
	BytesSent      uint64
	LastActivity   time.Time
	Uptime         time.Duration
}

// Stats returns a snapshot of the connection's counters.
func (c *Conn) Stats() Stats {
	return Stats{
		FramesReceived: c.seq.Load(),
		BytesReceived:  c.bytesIn.Load(),
		BytesSent:      c.bytesOut.Load(),
		LastActivity:   time.Unix(0, c.lastActivity.Load()),
		Uptime:         time.Since(c.start),
	}
}

// Run drives the connection: it publishes a connect event, reads until the
// socket or context ends, and guarantees a disconnect event plus socket
// teardown on every exit path. It blocks until the connection is done.
func (c *Conn) Run(ctx context.Context, d *Dispatcher) error {
	d.Publish(Event{Kind: EventConnect, Conn: c})
	defer d.Publish(Event{Kind: EventDisconnect, Conn: c})
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		c.heartbeatLoop(ctx, cancel)
	}()

	err := c.readLoop(ctx, d)
	cancel()
	<-hbDone
	return err
}

// heartbeatLoop pings the client at the configured interval and cancels the
// connection when the transport ping fails or the peer has been inactive
// longer than the timeout.
func (c *Conn) heartbeatLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if idle := time.Since(time.Unix(0, c.lastActivity.Load())); idle > c.timeout {
				c.log.Info("stream: connection idle timeout", "conn", c.id, "idle", idle)
				cancel()
				return
			}
			pingCtx, done := context.WithTimeout(ctx, pingTimeout)
			err := c.ws.Ping(pingCtx)
			done()
			if err != nil {
				c.log.Info("stream: heartbeat ping failed", "conn", c.id, "error", err)
				cancel()
				return
			}
		}
	}
}

func (c *Conn) readLoop(ctx context.Context, d *Dispatcher) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) != -1 {
				return nil
			}
			return fmt.Errorf("stream: read: %w", err)
		}
		c.bytesIn.Add(uint64(len(data)))
		c.touch()

		// Text payloads that fail to parse as an envelope are treated as
		// audio, mirroring the binary path, so one malformed message cannot
		// stall the stream.
		if typ == websocket.MessageText {
			if msg, ok := parseClientMessage(data); ok {
				c.handleMessage(ctx, d, msg)
				continue
			}
		}

		frame := audio.AudioFrame{
			Data:       data,
			SampleRate: c.sampleRate,
			Channels:   1,
			Seq:        c.seq.Add(1),
			Timestamp:  time.Since(c.start),
		}
		d.Publish(Event{Kind: EventAudio, Conn: c, Frame: frame})
	}
}

func (c *Conn) handleMessage(ctx context.Context, d *Dispatcher, msg ClientMessage) {
	switch msg.Type {
	case MessageTypeControl:
		if msg.Command == CommandPing {
			// In-band keepalive, answered directly without involving the
			// exam pipeline.
			if err := c.SendJSON(ctx, pongReply{Type: "pong"}); err != nil {
				c.log.Debug("stream: pong failed", "conn", c.id, "error", err)
			}
			return
		}
		d.Publish(Event{Kind: EventControl, Conn: c, Message: msg})
	case MessageTypeText:
		d.Publish(Event{Kind: EventText, Conn: c, Message: msg})
	case MessageTypeBargeIn:
		d.Publish(Event{Kind: EventBargeIn, Conn: c, Message: msg})
	}
}

// SendJSON marshals v and writes it as a single text message.
func (c *Conn) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshal: %w", err)
	}
	return c.write(ctx, websocket.MessageText, data)
}

// SendAudio writes a raw PCM chunk as a single binary message.
func (c *Conn) SendAudio(ctx context.Context, pcm []byte) error {
	return c.write(ctx, websocket.MessageBinary, pcm)
}

func (c *Conn) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("stream: write: %w", err)
	}
	c.bytesOut.Add(uint64(len(data)))
	return nil
}

// Close closes the socket with a normal-closure status. Safe to call more
// than once; later calls return the first result.
func (c *Conn) Close() error {
	return c.CloseWithStatus(websocket.StatusNormalClosure, "")
}

// CloseWithStatus closes the socket with an explicit status code. Only the
// first close takes effect.
func (c *Conn) CloseWithStatus(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close(code, reason)
	})
	return c.closeErr
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

var _ Client = (*Conn)(nil)
