// Package transport implements the reliable binary serial transport
// shared by the Reflex and Face device clients: byte-stream framing on
// top of package wire, automatic reconnect with exponential backoff, and
// connection-state events for upper layers.
package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/robot-supervisor/wire"
)

// ErrDisconnected is returned by Send when the link is not currently
// open; the control loop treats it as recoverable for that tick.
var ErrDisconnected = errors.New("transport: disconnected")

const (
	backoffFloor  = 500 * time.Millisecond
	backoffCap    = 5 * time.Second
	sendQueueLen  = 16
	recvQueueLen  = 32
	eventQueueLen = 8
)

// Dialer opens the underlying byte stream. Production code binds this to
// a real serial port (see SerialDialer in serialio.go); tests bind it to an
// in-process pipe.
type Dialer interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// EventKind distinguishes connect/disconnect notifications.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
)

// Event is a synthetic connection-state notification.
type Event struct {
	Kind  EventKind
	Cause error // nil for EventConnected and for explicit close
	At    time.Time
}

// Diagnostics mirrors the link-health counters RobotState surfaces to
// the dashboard.
type Diagnostics struct {
	RxBytes       uint64
	TxBytes       uint64
	FramesOK      uint32
	FramesBad     uint32
	Reconnects    uint32
	LastOpenNS    int64
	LastCloseNS   int64
	LastErrorKind string
}

// Transport is an async duplex channel over a framed byte stream. It
// owns one reader goroutine, one writer goroutine and one supervisor
// goroutine for its lifetime.
type Transport struct {
	dialer Dialer

	sendQ  chan []byte
	recvQ  chan wire.Packet
	events chan Event

	connected atomic.Bool

	mu   sync.Mutex
	diag Diagnostics

	cancel context.CancelFunc
	done   chan struct{}
}

// Start dials dialer and begins supervising the link until ctx is
// cancelled or Close is called.
func Start(ctx context.Context, dialer Dialer) *Transport {
	cctx, cancel := context.WithCancel(ctx)
	t := &Transport{
		dialer: dialer,
		sendQ:  make(chan []byte, sendQueueLen),
		recvQ:  make(chan wire.Packet, recvQueueLen),
		events: make(chan Event, eventQueueLen),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.supervise(cctx)
	return t
}

// Close stops the supervisor, reader and writer goroutines. It does not
// close the channels returned by Recv/Events; callers should stop
// reading from them once Close returns.
func (t *Transport) Close() {
	t.cancel()
	<-t.done
}

// Send enqueues a pre-built frame for the writer goroutine. It returns
// ErrDisconnected immediately, without blocking, if the link is not
// currently open.
func (t *Transport) Send(frame []byte) error {
	if !t.connected.Load() {
		return ErrDisconnected
	}
	select {
	case t.sendQ <- frame:
		return nil
	default:
		// Writer is behind; rather than block the caller (the control
		// loop), drop and let the next tick resend the latest command.
		return nil
	}
}

// Recv yields parsed packets as they arrive.
func (t *Transport) Recv() <-chan wire.Packet { return t.recvQ }

// Events yields connection-state notifications.
func (t *Transport) Events() <-chan Event { return t.events }

// Connected reports whether the link is currently open.
func (t *Transport) Connected() bool { return t.connected.Load() }

// Diagnostics returns a snapshot of link-health counters.
func (t *Transport) Diagnostics() Diagnostics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.diag
}

func (t *Transport) supervise(ctx context.Context) {
	defer close(t.done)

	backoff := newBackoff(backoffFloor, backoffCap)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := t.dialer.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.noteError("dial", err)
			if !sleepCtx(ctx, backoff.next()) {
				return
			}
			continue
		}

		now := time.Now()
		t.mu.Lock()
		t.diag.LastOpenNS = now.UnixNano()
		t.diag.Reconnects++
		t.mu.Unlock()
		backoff.reset()
		t.connected.Store(true)
		t.emit(Event{Kind: EventConnected, At: now})

		cause := t.runLink(ctx, rwc)
		_ = rwc.Close()
		t.connected.Store(false)

		closedAt := time.Now()
		t.mu.Lock()
		t.diag.LastCloseNS = closedAt.UnixNano()
		if cause != nil {
			t.diag.LastErrorKind = errKind(cause)
		}
		t.mu.Unlock()
		t.emit(Event{Kind: EventDisconnected, Cause: cause, At: closedAt})

		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, backoff.next()) {
			return
		}
	}
}

// runLink owns one open connection's reader and writer goroutines until
// either fails or ctx is cancelled (a clean, intentional close: nil
// cause).
func (t *Transport) runLink(ctx context.Context, rwc io.ReadWriteCloser) error {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go t.readLoop(lctx, rwc, readErr)

	writeErr := make(chan error, 1)
	go t.writeLoop(lctx, rwc, writeErr)

	select {
	case <-ctx.Done():
		return nil
	case err := <-readErr:
		return err
	case err := <-writeErr:
		return err
	}
}

func (t *Transport) readLoop(ctx context.Context, r io.Reader, errCh chan<- error) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := r.Read(chunk)
		if n > 0 {
			t.mu.Lock()
			t.diag.RxBytes += uint64(n)
			t.mu.Unlock()
			buf = append(buf, chunk[:n]...)
			buf = t.drainFrames(buf)
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

// drainFrames splits buf on 0x00 delimiters, parses each complete frame
// and publishes successfully decoded packets; malformed frames are
// counted and dropped. It returns the unconsumed remainder.
func (t *Transport) drainFrames(buf []byte) []byte {
	for {
		i := indexZero(buf)
		if i < 0 {
			return buf
		}
		frame := buf[:i]
		buf = buf[i+1:]
		if len(frame) == 0 {
			continue
		}
		pkt, err := wire.Parse(frame)
		t.mu.Lock()
		if err != nil {
			t.diag.FramesBad++
		} else {
			t.diag.FramesOK++
		}
		t.mu.Unlock()
		if err != nil {
			continue
		}
		select {
		case t.recvQ <- pkt:
		default:
			// Consumer behind; drop oldest by making room for the newest.
			select {
			case <-t.recvQ:
			default:
			}
			select {
			case t.recvQ <- pkt:
			default:
			}
		}
	}
}

func (t *Transport) writeLoop(ctx context.Context, w io.Writer, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-t.sendQ:
			n, err := w.Write(frame)
			if n > 0 {
				t.mu.Lock()
				t.diag.TxBytes += uint64(n)
				t.mu.Unlock()
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		select {
		case <-t.events:
		default:
		}
		select {
		case t.events <- ev:
		default:
		}
	}
}

func (t *Transport) noteError(op string, err error) {
	t.mu.Lock()
	t.diag.LastErrorKind = op + ": " + errKind(err)
	t.mu.Unlock()
}

func errKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, io.EOF) {
		return "eof"
	}
	return "io_error"
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0x00 {
			return i
		}
	}
	return -1
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoff implements the reconnect policy: start at floor,
// double on each failure, cap at max, reset to floor on success.
type backoff struct {
	floor, cap, cur time.Duration
}

func newBackoff(floor, capD time.Duration) *backoff {
	return &backoff{floor: floor, cap: capD, cur: floor}
}

func (b *backoff) next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > b.cap {
		b.cur = b.cap
	}
	return d
}

func (b *backoff) reset() { b.cur = b.floor }
