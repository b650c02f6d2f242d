package transport

import (
	"context"
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialDialer opens a real OS serial device at a fixed baud rate. It is
// the production Dialer for both the Reflex and Face links; --mock
// substitutes MockDialer instead.
type SerialDialer struct {
	Port string
	Baud int
}

func NewSerialDialer(port string, baud int) *SerialDialer {
	return &SerialDialer{Port: port, Baud: baud}
}

func (s *SerialDialer) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{BaudRate: s.Baud}
	port, err := serial.Open(s.Port, mode)
	if err != nil {
		return nil, err
	}
	// A read deadline lets the reader goroutine notice context
	// cancellation promptly instead of blocking forever on an idle line.
	_ = port.SetReadTimeout(readTimeout)
	return port, nil
}

func (s *SerialDialer) String() string { return s.Port }

const readTimeout = 250 * time.Millisecond
