package teleinfo

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

const (
	// historic teleinfo line settings: 1200 baud 7E1
	serialBaud = 1200

	streamBufferSize = 256
)

// ByteSource is a non blocking byte stream. ReadByte is only called after
// Available reported pending bytes.
type ByteSource interface {
	Available() int
	ReadByte() (byte, error)
}

// to allow testing
var openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(c)
}

// OpenSerial opens a teleinfo serial port.
func OpenSerial(name string) (*StreamSource, error) {
	port, err := openPort(&serial.Config{
		Name:     name,
		Baud:     serialBaud,
		Size:     7,
		Parity:   serial.ParityEven,
		StopBits: serial.Stop1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open serial port %s", name)
	}
	return NewStreamSource(port), nil
}

var errSourceClosed = errors.New("stream source closed")

// StreamSource turns a blocking io.Reader into a ByteSource by pumping it
// from a goroutine.
type StreamSource struct {
	r    io.Reader
	ch   chan byte
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

func NewStreamSource(r io.Reader) *StreamSource {
	s := &StreamSource{
		r:    r,
		ch:   make(chan byte, streamBufferSize),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *StreamSource) pump() {
	buf := make([]byte, 64)
	for {
		n, err := s.r.Read(buf)
		for _, b := range buf[:n] {
			select {
			case s.ch <- b:
			case <-s.done:
				s.setErr(errSourceClosed)
				return
			}
		}
		if err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *StreamSource) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *StreamSource) Available() int {
	return len(s.ch)
}

func (s *StreamSource) ReadByte() (byte, error) {
	select {
	case b := <-s.ch:
		return b, nil
	default:
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	return 0, io.EOF
}

// Err returns the error that stopped the underlying reader, once every byte
// read before it has been consumed.
func (s *StreamSource) Err() error {
	// the error is set after the last byte was queued, so it has to be
	// loaded before the queue length
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err == nil || len(s.ch) > 0 {
		return nil
	}
	return err
}

// Close stops the pump and closes the underlying reader if it is an
// io.Closer.
func (s *StreamSource) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
