package teleinfo

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
)

type portStub struct {
	io.Reader
	closed bool
}

func (p *portStub) Write(b []byte) (int, error) {
	return len(b), nil
}

func (p *portStub) Close() error {
	p.closed = true
	return nil
}

func TestOpenSerial(t *testing.T) {
	defer noDelays()()
	var cfg *serial.Config
	port := &portStub{Reader: bytes.NewReader(EncodeFrame(Group{"IMAX", "045"}))}
	defer func(f func(*serial.Config) (io.ReadWriteCloser, error)) { openPort = f }(openPort)
	openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
		cfg = c
		return port, nil
	}

	src, err := OpenSerial("/dev/ttyAMA0")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyAMA0", cfg.Name)
	assert.Equal(t, 1200, cfg.Baud)
	assert.EqualValues(t, 7, cfg.Size)
	assert.Equal(t, serial.ParityEven, cfg.Parity)
	assert.Equal(t, serial.Stop1, cfg.StopBits)

	r := NewReader(src)
	require.NoError(t, r.ReadFrame(context.Background(), time.Second))
	v, ok := r.Value("IMAX")
	require.True(t, ok)
	assert.EqualValues(t, 45, v.Uint())

	// port drained: the source reports io.EOF as fatal
	err = r.StartRead(context.Background())
	assert.Equal(t, io.EOF, errors.Cause(err))

	require.NoError(t, src.Close())
	assert.True(t, port.closed)
}

func TestOpenSerialError(t *testing.T) {
	defer func(f func(*serial.Config) (io.ReadWriteCloser, error)) { openPort = f }(openPort)
	openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	}

	_, err := OpenSerial("/dev/ttyUSB9")
	assert.Error(t, err)
}

func TestStreamSourceEmpty(t *testing.T) {
	pr, pw := io.Pipe()
	src := NewStreamSource(pr)
	assert.Equal(t, 0, src.Available())
	_, err := src.ReadByte()
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, src.Err())

	go pw.Write([]byte{0x42})
	assert.Eventually(t, func() bool { return src.Available() == 1 }, time.Second, time.Millisecond)
	b, err := src.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), b)

	pw.CloseWithError(errors.New("unplugged"))
	assert.Eventually(t, func() bool { return src.Err() != nil }, time.Second, time.Millisecond)
	assert.NoError(t, src.Close())
}

type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func TestStreamSourceCloseStopsPump(t *testing.T) {
	src := NewStreamSource(endlessReader{})
	assert.Eventually(t, func() bool { return src.Available() == streamBufferSize }, time.Second, time.Millisecond)

	// nobody reads anymore, the pump must still see the close
	require.NoError(t, src.Close())
	assert.Eventually(t, func() bool {
		for src.Available() > 0 {
			_, _ = src.ReadByte()
		}
		return src.Err() == errSourceClosed
	}, time.Second, time.Millisecond)
	assert.NoError(t, src.Close())
}

func TestStreamSourceErrAfterDrain(t *testing.T) {
	src := NewStreamSource(bytes.NewReader([]byte("abc")))
	assert.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.err != nil
	}, time.Second, time.Millisecond)

	// bytes read before the failure come first
	for _, want := range []byte("abc") {
		assert.NoError(t, src.Err())
		b, err := src.ReadByte()
		require.NoError(t, err)
		assert.Equal(t, want, b)
	}
	assert.Equal(t, io.EOF, src.Err())
}
