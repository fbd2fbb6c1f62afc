package softserial

import (
	"io"
	"sync/atomic"
)

const lineIdle = -1

// LineDecoder is a Pin that samples the level written once per bit period
// and rebuilds the bytes carried by the waveform. Decoded bytes are read
// back with ReadByte, which makes it usable as a loopback receive line.
type LineDecoder struct {
	rx    *Ring
	level atomic.Bool
	// bit index being received, lineIdle between frames
	bit int
	cur byte

	framingErrors atomic.Uint32
	overruns      atomic.Uint32
}

func NewLineDecoder(capacity int) *LineDecoder {
	return &LineDecoder{
		rx:  NewRing(capacity),
		bit: lineIdle,
	}
}

func (d *LineDecoder) ConfigureOutput() {
	d.bit = lineIdle
	d.level.Store(true)
}

func (d *LineDecoder) Get() bool {
	return d.level.Load()
}

func (d *LineDecoder) Set(high bool) {
	d.level.Store(high)
	switch {
	case d.bit == lineIdle:
		if !high {
			d.bit = 0
			d.cur = 0
		}
	case d.bit < stopBitPos:
		if high {
			d.cur |= 1 << uint(d.bit)
		}
		d.bit++
	default:
		d.bit = lineIdle
		if !high {
			d.framingErrors.Add(1)
			return
		}
		if err := d.rx.Push(d.cur); err != nil {
			d.overruns.Add(1)
		}
	}
}

func (d *LineDecoder) Available() int {
	return d.rx.Len()
}

// ReadByte returns io.EOF when nothing has been decoded yet.
func (d *LineDecoder) ReadByte() (byte, error) {
	b, ok := d.rx.Pop()
	if !ok {
		return 0, io.EOF
	}
	return b, nil
}

// FramingErrors counts bytes whose stop bit was low.
func (d *LineDecoder) FramingErrors() int {
	return int(d.framingErrors.Load())
}

// Overruns counts decoded bytes dropped because nobody read them.
func (d *LineDecoder) Overruns() int {
	return int(d.overruns.Load())
}
