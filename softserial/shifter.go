package softserial

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// DefaultClockHz is the bit timer frequency (16 MHz, prescaler 0).
const DefaultClockHz = 16000000

const (
	stopBitPos = 8
	lastBitPos = stopBitPos + 1
	// start + 8 data + stop
	bitsPerByte = 10
)

const (
	stateNew int32 = iota
	stateOpen
	stateClosed
)

var flushPoll = time.Millisecond

type step int

const (
	stepShifting step = iota
	stepNextByte
	stepDrained
)

// shifter holds the line state shared by both transmitter variants.
//
// The busy flag is the consumer token: whoever moves it from false to true
// owns the queue's consumer side until it is released. The byte on the line
// stays at the head of the queue until its stop bit has been held, so it
// counts against the queue capacity.
//
//   ______________________________________________________________
//  | start bit | d0 | d1 | d2 | d3 | d4 | d5 | d6 | d7 | stop bit |
//  |___________|____|____|____|____|____|____|____|____|__________|
//
type shifter struct {
	pin   Pin
	queue *Ring
	state atomic.Int32
	busy  atomic.Bool
	// byte on the line, written by the busy owner before the timer is armed
	sendByte atomic.Uint32
	// only touched from the bit interrupt
	cursor uint8

	ticksPerBit uint32
	bitPeriod   time.Duration
}

func (s *shifter) configure(clockHz, baud uint32, pin Pin) error {
	if baud == 0 {
		return errors.New("baud rate must be positive")
	}
	if pin == nil {
		return errors.New("tx pin is required")
	}
	if clockHz/baud == 0 {
		return errors.Errorf("baud rate %d too high for a %d Hz timer", baud, clockHz)
	}
	s.ticksPerBit = clockHz / baud
	s.bitPeriod = time.Second / time.Duration(baud)
	s.pin = pin
	pin.ConfigureOutput()
	pin.Set(true)
	return nil
}

func (s *shifter) checkOpen() error {
	switch s.state.Load() {
	case stateNew:
		return ErrNotBegun
	case stateClosed:
		return ErrClosed
	}
	return nil
}

// startByte drives the start bit of b.
func (s *shifter) startByte(b byte) {
	s.sendByte.Store(uint32(b))
	s.pin.Set(false)
}

// tick shifts out one bit period.
func (s *shifter) tick() step {
	switch {
	case s.cursor < stopBitPos:
		s.pin.Set(s.sendByte.Load()&(1<<s.cursor) != 0)
		s.cursor++
		return stepShifting
	case s.cursor == stopBitPos:
		s.pin.Set(true)
		s.cursor++
		return stepShifting
	case s.cursor == lastBitPos:
		// the stop bit has been held for a full period
		s.cursor = 0
		s.queue.Pop()
		if b, ok := s.queue.Peek(); ok {
			s.startByte(b)
			return stepNextByte
		}
		return stepDrained
	}
	panic(fmt.Sprintf("softserial: bit cursor out of range: %d", s.cursor))
}

// release gives the busy token back. A byte pushed while the token was
// held would otherwise stay queued, so the queue is checked again and the
// token re-taken when something arrived in between.
func (s *shifter) release() (byte, bool) {
	s.busy.Store(false)
	if s.queue.Len() == 0 || !s.busy.CompareAndSwap(false, true) {
		return 0, false
	}
	if b, ok := s.queue.Peek(); ok {
		return b, true
	}
	s.busy.Store(false)
	return 0, false
}

// Busy reports whether a byte is on the line.
func (s *shifter) Busy() bool {
	return s.busy.Load()
}

// Queued returns the number of unsent bytes, including the one on the line.
func (s *shifter) Queued() int {
	return s.queue.Len()
}

// Flush waits until the queue is drained and the line is idle. It must not
// be called from a timer or scheduler callback.
func (s *shifter) Flush(ctx context.Context) error {
	for {
		if s.queue.Len() == 0 && !s.busy.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "flush interrupted with %d bytes queued", s.queue.Len())
		case <-time.After(flushPoll):
		}
	}
}
