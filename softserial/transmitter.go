package softserial

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Transmitter is a transmit only bit-banged UART clocked by a free running
// timer: 1 start bit, 8 data bits LSB first, 1 stop bit, no parity.
type Transmitter struct {
	shifter
	// ClockHz is the bit timer frequency, read by Begin.
	ClockHz uint32

	timer Timer
}

func New(timer Timer) *Transmitter {
	return NewWithCapacity(timer, DefaultQueueSize)
}

func NewWithCapacity(timer Timer, capacity int) *Transmitter {
	return &Transmitter{
		shifter: shifter{
			queue: NewRing(capacity),
		},
		ClockHz: DefaultClockHz,
		timer:   timer,
	}
}

// Begin binds the bit timer and drives pin idle high.
func (t *Transmitter) Begin(baud uint32, pin Pin) error {
	if t.state.Load() != stateNew {
		return ErrAlreadyBegun
	}
	if err := t.configure(t.ClockHz, baud, pin); err != nil {
		return err
	}
	if err := t.timer.Bind(t); err != nil {
		return errors.Wrap(err, "unable to bind bit timer")
	}
	t.timer.SetCompare(t.ticksPerBit)
	t.state.Store(stateOpen)
	log.WithField("baud", baud).
		WithField("ticksPerBit", t.ticksPerBit).
		Debug("softserial transmitter started")
	return nil
}

// Enqueue queues b and starts shifting it out if the line is idle. It never
// blocks; a full queue is reported with ErrQueueFull.
func (t *Transmitter) Enqueue(b byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := t.queue.Push(b); err != nil {
		log.WithField("capacity", t.queue.Cap()).Warn("softserial: transmit queue full")
		return err
	}
	if !t.busy.CompareAndSwap(false, true) {
		return nil
	}
	next, ok := t.queue.Peek()
	if !ok {
		// sent by the bit interrupt between push and claim
		t.busy.Store(false)
		return nil
	}
	t.startByte(next)
	t.timer.Start()
	return nil
}

// Write implements io.Writer. Bytes are queued in order up to the first failure.
func (t *Transmitter) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := t.Enqueue(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// OnCompareMatch shifts out the next bit period.
func (t *Transmitter) OnCompareMatch() {
	if t.tick() != stepDrained {
		return
	}
	t.timer.Stop()
	if b, ok := t.release(); ok {
		t.startByte(b)
		t.timer.Start()
	}
}

// End flushes within ctx, then stops the timer. Bytes still queued when ctx
// expires are abandoned and the flush error returned.
func (t *Transmitter) End(ctx context.Context) error {
	if !t.state.CompareAndSwap(stateOpen, stateClosed) {
		return t.checkOpen()
	}
	err := t.Flush(ctx)
	t.timer.Stop()
	t.timer.Unbind()
	if err != nil {
		log.WithField("queued", t.queue.Len()).Warn("softserial: abandoning unsent bytes")
	}
	t.queue.Reset()
	t.cursor = 0
	t.busy.Store(false)
	t.pin.Set(true)
	return err
}
