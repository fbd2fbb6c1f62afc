package softserial

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// TimeslotMargin is added to every timeslot for callback processing.
const TimeslotMargin = 200 * time.Microsecond

// TimeslotTransmitter shifts bytes out inside timeslots granted by a radio
// Scheduler. Each byte gets its own slot, extended from one byte to the next
// while the queue is not empty.
type TimeslotTransmitter struct {
	shifter
	ClockHz uint32

	timer     Timer
	scheduler Scheduler
	slot      time.Duration
	// set by End when the flush did not complete
	abandoned atomic.Bool
}

func NewTimeslot(timer Timer, scheduler Scheduler) *TimeslotTransmitter {
	return &TimeslotTransmitter{
		shifter: shifter{
			queue: NewRing(DefaultQueueSize),
		},
		ClockHz:   DefaultClockHz,
		timer:     timer,
		scheduler: scheduler,
	}
}

// Begin configures the bit period. The timer is driven through the
// scheduler callbacks so no interrupt handler is bound.
func (t *TimeslotTransmitter) Begin(baud uint32, pin Pin) error {
	if t.state.Load() != stateNew {
		return ErrAlreadyBegun
	}
	if err := t.configure(t.ClockHz, baud, pin); err != nil {
		return err
	}
	t.slot = bitsPerByte*t.bitPeriod + TimeslotMargin
	t.state.Store(stateOpen)
	log.WithField("baud", baud).
		WithField("timeslot", t.slot).
		Debug("softserial timeslot transmitter started")
	return nil
}

// TimeslotLength is the length requested for every byte.
func (t *TimeslotTransmitter) TimeslotLength() time.Duration {
	return t.slot
}

// Enqueue queues b and requests a timeslot if the line is idle. A denied
// request leaves b queued and the transmitter idle, so the next Enqueue
// requests again. The returned *DeniedError matches ErrTimeslotDenied.
func (t *TimeslotTransmitter) Enqueue(b byte) error {
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
	if err := t.scheduler.RequestTimeslot(t.slot); err != nil {
		t.busy.Store(false)
		log.WithField("err", err).
			WithField("queued", t.queue.Len()).
			Warn("softserial: timeslot request denied")
		return &DeniedError{Err: err}
	}
	return nil
}

// Write enqueues p. A byte whose timeslot request was denied is still queued
// and counts as written, so retrying p[n:] does not send it twice.
func (t *TimeslotTransmitter) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := t.Enqueue(b); err != nil {
			if errors.Is(err, ErrTimeslotDenied) {
				return i + 1, err
			}
			return i, err
		}
	}
	return len(p), nil
}

// Prepare is called by the scheduler when a granted timeslot starts.
func (t *TimeslotTransmitter) Prepare() Signal {
	if t.abandoned.Load() {
		return t.abandon()
	}
	b, ok := t.queue.Peek()
	if !ok {
		if b, ok = t.release(); !ok {
			return Signal{Action: ActionEnd}
		}
	}
	t.cursor = 0
	t.startByte(b)
	t.timer.SetCompare(t.ticksPerBit)
	t.timer.Start()
	return Signal{Action: ActionContinue}
}

// OnTimeslotTick is the bit timer interrupt delivered inside a timeslot.
func (t *TimeslotTransmitter) OnTimeslotTick() Signal {
	if t.abandoned.Load() {
		return t.abandon()
	}
	switch t.tick() {
	case stepNextByte:
		return Signal{Action: ActionExtend, Length: t.slot}
	case stepDrained:
		t.timer.Stop()
		if b, ok := t.release(); ok {
			t.startByte(b)
			t.timer.Start()
			return Signal{Action: ActionExtend, Length: t.slot}
		}
		return Signal{Action: ActionEnd}
	}
	return Signal{Action: ActionContinue}
}

// OnExtendFailed is called when the scheduler refuses an extension. The
// start bit already driven is withdrawn; the byte is still at the head of
// the queue and goes out first in the next slot.
func (t *TimeslotTransmitter) OnExtendFailed() Signal {
	t.timer.Stop()
	t.pin.Set(true)
	t.cursor = 0
	return Signal{Action: ActionRequestAndEnd, Length: t.slot}
}

// OnRequestDenied is called when the scheduler refuses or cancels a request
// it had accepted. The busy token is released with the bytes left queued, so
// the next Enqueue requests a timeslot again. After a failed End the queue is
// dropped instead.
func (t *TimeslotTransmitter) OnRequestDenied() {
	if t.abandoned.Load() {
		t.abandon()
		return
	}
	t.timer.Stop()
	t.pin.Set(true)
	t.cursor = 0
	t.busy.Store(false)
	log.WithField("queued", t.queue.Len()).Warn("softserial: timeslot request cancelled")
}

// abandon drops everything still queued. Called with the busy token held.
func (t *TimeslotTransmitter) abandon() Signal {
	t.timer.Stop()
	t.queue.Reset()
	t.cursor = 0
	t.pin.Set(true)
	t.busy.Store(false)
	return Signal{Action: ActionEnd}
}

// End flushes within ctx and closes the transmitter. If bytes are still in
// flight when ctx expires, the queue is abandoned at the next scheduler
// callback: Prepare, OnTimeslotTick or OnRequestDenied.
func (t *TimeslotTransmitter) End(ctx context.Context) error {
	if !t.state.CompareAndSwap(stateOpen, stateClosed) {
		return t.checkOpen()
	}
	err := t.Flush(ctx)
	if err != nil {
		log.WithField("queued", t.queue.Len()).Warn("softserial: abandoning unsent bytes")
		t.abandoned.Store(true)
	}
	if t.busy.CompareAndSwap(false, true) {
		t.abandon()
	}
	return err
}
