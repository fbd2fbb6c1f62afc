package softserial

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrTimerBound     = errors.New("timer already bound to a handler")
	ErrTimeslotDenied = errors.New("timeslot request denied")
	ErrAlreadyBegun   = errors.New("transmitter already begun")
	ErrNotBegun       = errors.New("transmitter not begun")
	ErrClosed         = errors.New("transmitter closed")
)

// DeniedError is returned when the scheduler refuses a timeslot request. It
// matches ErrTimeslotDenied and unwraps to the scheduler's error.
type DeniedError struct {
	Err error
}

func (e *DeniedError) Error() string {
	return "timeslot request denied: " + e.Err.Error()
}

func (e *DeniedError) Unwrap() error {
	return e.Err
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrTimeslotDenied
}

// Pin is a general purpose output line.
type Pin interface {
	ConfigureOutput()
	Set(high bool)
	Get() bool
}

// CompareHandler receives timer compare match interrupts.
type CompareHandler interface {
	OnCompareMatch()
}

// Timer is a hardware timer firing a compare match every SetCompare ticks
// while started. A timer carries at most one handler binding.
type Timer interface {
	Bind(CompareHandler) error
	Unbind()
	SetCompare(ticks uint32)
	Start()
	Stop()
}

// Scheduler grants radio timeslots. An accepted request is followed by a
// call to Prepare on the requesting TimeslotTransmitter once the slot opens,
// or by OnRequestDenied when the slot is later blocked or cancelled. The
// request queued by ActionRequestAndEnd ends the same way.
type Scheduler interface {
	RequestTimeslot(length time.Duration) error
}

// Action tells the scheduler what to do with the current timeslot.
type Action int

const (
	ActionContinue Action = iota
	ActionExtend
	ActionEnd
	// ActionRequestAndEnd ends the slot and queues a new request of Signal.Length.
	ActionRequestAndEnd
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionExtend:
		return "extend"
	case ActionEnd:
		return "end"
	case ActionRequestAndEnd:
		return "request-and-end"
	}
	return "unknown"
}

// Signal is returned from timeslot callbacks.
type Signal struct {
	Action Action
	// Length of the extension or of the new request.
	Length time.Duration
}
