package softserial

import (
	"time"
)

type timerStub struct {
	handler CompareHandler
	ticks   uint32
	running bool
	starts  int
	stops   int
}

func (ts *timerStub) Bind(h CompareHandler) error {
	if ts.handler != nil {
		return ErrTimerBound
	}
	ts.handler = h
	return nil
}

func (ts *timerStub) Unbind() {
	ts.running = false
	ts.handler = nil
}

func (ts *timerStub) SetCompare(ticks uint32) {
	ts.ticks = ticks
}

func (ts *timerStub) Start() {
	ts.starts++
	ts.running = true
}

func (ts *timerStub) Stop() {
	ts.stops++
	ts.running = false
}

// fire delivers a compare match to the bound handler if the timer runs.
func (ts *timerStub) fire() bool {
	if !ts.running || ts.handler == nil {
		return false
	}
	ts.handler.OnCompareMatch()
	return true
}

type pinStub struct {
	output bool
	levels []bool
}

func (p *pinStub) ConfigureOutput() {
	p.output = true
}

func (p *pinStub) Set(high bool) {
	p.levels = append(p.levels, high)
}

func (p *pinStub) Get() bool {
	if len(p.levels) == 0 {
		return false
	}
	return p.levels[len(p.levels)-1]
}

type schedulerStub struct {
	deny     error
	requests []time.Duration
}

func (s *schedulerStub) RequestTimeslot(length time.Duration) error {
	s.requests = append(s.requests, length)
	return s.deny
}

// frameLevels is the waveform expected for b.
func frameLevels(b byte) []bool {
	levels := []bool{false}
	for i := 0; i < 8; i++ {
		levels = append(levels, b&(1<<uint(i)) != 0)
	}
	return append(levels, true)
}

func noDelays() func() {
	origFlushPoll := flushPoll
	flushPoll = 0
	return func() {
		flushPoll = origFlushPoll
	}
}
