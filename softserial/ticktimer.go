package softserial

import (
	"sync"
	"time"
)

// TickTimer is a Timer for hosts without a compare match peripheral. The
// handler runs on a goroutine paced by a time.Ticker.
type TickTimer struct {
	ClockHz uint32

	mu      sync.Mutex
	handler CompareHandler
	ticks   uint32
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewTickTimer() *TickTimer {
	return &TickTimer{ClockHz: DefaultClockHz}
}

func (tt *TickTimer) Bind(h CompareHandler) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.handler != nil {
		return ErrTimerBound
	}
	tt.handler = h
	return nil
}

// Unbind stops the timer and waits for a running handler to return.
func (tt *TickTimer) Unbind() {
	tt.Stop()
	tt.mu.Lock()
	tt.handler = nil
	tt.mu.Unlock()
	tt.wg.Wait()
}

func (tt *TickTimer) SetCompare(ticks uint32) {
	tt.mu.Lock()
	tt.ticks = ticks
	tt.mu.Unlock()
}

func (tt *TickTimer) period() time.Duration {
	clock := tt.ClockHz
	if clock == 0 {
		clock = DefaultClockHz
	}
	p := time.Duration(uint64(tt.ticks) * uint64(time.Second) / uint64(clock))
	if p <= 0 {
		p = time.Microsecond
	}
	return p
}

// Start may be called from the handler itself.
func (tt *TickTimer) Start() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.stop != nil || tt.handler == nil {
		return
	}
	tt.stop = make(chan struct{})
	tt.wg.Add(1)
	go tt.run(tt.handler, tt.period(), tt.stop)
}

// Stop may be called from the handler itself.
func (tt *TickTimer) Stop() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.stop != nil {
		close(tt.stop)
		tt.stop = nil
	}
}

func (tt *TickTimer) run(h CompareHandler, period time.Duration, stop chan struct{}) {
	defer tt.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		select {
		case <-stop:
			return
		default:
		}
		h.OnCompareMatch()
	}
}
