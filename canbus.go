package meterbridge

import (
	"context"
	"sync"

	"github.com/jd3nn1s/meterbridge/canmeter"
	log "github.com/sirupsen/logrus"
)

// to allow testing
var canBusConnect = func(p string) (CANBus, error) {
	c, err := canmeter.Connect(p)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type canBusRetryable struct {
	portName     string
	snapshotChan chan<- struct{}

	mu sync.Mutex
	c  CANBus
}

func (bus *canBusRetryable) Name() string {
	return "canbus"
}

func (bus *canBusRetryable) Open() error {
	c, err := canBusConnect(bus.portName)
	bus.mu.Lock()
	bus.c = c
	bus.mu.Unlock()
	return err
}

func (bus *canBusRetryable) Close() error {
	c := bus.CANBus()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (bus *canBusRetryable) Start(ctx context.Context) error {
	return bus.CANBus().Start(ctx, canmeter.Callbacks{
		SnapshotRequest: func() {
			select {
			case bus.snapshotChan <- struct{}{}:
			default:
			}
		},
	})
}

// CANBus returns the current connection, nil before the first Open.
func (bus *canBusRetryable) CANBus() CANBus {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.c
}

func runCAN(ctx context.Context, bus *canBusRetryable) {
	err := retry(ctx, bus)
	if err != nil {
		log.Errorf("canbus done: %v", err)
	}
}
