package meterbridge

import (
	"context"

	"github.com/jd3nn1s/meterbridge/canmeter"
	"github.com/jd3nn1s/meterbridge/teleinfo"
)

type sensorStub struct {
	startChan chan struct{}
	errChan   chan error
	fnChan    chan func()
	closed    bool
}

type meterStub struct {
	sensorStub
	callbacks teleinfo.Callbacks
}

type canBusStub struct {
	sensorStub
	callbacks canmeter.Callbacks

	current          uint16
	currentCallCount int
	power            uint32
	powerCallCount   int
	indexes          map[uint8]uint32
}

func createSensorStub() *sensorStub {
	ret := sensorStub{
		startChan: make(chan struct{}, 1),
		errChan:   make(chan error),
		fnChan:    make(chan func()),
	}
	return &ret
}

func (s *sensorStub) Close() error {
	s.closed = true
	return nil
}

func (s *sensorStub) start(ctx context.Context) error {
	select {
	case s.startChan <- struct{}{}:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.errChan:
			return err
		case fn := <-s.fnChan:
			fn()
		}
	}
}

func createMeterStub() *meterStub {
	return &meterStub{
		sensorStub: *createSensorStub(),
	}
}

func (m *meterStub) Start(ctx context.Context, callbacks teleinfo.Callbacks) error {
	m.callbacks = callbacks
	return m.sensorStub.start(ctx)
}

func createCANBusStub() *canBusStub {
	return &canBusStub{
		sensorStub: *createSensorStub(),
		indexes:    map[uint8]uint32{},
	}
}

func (c *canBusStub) Start(ctx context.Context, callbacks canmeter.Callbacks) error {
	c.callbacks = callbacks
	return c.sensorStub.start(ctx)
}

func (c *canBusStub) SendInstCurrent(amps uint16) error {
	c.currentCallCount++
	c.current = amps
	return nil
}

func (c *canBusStub) SendApparentPower(va uint32) error {
	c.powerCallCount++
	c.power = va
	return nil
}

func (c *canBusStub) SendIndex(index uint8, wh uint32) error {
	c.indexes[index] = wh
	return nil
}

type forwarderStub struct {
	telemetry *Telemetry
	prev      *Telemetry
	calls     int
	err       error
}

func (fwd *forwarderStub) Forward(newTelemetry *Telemetry, prevTelemetry *Telemetry) error {
	fwd.calls++
	fwd.telemetry = newTelemetry
	fwd.prev = prevTelemetry
	return fwd.err
}
