// Package meterbridge collects teleinfo readings from an electricity meter
// and fans every change out to forwarders.
package meterbridge

import (
	"context"

	log "github.com/sirupsen/logrus"
)

const channelBufferSize = 1

type Bridge struct {
	Telemetry Telemetry

	config        Config
	prevTelemetry *Telemetry
	received      bool
	meterChan     chan Telemetry
	snapshotChan  chan struct{}
	forwarders    []Forwarder
	testMode      bool
}

func NewBridge(config Config) *Bridge {
	return &Bridge{
		config:       config,
		meterChan:    make(chan Telemetry, channelBufferSize),
		snapshotChan: make(chan struct{}, channelBufferSize),
	}
}

func (b *Bridge) AddForwarder(fwd Forwarder) {
	b.forwarders = append(b.forwarders, fwd)
}

// SetTestMode replaces the meter with a simulated one. It must be called
// before Start.
func (b *Bridge) SetTestMode(enabled bool) {
	b.testMode = enabled
}

// Start runs the meter reader and the CAN bus in the background.
func (b *Bridge) Start(ctx context.Context) {
	meter := &meterRetryable{
		sendChan: b.meterChan,
	}
	if b.testMode {
		log.WithField("baud", b.config.TestMode.Baud).Info("using simulated meter")
		sim := &simulatedMeter{config: b.config.TestMode}
		meter.connect = func() (MeterReader, error) {
			return sim, nil
		}
	} else {
		port := b.config.Meter.Port
		meter.connect = func() (MeterReader, error) {
			return meterConnect(port)
		}
	}
	go runMeter(ctx, meter)

	if b.config.CAN.Interface != "" {
		bus := &canBusRetryable{
			portName:     b.config.CAN.Interface,
			snapshotChan: b.snapshotChan,
		}
		go runCAN(ctx, bus)
		b.AddForwarder(&CANForwarder{canBus: bus})
	}
}

// CheckChannels waits for the next update and reports whether it has to be
// forwarded. It returns false when ctx is done.
func (b *Bridge) CheckChannels(ctx context.Context) (changed bool) {
	select {
	case t := <-b.meterChan:
		if b.received && t == b.Telemetry {
			return false
		}
		b.prevTelemetry = nil
		if b.received {
			prev := b.Telemetry
			b.prevTelemetry = &prev
		}
		b.Telemetry = t
		b.received = true
		return true
	case <-b.snapshotChan:
		if !b.received {
			log.Debug("snapshot requested before the first frame")
			return false
		}
		b.prevTelemetry = nil
		return true
	case <-ctx.Done():
		return false
	}
}

// TelemetryUpdate forwards the current telemetry. Forwarders receive a nil
// previous telemetry when every field has to be sent.
func (b *Bridge) TelemetryUpdate() {
	for _, fwd := range b.forwarders {
		if err := fwd.Forward(&b.Telemetry, b.prevTelemetry); err != nil {
			log.WithField("err", err).Warn("unable to forward telemetry")
		}
	}
}
