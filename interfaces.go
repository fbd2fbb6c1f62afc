package meterbridge

import (
	"context"

	"github.com/jd3nn1s/meterbridge/canmeter"
	"github.com/jd3nn1s/meterbridge/teleinfo"
)

// MeterReader delivers decoded teleinfo fields until it fails or ctx is done.
type MeterReader interface {
	Close() error
	Start(context.Context, teleinfo.Callbacks) error
}

type CANBus interface {
	Close() error
	Start(context.Context, canmeter.Callbacks) error
	MetricSender
}

type MetricSender interface {
	SendInstCurrent(amps uint16) error
	SendApparentPower(va uint32) error
	SendIndex(index uint8, wh uint32) error
}

// Forwarder receives every telemetry change.
type Forwarder interface {
	Forward(newTelemetry *Telemetry, prevTelemetry *Telemetry) error
}
