package forwarder

import (
	"github.com/jd3nn1s/meterbridge"
)

type Header struct {
	Type uint8
}

const (
	TypeTelemetry = 1
	// TypeSnapshot carries telemetry sent because a consumer asked for it.
	TypeSnapshot = 2
)

// Telemetry is the fixed size UDP payload. Integers are little endian,
// strings are space padded.
type Telemetry struct {
	HubAddr       [12]byte
	MeterState    [6]byte
	OptTar        uint8
	CurrentTariff uint8
	HHPHC         uint8
	EJPNotice     uint8

	BaseIndex   uint32
	HCIndex     uint32
	HPIndex     uint32
	EJPHNIndex  uint32
	EJPHPMIndex uint32
	GazIndex    uint32

	InstCurrent       uint16
	MaxCurrent        uint16
	SubscribedCurrent uint16
	ApparentPower     uint32
}

func toWire(t *meterbridge.Telemetry) *Telemetry {
	wire := &Telemetry{
		OptTar:            uint8(t.OptTar),
		CurrentTariff:     uint8(t.CurrentTariff),
		HHPHC:             t.HHPHC,
		EJPNotice:         t.EJPNotice,
		BaseIndex:         t.BaseIndex,
		HCIndex:           t.HCIndex,
		HPIndex:           t.HPIndex,
		EJPHNIndex:        t.EJPHNIndex,
		EJPHPMIndex:       t.EJPHPMIndex,
		GazIndex:          t.GazIndex,
		InstCurrent:       t.InstCurrent,
		MaxCurrent:        t.MaxCurrent,
		SubscribedCurrent: t.SubscribedCurrent,
		ApparentPower:     t.ApparentPower,
	}
	pad(wire.HubAddr[:], t.HubAddr)
	pad(wire.MeterState[:], t.MeterState)
	return wire
}

func pad(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}
