package meterbridge

import (
	"github.com/jd3nn1s/meterbridge/teleinfo"
)

// Telemetry is the last known state of the meter.
type Telemetry struct {
	HubAddr    string
	OptTar     teleinfo.OptTar
	MeterState string
	HHPHC      byte

	// indexes in Wh
	BaseIndex   uint32
	HCIndex     uint32
	HPIndex     uint32
	EJPHNIndex  uint32
	EJPHPMIndex uint32
	// gas index in dal
	GazIndex uint32

	EJPNotice     uint8
	CurrentTariff teleinfo.PTEC

	InstCurrent       uint16
	MaxCurrent        uint16
	SubscribedCurrent uint16
	ApparentPower     uint32
}

// callbacks returns teleinfo callbacks storing every field into t. changed is
// called after each update.
func (t *Telemetry) callbacks(changed func()) teleinfo.Callbacks {
	return teleinfo.Callbacks{
		HubAddr: func(addr string) {
			t.HubAddr = addr
			changed()
		},
		OptTar: func(o teleinfo.OptTar) {
			t.OptTar = o
			changed()
		},
		BaseIndex: func(wh uint32) {
			t.BaseIndex = wh
			changed()
		},
		HCIndex: func(wh uint32) {
			t.HCIndex = wh
			changed()
		},
		HPIndex: func(wh uint32) {
			t.HPIndex = wh
			changed()
		},
		EJPHNIndex: func(wh uint32) {
			t.EJPHNIndex = wh
			changed()
		},
		EJPHPMIndex: func(wh uint32) {
			t.EJPHPMIndex = wh
			changed()
		},
		EJPNotice: func(minutes uint8) {
			t.EJPNotice = minutes
			changed()
		},
		GazIndex: func(dal uint32) {
			t.GazIndex = dal
			changed()
		},
		CurrentTariff: func(p teleinfo.PTEC) {
			t.CurrentTariff = p
			changed()
		},
		MeterState: func(state string) {
			t.MeterState = state
			changed()
		},
		InstCurrent: func(amps uint16) {
			t.InstCurrent = amps
			changed()
		},
		MaxCurrent: func(amps uint16) {
			t.MaxCurrent = amps
			changed()
		},
		SubscribedCurrent: func(amps uint16) {
			t.SubscribedCurrent = amps
			changed()
		},
		ApparentPower: func(va uint32) {
			t.ApparentPower = va
			changed()
		},
		HHPHC: func(group byte) {
			t.HHPHC = group
			changed()
		},
	}
}
