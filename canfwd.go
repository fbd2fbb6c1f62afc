package meterbridge

import (
	"github.com/pkg/errors"
)

// index numbers carried by CAN index frames
const (
	canIndexBase uint8 = iota
	canIndexHC
	canIndexHP
	canIndexEJPHN
	canIndexEJPHPM
)

// CANForwarder publishes current, power and index changes on the CAN bus.
// Everything is published when there is no previous telemetry.
type CANForwarder struct {
	canBus *canBusRetryable
}

func (fwd *CANForwarder) Forward(newTelemetry *Telemetry, prevTelemetry *Telemetry) error {
	canBus := fwd.canBus.CANBus()
	if canBus == nil {
		return errors.New("canbus is not initialized")
	}
	var prev Telemetry
	all := prevTelemetry == nil
	if !all {
		prev = *prevTelemetry
	}
	if all || prev.InstCurrent != newTelemetry.InstCurrent {
		if err := canBus.SendInstCurrent(newTelemetry.InstCurrent); err != nil {
			return errors.Wrap(err, "unable to send current to CAN bus")
		}
	}
	if all || prev.ApparentPower != newTelemetry.ApparentPower {
		if err := canBus.SendApparentPower(newTelemetry.ApparentPower); err != nil {
			return errors.Wrap(err, "unable to send apparent power to CAN bus")
		}
	}

	indexes := []struct {
		index     uint8
		prev, new uint32
	}{
		{canIndexBase, prev.BaseIndex, newTelemetry.BaseIndex},
		{canIndexHC, prev.HCIndex, newTelemetry.HCIndex},
		{canIndexHP, prev.HPIndex, newTelemetry.HPIndex},
		{canIndexEJPHN, prev.EJPHNIndex, newTelemetry.EJPHNIndex},
		{canIndexEJPHPM, prev.EJPHPMIndex, newTelemetry.EJPHPMIndex},
	}
	for _, idx := range indexes {
		if !all && idx.prev == idx.new {
			continue
		}
		if err := canBus.SendIndex(idx.index, idx.new); err != nil {
			return errors.Wrapf(err, "unable to send index %d to CAN bus", idx.index)
		}
	}
	return nil
}
