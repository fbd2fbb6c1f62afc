package forwarder

import (
	"sync"

	"github.com/jd3nn1s/meterbridge"
	"github.com/jd3nn1s/meterbridge/teleinfo"
)

// fieldValues returns the telemetry keyed by teleinfo label.
func fieldValues(t *meterbridge.Telemetry) map[string]teleinfo.Value {
	hhphc := ""
	if t.HHPHC != 0 {
		hhphc = string(t.HHPHC)
	}
	return map[string]teleinfo.Value{
		"ADCO":     teleinfo.TextValue(t.HubAddr),
		"OPTARIF":  teleinfo.OptTarValue(t.OptTar),
		"BASE":     teleinfo.UintValue(t.BaseIndex),
		"HCHC":     teleinfo.UintValue(t.HCIndex),
		"HCHP":     teleinfo.UintValue(t.HPIndex),
		"EJPHN":    teleinfo.UintValue(t.EJPHNIndex),
		"EJPHPM":   teleinfo.UintValue(t.EJPHPMIndex),
		"PEJP":     teleinfo.UintValue(uint32(t.EJPNotice)),
		"GAZ":      teleinfo.UintValue(t.GazIndex),
		"PTEC":     teleinfo.PTECValue(t.CurrentTariff),
		"MOTDETAT": teleinfo.TextValue(t.MeterState),
		"IINST":    teleinfo.UintValue(uint32(t.InstCurrent)),
		"IMAX":     teleinfo.UintValue(uint32(t.MaxCurrent)),
		"ISOUSC":   teleinfo.UintValue(uint32(t.SubscribedCurrent)),
		"PAPP":     teleinfo.UintValue(t.ApparentPower),
		"HHPHC":    teleinfo.TextValue(hhphc),
	}
}

// changedFields returns the fields of newTelemetry that differ from
// prevTelemetry, all of them when prevTelemetry is nil.
func changedFields(newTelemetry *meterbridge.Telemetry, prevTelemetry *meterbridge.Telemetry) map[string]teleinfo.Value {
	fields := fieldValues(newTelemetry)
	if prevTelemetry == nil {
		return fields
	}
	for label, v := range fieldValues(prevTelemetry) {
		if fields[label] == v {
			delete(fields, label)
		}
	}
	return fields
}

// pendingFields coalesces changes until a forwarder gets to send them, so a
// slow sink only ever sends the latest value of each field.
type pendingFields struct {
	mu     sync.Mutex
	fields map[string]teleinfo.Value
	ready  chan struct{}
}

func newPendingFields() *pendingFields {
	return &pendingFields{
		fields: make(map[string]teleinfo.Value),
		ready:  make(chan struct{}, 1),
	}
}

func (p *pendingFields) add(fields map[string]teleinfo.Value) {
	if len(fields) == 0 {
		return
	}
	p.mu.Lock()
	for label, v := range fields {
		p.fields[label] = v
	}
	p.mu.Unlock()
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *pendingFields) take() map[string]teleinfo.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	fields := p.fields
	p.fields = make(map[string]teleinfo.Value)
	return fields
}

// requeue puts back fields that could not be sent, unless a newer value is
// already pending. They go out with the next change.
func (p *pendingFields) requeue(fields map[string]teleinfo.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for label, v := range fields {
		if _, ok := p.fields[label]; !ok {
			p.fields[label] = v
		}
	}
}
