package meterbridge

import (
	"context"
	"sync"
	"time"

	"github.com/jd3nn1s/meterbridge/softserial"
	"github.com/jd3nn1s/meterbridge/teleinfo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	simulatedHubAddr = "031621234567"
	simulatedVoltage = 230
	simulatedMaxVA   = 6900
	simulatedStepVA  = 150

	lineBufferSize = 256
)

// simulatedMeter emits teleinfo frames from a software transmitter into a
// line decoder and reads them back, exercising the same path as a meter
// wired to a GPIO.
type simulatedMeter struct {
	config TestModeConfig

	mu  sync.Mutex
	gen meterGenerator
}

func (s *simulatedMeter) Close() error {
	return nil
}

func (s *simulatedMeter) Start(ctx context.Context, cb teleinfo.Callbacks) error {
	line := softserial.NewLineDecoder(lineBufferSize)
	tx := softserial.New(softserial.NewTickTimer())
	if err := tx.Begin(s.config.Baud, line); err != nil {
		return errors.Wrap(err, "unable to start simulated line")
	}

	genCtx, cancel := context.WithCancel(ctx)
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		s.generate(genCtx, tx)
		wg.Done()
	}()

	err := newSerialMeter(line).Start(ctx, cb)
	cancel()
	wg.Wait()

	endCtx, endCancel := context.WithTimeout(context.Background(), time.Second)
	defer endCancel()
	if endErr := tx.End(endCtx); endErr != nil {
		log.WithField("err", endErr).Warn("simulated line ended with unsent bytes")
	}
	log.WithField("framingErrors", line.FramingErrors()).
		WithField("overruns", line.Overruns()).
		Debug("simulated line closed")
	return err
}

func (s *simulatedMeter) generate(ctx context.Context, tx *softserial.Transmitter) {
	interval := s.config.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		frame := teleinfo.EncodeFrame(s.gen.groups()...)
		s.gen.step(interval)
		s.mu.Unlock()

		if err := writeLine(ctx, tx, frame); err != nil {
			log.WithField("err", err).Debug("simulated meter stopped")
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// writeLine queues p, waiting for room whenever the transmit queue is full.
func writeLine(ctx context.Context, tx *softserial.Transmitter, p []byte) error {
	for len(p) > 0 {
		n, err := tx.Write(p)
		p = p[n:]
		if err == nil {
			continue
		}
		if errors.Cause(err) != softserial.ErrQueueFull {
			return err
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// meterGenerator is a base tariff single phase meter whose load ramps up and
// down.
type meterGenerator struct {
	va   uint32
	down bool
	// energy in Wh, fractional part kept between steps
	energy float64
}

func (g *meterGenerator) step(interval time.Duration) {
	g.energy += float64(g.va) * interval.Hours()
	if g.down {
		g.va -= simulatedStepVA
	} else {
		g.va += simulatedStepVA
	}
	if g.va >= simulatedMaxVA {
		g.down = true
	} else if g.va == 0 {
		g.down = false
	}
}

func (g *meterGenerator) groups() []teleinfo.Group {
	values := []struct {
		label string
		value teleinfo.Value
	}{
		{"ADCO", teleinfo.TextValue(simulatedHubAddr)},
		{"OPTARIF", teleinfo.OptTarValue(teleinfo.OptTarBase)},
		{"ISOUSC", teleinfo.UintValue(30)},
		{"BASE", teleinfo.UintValue(uint32(g.energy))},
		{"PTEC", teleinfo.PTECValue(teleinfo.PTECTH)},
		{"IINST", teleinfo.UintValue((g.va + simulatedVoltage - 1) / simulatedVoltage)},
		{"IMAX", teleinfo.UintValue(simulatedMaxVA / simulatedVoltage)},
		{"PAPP", teleinfo.UintValue(g.va)},
	}
	groups := make([]teleinfo.Group, 0, len(values))
	for _, v := range values {
		raw, err := teleinfo.Encode(v.label, v.value)
		if err != nil {
			log.WithField("label", v.label).WithField("err", err).Error("unable to encode simulated group")
			continue
		}
		groups = append(groups, teleinfo.Group{Label: v.label, Value: string(raw)})
	}
	return groups
}
