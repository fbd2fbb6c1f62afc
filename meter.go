package meterbridge

import (
	"context"
	"time"

	"github.com/jd3nn1s/meterbridge/teleinfo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// how long a meter may stay without a valid frame before its port is reopened
var meterSilence = 20 * time.Second

var ErrMeterSilent = errors.New("no frame received from meter")

// serialMeter reads teleinfo frames from a byte source.
type serialMeter struct {
	src    teleinfo.ByteSource
	reader *teleinfo.Reader
}

func newSerialMeter(src teleinfo.ByteSource) *serialMeter {
	return &serialMeter{
		src:    src,
		reader: teleinfo.NewReader(src),
	}
}

// to allow testing
var meterConnect = func(p string) (MeterReader, error) {
	src, err := teleinfo.OpenSerial(p)
	if err != nil {
		return nil, err
	}
	return newSerialMeter(src), nil
}

func (m *serialMeter) Start(ctx context.Context, cb teleinfo.Callbacks) error {
	m.reader.RegisterListener(cb)
	defer m.reader.UnregisterListener()

	silent := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go m.watch(silent, done)

	if err := m.reader.StartRead(ctx); err != nil {
		return err
	}
	select {
	case <-silent:
		return ErrMeterSilent
	default:
		return nil
	}
}

// watch stops the reader when no group was decoded for meterSilence. Groups
// are counted rather than frames since a frame carrying a label the reader
// rejects never completes.
func (m *serialMeter) watch(silent chan<- struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(meterSilence)
	defer ticker.Stop()
	groups := m.reader.Stats().Groups
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		n := m.reader.Stats().Groups
		if n == groups {
			log.WithField("silence", meterSilence).Warn("meter: no information group received")
			close(silent)
			m.reader.StopRead()
			return
		}
		groups = n
	}
}

func (m *serialMeter) Close() error {
	m.reader.StopRead()
	if c, ok := m.src.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

type meterRetryable struct {
	c        MeterReader
	connect  func() (MeterReader, error)
	sendChan chan Telemetry
	data     Telemetry
}

func (m *meterRetryable) Name() string {
	return "meter"
}

func (m *meterRetryable) Open() error {
	c, err := m.connect()
	m.c = c
	return err
}

func (m *meterRetryable) Close() error {
	if m.c == nil {
		return nil
	}
	return m.c.Close()
}

func (m *meterRetryable) Start(ctx context.Context) error {
	return m.c.Start(ctx, m.data.callbacks(m.send))
}

// send publishes the latest snapshot, replacing one the bridge has not
// consumed yet.
func (m *meterRetryable) send() {
	for {
		select {
		case m.sendChan <- m.data:
			return
		default:
		}
		select {
		case stale := <-m.sendChan:
			log.WithField("apparentPower", stale.ApparentPower).Debug("meter: replacing unread telemetry")
		default:
		}
	}
}

func runMeter(ctx context.Context, m *meterRetryable) {
	err := retry(ctx, m)
	if err != nil {
		log.Errorf("meter done: %v", err)
	}
}
