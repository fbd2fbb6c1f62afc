package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
	"unsafe"

	"github.com/jd3nn1s/meterbridge"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var maxTelemetrySize = int(unsafe.Sizeof(Header{}) + unsafe.Sizeof(Telemetry{}))

var udpSendInterval = 100 * time.Millisecond

type UDPConfig struct {
	Server string `toml:"server"`
	Port   int    `toml:"port"`
}

type udpPacket struct {
	typ       uint8
	telemetry *Telemetry
}

// UDPForwarder sends the whole telemetry as a binary packet on every change.
type UDPForwarder struct {
	Config *UDPConfig

	conn    net.Conn
	mu      sync.Mutex
	pending *udpPacket
	ready   chan struct{}
}

func NewUDPForwarder(config *UDPConfig) (*UDPForwarder, error) {
	udp := &UDPForwarder{
		Config: config,
		ready:  make(chan struct{}, 1),
	}
	if err := udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

// Forward never blocks. Only the latest telemetry is kept when the sender
// is behind; a pending snapshot stays a snapshot until it is sent.
func (udp *UDPForwarder) Forward(newTelemetry *meterbridge.Telemetry, prevTelemetry *meterbridge.Telemetry) error {
	p := &udpPacket{
		typ:       TypeTelemetry,
		telemetry: toWire(newTelemetry),
	}
	if prevTelemetry == nil {
		p.typ = TypeSnapshot
	}
	udp.mu.Lock()
	if udp.pending != nil && udp.pending.typ == TypeSnapshot {
		p.typ = TypeSnapshot
	}
	udp.pending = p
	udp.mu.Unlock()
	select {
	case udp.ready <- struct{}{}:
	default:
	}
	return nil
}

// Start sends forwarded telemetry, at most once per udpSendInterval, until
// ctx is done.
func (udp *UDPForwarder) Start(ctx context.Context) error {
	limiter := time.NewTicker(udpSendInterval)
	defer limiter.Stop()
	for {
		select {
		case <-limiter.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-udp.ready:
			udp.mu.Lock()
			p := udp.pending
			udp.pending = nil
			udp.mu.Unlock()
			if p == nil {
				continue
			}
			if err := udp.forward(p); err != nil {
				log.WithField("err", err).Error("unable to forward telemetry to server")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (udp *UDPForwarder) forward(p *udpPacket) error {
	buf := bytes.NewBuffer(make([]byte, 0, maxTelemetrySize))
	hdr := Header{
		Type: p.typ,
	}
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "unable to write udp packet header")
	}
	if err := binary.Write(buf, binary.LittleEndian, p.telemetry); err != nil {
		return errors.Wrap(err, "unable to write telemetry udp packet")
	}
	_, err := udp.conn.Write(buf.Bytes())
	return errors.Wrap(err, "unable to send udp packet")
}

func (udp *UDPForwarder) connect() error {
	writeBufSize := maxTelemetrySize * 2

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return errors.Wrap(err, "unable to dial udp server")
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		return errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	udp.conn = conn
	return nil
}
