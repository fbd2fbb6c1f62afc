package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/jd3nn1s/meterbridge"
	"github.com/jd3nn1s/meterbridge/teleinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPForwarder(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	udpAddr := pc.LocalAddr().(*net.UDPAddr)

	recvData := struct {
		data []byte
		len  int
	}{}

	dataChan := make(chan struct{}, 1)
	go func() {
		buffer := make([]byte, 1024)
		assert.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second*3)))
		n, _, err := pc.ReadFrom(buffer)
		assert.NoError(t, err)
		recvData.data = buffer
		recvData.len = n
		dataChan <- struct{}{}
	}()

	udp, err := NewUDPForwarder(&UDPConfig{
		Server: "127.0.0.1",
		Port:   udpAddr.Port,
	})
	require.NoError(t, err)
	defer udp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = udp.Start(ctx)
	}()

	newTelem := meterbridge.Telemetry{
		HubAddr:           "031621234567",
		OptTar:            teleinfo.OptTarHC,
		MeterState:        "000000",
		HHPHC:             'A',
		BaseIndex:         1,
		HCIndex:           2,
		HPIndex:           3,
		EJPHNIndex:        4,
		EJPHPMIndex:       5,
		GazIndex:          6,
		EJPNotice:         7,
		CurrentTariff:     teleinfo.PTECHP,
		InstCurrent:       8,
		MaxCurrent:        9,
		SubscribedCurrent: 10,
		ApparentPower:     11,
	}
	prevTelem := meterbridge.Telemetry{}
	assert.NoError(t, udp.Forward(&newTelem, &prevTelem))

	<-dataChan
	assert.Equal(t, 57, recvData.len)

	hdr := Header{}
	recvTelem := Telemetry{}
	rdr := bytes.NewReader(recvData.data)
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &hdr))
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &recvTelem))
	assert.Equal(t, uint8(TypeTelemetry), hdr.Type)
	assert.Equal(t, toWire(&newTelem), &recvTelem)
	assert.Equal(t, "031621234567", string(recvTelem.HubAddr[:]))
	assert.Equal(t, uint8(teleinfo.PTECHP), recvTelem.CurrentTariff)
	assert.Equal(t, uint32(11), recvTelem.ApparentPower)
}

func TestUDPForwarderKeepsLatest(t *testing.T) {
	udp := &UDPForwarder{ready: make(chan struct{}, 1)}
	prev := &meterbridge.Telemetry{}
	assert.NoError(t, udp.Forward(&meterbridge.Telemetry{ApparentPower: 1}, prev))
	assert.NoError(t, udp.Forward(&meterbridge.Telemetry{ApparentPower: 2}, prev))

	assert.Len(t, udp.ready, 1)
	require.NotNil(t, udp.pending)
	assert.Equal(t, uint32(2), udp.pending.telemetry.ApparentPower)
	assert.Equal(t, uint8(TypeTelemetry), udp.pending.typ)

	assert.NoError(t, udp.Forward(&meterbridge.Telemetry{ApparentPower: 3}, nil))
	assert.Equal(t, uint8(TypeSnapshot), udp.pending.typ)
}

func TestUDPForwarderKeepsPendingSnapshot(t *testing.T) {
	udp := &UDPForwarder{ready: make(chan struct{}, 1)}
	prev := &meterbridge.Telemetry{}
	assert.NoError(t, udp.Forward(&meterbridge.Telemetry{ApparentPower: 1}, nil))
	assert.NoError(t, udp.Forward(&meterbridge.Telemetry{ApparentPower: 2}, prev))

	require.NotNil(t, udp.pending)
	assert.Equal(t, uint8(TypeSnapshot), udp.pending.typ, "snapshot overwritten before it was sent")
	assert.Equal(t, uint32(2), udp.pending.telemetry.ApparentPower)

	// once sent, updates are plain telemetry again
	udp.pending = nil
	assert.NoError(t, udp.Forward(&meterbridge.Telemetry{ApparentPower: 3}, prev))
	assert.Equal(t, uint8(TypeTelemetry), udp.pending.typ)
}

func TestToWirePadding(t *testing.T) {
	w := toWire(&meterbridge.Telemetry{HubAddr: "0316", MeterState: "0000000000"})
	assert.Equal(t, "0316        ", string(w.HubAddr[:]))
	assert.Equal(t, "000000", string(w.MeterState[:]))
}
