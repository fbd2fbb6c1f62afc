// Package canmeter publishes meter readings on a CAN bus and listens for
// snapshot requests from other nodes.
package canmeter

import (
	"context"
	"encoding/binary"

	"github.com/brutella/can"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	frameSnapshotRequest uint32 = 0x200
	frameInstCurrent            = 0x201
	frameApparentPower          = 0x202
	frameIndex                  = 0x203
)

var ErrNotConnected = errors.New("can bus not connected")

type Callbacks struct {
	// SnapshotRequest is called when a node asks for every reading again.
	SnapshotRequest func()
}

type CANBus interface {
	SubscribeFunc(can.HandlerFunc)
	ConnectAndPublish() error
	Disconnect() error
	Publish(can.Frame) error
}

// to allow testing
var newBus = func(name string) (CANBus, error) {
	return can.NewBusForInterfaceWithName(name)
}

type Connection struct {
	bus CANBus
	cb  *Callbacks
}

func Connect(portName string) (*Connection, error) {
	bus, err := newBus(portName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open can interface %s", portName)
	}
	return &Connection{
		bus: bus,
	}, nil
}

// Start dispatches received frames until the bus fails or ctx is done.
func (c *Connection) Start(ctx context.Context, cb Callbacks) error {
	c.cb = &cb
	c.bus.SubscribeFunc(c.handleFrame)
	log.Info("CAN bus opened and subscribed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.WithField("err", ctx.Err()).Info("stopping can bus")
			if err := c.bus.Disconnect(); err != nil {
				log.WithField("err", err).Warn("unable to disconnect canbus after context")
			}
		case <-done:
		}
	}()

	return c.bus.ConnectAndPublish()
}

func (c *Connection) Close() error {
	if c.bus == nil {
		return ErrNotConnected
	}
	return c.bus.Disconnect()
}

// SendInstCurrent publishes the instantaneous current in amperes.
func (c *Connection) SendInstCurrent(amps uint16) error {
	log.WithField("amps", amps).Debug("sending current over canbus")
	f := can.Frame{ID: frameInstCurrent, Length: 2}
	binary.LittleEndian.PutUint16(f.Data[0:2], amps)
	return c.publish(f)
}

// SendApparentPower publishes the apparent power in VA.
func (c *Connection) SendApparentPower(va uint32) error {
	log.WithField("va", va).Debug("sending apparent power over canbus")
	f := can.Frame{ID: frameApparentPower, Length: 4}
	binary.LittleEndian.PutUint32(f.Data[0:4], va)
	return c.publish(f)
}

// SendIndex publishes an energy index in Wh. Data[4] identifies the index.
func (c *Connection) SendIndex(index uint8, wh uint32) error {
	log.WithField("index", index).
		WithField("wh", wh).
		Debug("sending index over canbus")
	f := can.Frame{ID: frameIndex, Length: 5}
	binary.LittleEndian.PutUint32(f.Data[0:4], wh)
	f.Data[4] = index
	return c.publish(f)
}

func (c *Connection) publish(f can.Frame) error {
	if c.bus == nil {
		return ErrNotConnected
	}
	return errors.Wrapf(c.bus.Publish(f), "unable to publish frame 0x%x", f.ID)
}

func (c *Connection) handleFrame(frame can.Frame) {
	log.WithField("canID", frame.ID).
		WithField("length", frame.Length).
		Debug("received canbus frame")

	switch frame.ID {
	case frameSnapshotRequest:
		if c.cb == nil || c.cb.SnapshotRequest == nil {
			log.WithField("canID", frame.ID).Debug("no callback registered")
			return
		}
		c.cb.SnapshotRequest()
	case frameInstCurrent, frameApparentPower, frameIndex:
		// another meter bridge on the bus
	default:
		log.WithField("canID", frame.ID).Debug("ignoring canID")
	}
}
