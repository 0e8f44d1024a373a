// Package bridge connects the network transport to local MIDI devices.
//
// Inbound messages reach devices through sinks registered with a
// conduit.Server; messages produced by local devices are pushed back out to
// every peer with Forward.
package bridge

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/burre/midiconduit/internal/core/midi"
)

// Device is an output device able to play a MIDI message. Device discovery
// and the platform I/O behind Send live outside this package.
type Device interface {
	Name() string
	Send(msg midi.Message) error
}

// Broadcaster pushes a message to every connected peer.
type Broadcaster interface {
	Broadcast(msg midi.Message) error
}

// DeviceSink delivers every inbound message to a Device.
type DeviceSink struct {
	device Device
	logger logrus.FieldLogger
}

func NewDeviceSink(device Device, logger logrus.FieldLogger) *DeviceSink {
	return &DeviceSink{
		device: device,
		logger: logger.WithField("device", device.Name()),
	}
}

// Deliver sends msg to the device. Device errors are logged rather than
// returned so that one failing device never stalls the connection it came from.
func (d *DeviceSink) Deliver(msg midi.Message) {
	if err := d.device.Send(msg); err != nil {
		d.logger.Warnf("failed to send %v to device: %s", msg, err)
	}
}

// LogSink logs every message it receives.
type LogSink struct {
	logger logrus.FieldLogger
}

func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Deliver(msg midi.Message) {
	l.logger.WithFields(logrus.Fields{
		"command": msg.Command(),
		"channel": msg.Channel(),
		"data1":   msg.Data1,
		"data2":   msg.Data2,
	}).Info("message received")
}

// ChannelSink hands messages to a channel without blocking. Messages are
// dropped, with a warning, when the channel is full.
type ChannelSink struct {
	ch     chan<- midi.Message
	logger logrus.FieldLogger
}

func NewChannelSink(ch chan<- midi.Message, logger logrus.FieldLogger) *ChannelSink {
	return &ChannelSink{ch: ch, logger: logger}
}

func (c *ChannelSink) Deliver(msg midi.Message) {
	select {
	case c.ch <- msg:
	default:
		c.logger.Warnf("event buffer full; dropping %v", msg)
	}
}

// Forward broadcasts every message read from in until in is closed or ctx is
// cancelled. Broadcast failures only affect the peers that failed, so they are
// logged and forwarding continues.
func Forward(ctx context.Context, in <-chan midi.Message, out Broadcaster, logger logrus.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if err := out.Broadcast(msg); err != nil {
				logger.Warnf("failed to forward %v to every peer: %s", msg, err)
			}
		}
	}
}
