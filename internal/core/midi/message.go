// Package midi contains the wire representation of the MIDI short messages
// exchanged between peers.
package midi

import "fmt"

// MessageSize is the number of bytes occupied by one message on the wire.
const MessageSize = 3

// Command is the upper nibble of a status byte.
type Command byte

const (
	NoteOff         Command = 0x80
	NoteOn          Command = 0x90
	PolyPressure    Command = 0xA0
	ControlChange   Command = 0xB0
	ProgramChange   Command = 0xC0
	ChannelPressure Command = 0xD0
	PitchBend       Command = 0xE0
	System          Command = 0xF0
)

func (c Command) String() string {
	switch c {
	case NoteOff:
		return "NOTE_OFF"
	case NoteOn:
		return "NOTE_ON"
	case PolyPressure:
		return "POLY_PRESSURE"
	case ControlChange:
		return "CC"
	case ProgramChange:
		return "PROGRAM_CHANGE"
	case ChannelPressure:
		return "CHANNEL_PRESSURE"
	case PitchBend:
		return "PITCH_BEND"
	case System:
		return "SYSTEM"
	default:
		return fmt.Sprintf("0x%02X", byte(c))
	}
}

// Message is a MIDI short message. Status packs the command and channel,
// Data1 and Data2 are the two data bytes that follow it.
type Message struct {
	Status byte
	Data1  byte
	Data2  byte
}

// New packs a command and channel into a status byte.
func New(cmd Command, channel, data1, data2 byte) Message {
	return Message{
		Status: byte(cmd)&0xF0 | channel&0x0F,
		Data1:  data1,
		Data2:  data2,
	}
}

// FromBytes builds a Message from exactly MessageSize bytes.
func FromBytes(b []byte) (Message, error) {
	if len(b) != MessageSize {
		return Message{}, fmt.Errorf("expected %d bytes for a MIDI message, got %d", MessageSize, len(b))
	}
	return Message{Status: b[0], Data1: b[1], Data2: b[2]}, nil
}

func (m Message) Command() Command { return Command(m.Status & 0xF0) }
func (m Message) Channel() byte    { return m.Status & 0x0F }

// Bytes returns the wire encoding of the message.
func (m Message) Bytes() [MessageSize]byte {
	return [MessageSize]byte{m.Status, m.Data1, m.Data2}
}

func (m Message) String() string {
	return fmt.Sprintf("%v ch=%d data1=%d data2=%d", m.Command(), m.Channel(), m.Data1, m.Data2)
}
