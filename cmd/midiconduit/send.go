package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/burre/midiconduit/internal/core/midi"
)

var sendCmd = &cobra.Command{
	Use:   "send ADDR STATUS DATA1 DATA2",
	Short: "Sends a single message to a conduit",
	Long: "Sends a single message to a conduit. STATUS, DATA1 and DATA2 accept\n" +
		"decimal or 0x-prefixed hexadecimal values, e.g. send localhost:6666 0x90 60 100",
	Args: cobra.ExactArgs(4),
	RunE: SendCommand,
}

func SendCommand(cmd *cobra.Command, args []string) error {
	msg, err := parseMessage(args[1:])
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", args[0], 5*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", args[0], err)
	}
	defer conn.Close()

	raw := msg.Bytes()
	if _, err := conn.Write(raw[:]); err != nil {
		return fmt.Errorf("sending %v: %w", msg, err)
	}
	fmt.Println("sent", msg)
	return nil
}

func parseMessage(fields []string) (midi.Message, error) {
	if len(fields) != midi.MessageSize {
		return midi.Message{}, fmt.Errorf("expected %d values, got %d", midi.MessageSize, len(fields))
	}

	raw := make([]byte, midi.MessageSize)
	for i, field := range fields {
		v, err := cast.ToIntE(field)
		if err != nil {
			return midi.Message{}, fmt.Errorf("invalid byte %q: %w", field, err)
		}
		if v < 0 || v > 0xFF {
			return midi.Message{}, fmt.Errorf("invalid byte %q: out of range", field)
		}
		raw[i] = byte(v)
	}
	return midi.FromBytes(raw)
}
