package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/burre/midiconduit/internal/core/midi"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor ADDR",
	Short: "Connects to a conduit as a peer and prints every message it sends",
	Args:  cobra.ExactArgs(1),
	RunE:  MonitorCommand,
}

var NoColorFlag bool

func MonitorCommand(cmd *cobra.Command, args []string) error {
	conn, err := net.Dial("tcp", args[0])
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", args[0], err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	fmt.Fprintf(os.Stderr, "connected to %s\n", conn.RemoteAddr())
	p := newMessagePrinter(os.Stdout, !NoColorFlag && isTerminal(os.Stdout))
	return monitor(conn, p)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// monitor prints every message read from r until the stream ends.
func monitor(r io.Reader, p *messagePrinter) error {
	var assembler midi.Assembler
	buf := make([]byte, 1024)

	for {
		n, err := r.Read(buf)
		for _, msg := range assembler.Feed(buf[:n]) {
			p.print(msg)
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				if pending := assembler.Pending(); pending > 0 {
					fmt.Fprintf(p.w, "connection closed with %d bytes of an incomplete message\n", pending)
				}
				return nil
			}
			return err
		}
	}
}

type messagePrinter struct {
	w        io.Writer
	colors   map[midi.Command]*color.Color
	fallback *color.Color
}

func newMessagePrinter(w io.Writer, useColor bool) *messagePrinter {
	p := &messagePrinter{
		w: w,
		colors: map[midi.Command]*color.Color{
			midi.NoteOn:          color.New(color.FgGreen, color.Bold),
			midi.NoteOff:         color.New(color.FgGreen),
			midi.PolyPressure:    color.New(color.FgCyan),
			midi.ControlChange:   color.New(color.FgYellow),
			midi.ProgramChange:   color.New(color.FgMagenta),
			midi.ChannelPressure: color.New(color.FgCyan),
			midi.PitchBend:       color.New(color.FgBlue),
		},
		fallback: color.New(color.FgRed),
	}

	for _, c := range append(p.colorList(), p.fallback) {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *messagePrinter) colorList() []*color.Color {
	list := make([]*color.Color, 0, len(p.colors))
	for _, c := range p.colors {
		list = append(list, c)
	}
	return list
}

func (p *messagePrinter) print(msg midi.Message) {
	c, ok := p.colors[msg.Command()]
	if !ok {
		c = p.fallback
	}
	raw := msg.Bytes()
	fmt.Fprintf(p.w, "% X  %s\n", raw[:], c.Sprint(msg.String()))
}
