package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/cobra"

	"github.com/burre/midiconduit/internal/core/debug"
	"github.com/burre/midiconduit/internal/core/midi"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE.pcap",
	Short: "Prints the MIDI messages carried by a packet capture of conduit traffic",
	Args:  cobra.ExactArgs(1),
	RunE:  AnalyzeCommand,
}

var CapturePortFlag int

func AnalyzeCommand(cmd *cobra.Command, args []string) error {
	if CapturePortFlag <= 0 || CapturePortFlag > 0xFFFF {
		return fmt.Errorf("invalid port %d", CapturePortFlag)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	summary, err := analyzeCapture(f, uint16(CapturePortFlag), os.Stdout)
	if err != nil {
		return err
	}
	summary.write(os.Stdout)
	return nil
}

// tcpStream tracks one direction of a TCP connection to the conduit.
type tcpStream struct {
	name      string
	direction debug.Direction
	assembler midi.Assembler
	nextSeq   uint32
	started   bool
	messages  int
}

type analysisSummary struct {
	packets int
	streams []*tcpStream
}

func (s analysisSummary) write(w io.Writer) {
	fmt.Fprintf(w, "%d packets, %d streams\n", s.packets, len(s.streams))
	for _, stream := range s.streams {
		fmt.Fprintf(w, "  %s (%s): %d messages", stream.name, stream.direction, stream.messages)
		if pending := stream.assembler.Pending(); pending > 0 {
			fmt.Fprintf(w, ", %d trailing bytes", pending)
		}
		fmt.Fprintln(w)
	}
}

// analyzeCapture decodes a pcap stream and writes every message sent to or
// from port. Messages split across segments are reassembled per stream;
// retransmitted segments are skipped and a gap in the sequence numbers drops
// any partial message.
func analyzeCapture(r io.Reader, port uint16, w io.Writer) (analysisSummary, error) {
	var summary analysisSummary

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return summary, fmt.Errorf("reading capture header: %w", err)
	}

	streams := make(map[string]*tcpStream)
	for {
		data, _, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return summary, fmt.Errorf("reading packet %d: %w", summary.packets+1, err)
		}
		summary.packets++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok || packet.NetworkLayer() == nil {
			continue
		}

		var direction debug.Direction
		switch {
		case uint16(tcp.DstPort) == port:
			direction = debug.Inbound
		case uint16(tcp.SrcPort) == port:
			direction = debug.Outbound
		default:
			continue
		}

		netFlow := packet.NetworkLayer().NetworkFlow()
		name := fmt.Sprintf("%v:%d->%v:%d", netFlow.Src(), tcp.SrcPort, netFlow.Dst(), tcp.DstPort)
		stream, ok := streams[name]
		if !ok {
			stream = &tcpStream{name: name, direction: direction}
			streams[name] = stream
			summary.streams = append(summary.streams, stream)
		}

		payload := stream.accept(tcp)
		for _, msg := range stream.assembler.Feed(payload) {
			stream.messages++
			raw := msg.Bytes()
			fmt.Fprintf(w, "%s %s % X  %v\n", stream.name, stream.direction, raw[:], msg)
		}
	}

	sort.SliceStable(summary.streams, func(i, j int) bool {
		return summary.streams[i].name < summary.streams[j].name
	})
	return summary, nil
}

// accept returns the part of the segment's payload not already seen.
func (s *tcpStream) accept(tcp *layers.TCP) []byte {
	payload := tcp.Payload
	if tcp.SYN {
		s.nextSeq = tcp.Seq + 1
		s.started = true
		return nil
	}
	if !s.started {
		s.nextSeq = tcp.Seq
		s.started = true
	}

	offset := int32(s.nextSeq - tcp.Seq)
	switch {
	case offset < 0:
		// Missing data; whatever was pending can't be completed.
		s.assembler.Reset()
	case int(offset) >= len(payload):
		return nil
	default:
		payload = payload[offset:]
	}
	s.nextSeq = tcp.Seq + uint32(len(tcp.Payload))
	return payload
}
