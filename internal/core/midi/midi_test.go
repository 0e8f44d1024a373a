package midi

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNew(t *testing.T) {
	msg := New(ControlChange, 3, 0x07, 0x7F)

	if msg.Status != 0xB3 {
		t.Errorf("Status want = 0xB3, got = 0x%02X", msg.Status)
	}
	if msg.Command() != ControlChange {
		t.Errorf("Command() want = %v, got = %v", ControlChange, msg.Command())
	}
	if msg.Channel() != 3 {
		t.Errorf("Channel() want = 3, got = %d", msg.Channel())
	}
}

func TestFromBytes(t *testing.T) {
	msg, err := FromBytes([]byte{0x90, 0x3C, 0x40})
	if err != nil {
		t.Fatalf("FromBytes() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff(Message{Status: 0x90, Data1: 0x3C, Data2: 0x40}, msg); diff != "" {
		t.Errorf("FromBytes() result did not match expected; diff:\n%s", diff)
	}

	for _, b := range [][]byte{nil, {0x90}, {0x90, 0x3C}, {0x90, 0x3C, 0x40, 0x00}} {
		if _, err := FromBytes(b); err == nil {
			t.Errorf("FromBytes(%v) expected an error", b)
		}
	}
}

func TestMessage_String(t *testing.T) {
	got := Message{Status: 0x91, Data1: 60, Data2: 100}.String()
	if want := "NOTE_ON ch=1 data1=60 data2=100"; got != want {
		t.Errorf("String() want = %q, got = %q", want, got)
	}
}

func TestAssembler_Feed(t *testing.T) {
	stream := []byte{0xB0, 0x00, 0x7F, 0x90, 0x3C, 0x40, 0x80, 0x3C, 0x00}
	want := []Message{
		{Status: 0xB0, Data1: 0x00, Data2: 0x7F},
		{Status: 0x90, Data1: 0x3C, Data2: 0x40},
		{Status: 0x80, Data1: 0x3C, Data2: 0x00},
	}

	for chunkSize := 1; chunkSize <= len(stream); chunkSize++ {
		var a Assembler
		var got []Message
		for i := 0; i < len(stream); i += chunkSize {
			end := i + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, a.Feed(stream[i:end])...)
		}

		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("chunk size %d produced the wrong messages; diff:\n%s", chunkSize, diff)
		}
		if a.Pending() != 0 {
			t.Errorf("chunk size %d left %d pending bytes", chunkSize, a.Pending())
		}
	}
}

func TestAssembler_Pending(t *testing.T) {
	var a Assembler
	if msgs := a.Feed([]byte{0x90, 0x3C}); len(msgs) != 0 {
		t.Fatalf("Feed() returned %d messages for a partial frame", len(msgs))
	}
	if a.Pending() != 2 {
		t.Fatalf("Pending() want = 2, got = %d", a.Pending())
	}

	a.Reset()
	msgs := a.Feed([]byte{0x80, 0x3C, 0x00})
	if diff := cmp.Diff([]Message{{Status: 0x80, Data1: 0x3C}}, msgs); diff != "" {
		t.Errorf("Feed() after Reset() did not match expected; diff:\n%s", diff)
	}
}
