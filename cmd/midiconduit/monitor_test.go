package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"

	"github.com/burre/midiconduit/internal/core/midi"
)

func TestMonitor(t *testing.T) {
	stream := []byte{0x90, 0x3C, 0x40, 0xB3, 0x07, 0x64, 0xF8}

	out := &bytes.Buffer{}
	// OneByteReader splits every message across reads.
	if err := monitor(iotest.OneByteReader(bytes.NewReader(stream)), newMessagePrinter(out, false)); err != nil {
		t.Fatalf("monitor() returned an unexpected error: %v", err)
	}

	want := "90 3C 40  NOTE_ON ch=0 data1=60 data2=64\n" +
		"B3 07 64  CC ch=3 data1=7 data2=100\n" +
		"connection closed with 1 bytes of an incomplete message\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("monitor() output did not match expected; diff:\n%s", diff)
	}
}

func TestMonitor_ReadError(t *testing.T) {
	boom := errors.New("boom")
	err := monitor(iotest.ErrReader(boom), newMessagePrinter(&bytes.Buffer{}, false))
	if !errors.Is(err, boom) {
		t.Errorf("monitor() want = %v, got = %v", boom, err)
	}
}

func TestMessagePrinter_Color(t *testing.T) {
	msg := midi.New(midi.NoteOn, 0, 60, 100)

	colored := &bytes.Buffer{}
	newMessagePrinter(colored, true).print(msg)
	if !strings.Contains(colored.String(), "\x1b[") {
		t.Errorf("colored output has no escape sequences: %q", colored.String())
	}

	plain := &bytes.Buffer{}
	newMessagePrinter(plain, false).print(msg)
	if strings.Contains(plain.String(), "\x1b[") {
		t.Errorf("plain output has escape sequences: %q", plain.String())
	}
}
