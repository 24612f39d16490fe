package protocol

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"request","body":{}}`)
	frame, err := EncodeFrame(payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	got, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("frame round trip changed payload")
	}
}

func TestFrameRejectsEmptyAndOversized(t *testing.T) {
	if _, err := EncodeFrame(nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
	if _, err := EncodeFrame(make([]byte, MaxFrameSize+1)); err == nil {
		t.Fatalf("expected error for oversized payload")
	}
	// A frame header announcing an oversized body must be refused
	// before any allocation.
	bad := []byte{0xff, 0xff, 0xff, 0xff}
	if _, err := ReadFrame(bytes.NewReader(bad)); err == nil {
		t.Fatalf("expected error for oversized frame header")
	}
}

func TestDecodeEnvelopeRequiresType(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"body":{}}`)); err == nil {
		t.Fatalf("expected error for untyped envelope")
	}
	if _, err := DecodeEnvelope([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
