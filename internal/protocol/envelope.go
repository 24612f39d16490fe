package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Wire framing: 4-byte big-endian length prefix, then a JSON envelope
// {"type": ..., "body": ...}. The tag lets a peer decode any frame
// without external context.

// MaxFrameSize bounds a single wire frame. Leaves headroom above
// MaxChunkSize for the envelope around a full chunk.
const MaxFrameSize = MaxChunkSize + (64 << 10)

// Message types carried in envelopes.
const (
	TypeRequest    = "request"
	TypeResponse   = "response"
	TypeFindNode   = "find_node"
	TypeFindNodeOK = "find_node_ok"
	TypeHello      = "hello"
	TypeHelloOK    = "hello_ok"
)

// Envelope is the outer wire message.
type Envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// EncodeMessage wraps v in an envelope and returns the JSON payload
// (unframed).
func EncodeMessage(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Body: body})
}

// DecodeEnvelope parses the outer envelope without touching the body.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("protocol: envelope without type")
	}
	return env, nil
}

// DecodeBody parses an envelope body into out.
func DecodeBody(env Envelope, out any) error {
	if len(env.Body) == 0 {
		return fmt.Errorf("protocol: %s envelope without body", env.Type)
	}
	return json.Unmarshal(env.Body, out)
}

// EncodeFrame length-prefixes a payload.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("protocol: empty payload")
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("protocol: payload too large: %d", len(payload))
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// ReadFrame reads one length-prefixed payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("protocol: invalid frame size %d", n)
	}
	payload := make([]byte, int(n))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame frames and writes a payload in full.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("protocol: short write")
		}
		total += n
	}
	return nil
}
