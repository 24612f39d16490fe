package protocol

import (
	"fmt"

	"xornet/internal/xorname"
)

// MaxChunkSize bounds a single chunk's payload. Larger blobs are split
// by the files layer before they reach the protocol.
const MaxChunkSize = 1 << 20

// Chunk is a unit of content-addressed data. Its address is derived
// from its bytes, so any holder can verify it without trusting the
// peer that served it.
type Chunk struct {
	Value []byte `json:"value"`
}

func NewChunk(value []byte) Chunk {
	return Chunk{Value: value}
}

func (c Chunk) Name() xorname.XorName {
	return xorname.FromContent(c.Value)
}

func (c Chunk) Address() ChunkAddress {
	return ChunkAddress(c.Name())
}

// Valid checks the chunk against wire limits before any I/O.
func (c Chunk) Valid() error {
	if len(c.Value) == 0 {
		return fmt.Errorf("protocol: empty chunk")
	}
	if len(c.Value) > MaxChunkSize {
		return fmt.Errorf("protocol: chunk of %d bytes exceeds limit of %d", len(c.Value), MaxChunkSize)
	}
	return nil
}

func (c Chunk) String() string {
	return fmt.Sprintf("Chunk(%s,%dB)", c.Name().Short(), len(c.Value))
}
