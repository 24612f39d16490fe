// Package files turns blobs into network chunks and back. Content is
// split, each piece sealed convergently (the key is the hash of the
// plaintext piece), and a data map records the addresses and keys
// needed to reassemble. The same blob always yields the same chunks,
// so uploads deduplicate across clients.
package files

import (
	"bytes"
	"encoding/json"
	"fmt"

	"xornet/internal/crypto"
	"xornet/internal/protocol"
)

// splitSize keeps sealed pieces comfortably under the chunk limit.
const splitSize = 512 << 10

// ChunkRef locates one sealed piece and the key that opens it.
type ChunkRef struct {
	Address protocol.ChunkAddress `json:"address"`
	Key     []byte                `json:"key"`
	Size    int                   `json:"size"`
}

// DataMap is everything needed to rebuild a blob from the network.
// It is itself storable as a chunk.
type DataMap struct {
	Size   int        `json:"size"`
	Chunks []ChunkRef `json:"chunks"`
}

// Split seals data into chunks and returns the map describing them.
func Split(data []byte) (DataMap, []protocol.Chunk, error) {
	if len(data) == 0 {
		return DataMap{}, nil, fmt.Errorf("files: empty input")
	}
	dm := DataMap{Size: len(data)}
	var chunks []protocol.Chunk
	for off := 0; off < len(data); off += splitSize {
		end := off + splitSize
		if end > len(data) {
			end = len(data)
		}
		piece := data[off:end]
		key := crypto.KDF("xornet:files:key:v1", piece)
		sealed, err := crypto.Seal(key, piece, nil)
		if err != nil {
			return DataMap{}, nil, fmt.Errorf("files: seal piece at %d: %w", off, err)
		}
		chunk := protocol.NewChunk(sealed)
		dm.Chunks = append(dm.Chunks, ChunkRef{
			Address: chunk.Address(),
			Key:     key,
			Size:    len(piece),
		})
		chunks = append(chunks, chunk)
	}
	return dm, chunks, nil
}

// Assemble fetches and opens every piece of a data map.
func Assemble(dm DataMap, fetch func(protocol.ChunkAddress) (*protocol.Chunk, error)) ([]byte, error) {
	if len(dm.Chunks) == 0 {
		return nil, fmt.Errorf("files: empty data map")
	}
	var buf bytes.Buffer
	buf.Grow(dm.Size)
	for i, ref := range dm.Chunks {
		chunk, err := fetch(ref.Address)
		if err != nil {
			return nil, fmt.Errorf("files: fetch piece %d: %w", i, err)
		}
		piece, err := crypto.Open(ref.Key, chunk.Value, nil)
		if err != nil {
			return nil, fmt.Errorf("files: open piece %d: %w", i, err)
		}
		if len(piece) != ref.Size {
			return nil, fmt.Errorf("files: piece %d is %d bytes, map says %d", i, len(piece), ref.Size)
		}
		buf.Write(piece)
	}
	if buf.Len() != dm.Size {
		return nil, fmt.Errorf("files: assembled %d bytes, map says %d", buf.Len(), dm.Size)
	}
	return buf.Bytes(), nil
}

// EncodeMap serializes a data map for storage as a chunk.
func EncodeMap(dm DataMap) ([]byte, error) {
	return json.Marshal(dm)
}

// DecodeMap parses a stored data map.
func DecodeMap(data []byte) (DataMap, error) {
	var dm DataMap
	if err := json.Unmarshal(data, &dm); err != nil {
		return DataMap{}, fmt.Errorf("files: bad data map: %w", err)
	}
	return dm, nil
}
