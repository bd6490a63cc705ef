package world

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/alphacraft-project/alphacraft/internal/protocol"
)

// CompressionLevel is the zlib level used for chunk payloads.
const CompressionLevel = 6

// Pre-chunk modes.
const (
	PreChunkUnload = false
	PreChunkLoad   = true
)

// Compress returns the zlib stream of blocks, data, block light and sky
// light concatenated in that order.
func Compress(c *Chunk) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib writer: %w", err)
	}
	for _, part := range [][]byte{c.Blocks, c.Data, c.BlockLight, c.SkyLight} {
		if _, err := zw.Write(part); err != nil {
			zw.Close()
			return nil, fmt.Errorf("failed to compress chunk: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish chunk stream: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress rebuilds a whole chunk column at chunk coordinates (x, z) from
// a zlib stream produced by Compress.
func Decompress(x, z int32, compressed []byte) (*Chunk, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("invalid chunk stream: %w", err)
	}
	defer zr.Close()

	c := NewChunk(x, z)
	for _, part := range [][]byte{c.Blocks, c.Data, c.BlockLight, c.SkyLight} {
		if _, err := io.ReadFull(zr, part); err != nil {
			return nil, fmt.Errorf("short chunk stream: %w", err)
		}
	}
	return c, nil
}

// BuildPreChunk encodes packet 0x32.
// Format: [id:1][x:4][z:4][mode:1]
func BuildPreChunk(x, z int32, mode bool) []byte {
	return protocol.NewPacketBuilder(protocol.PktPreChunk).
		WriteInt32(x).
		WriteInt32(z).
		WriteBool(mode).
		Build()
}

// BuildMapChunk encodes packet 0x33 for a whole chunk column.
// Format: [id:1][x:4][y:2][z:4][size_x-1:1][size_y-1:1][size_z-1:1][len:4][data...]
func BuildMapChunk(c *Chunk) ([]byte, error) {
	compressed, err := Compress(c)
	if err != nil {
		return nil, err
	}
	return protocol.NewPacketBuilder(protocol.PktMapChunk).
		WriteInt32(c.X * SizeX).
		WriteInt16(0).
		WriteInt32(c.Z * SizeZ).
		WriteUint8(SizeX - 1).
		WriteUint8(SizeY - 1).
		WriteUint8(SizeZ - 1).
		WriteInt32(int32(len(compressed))).
		WriteBytes(compressed).
		Build(), nil
}

// WriteChunk sends PRE_CHUNK followed by MAP_CHUNK for c.
func WriteChunk(ch *protocol.Channel, c *Chunk) error {
	mapChunk, err := BuildMapChunk(c)
	if err != nil {
		return err
	}
	if err := ch.WriteBytes(BuildPreChunk(c.X, c.Z, PreChunkLoad)); err != nil {
		return fmt.Errorf("failed to send pre chunk: %w", err)
	}
	if err := ch.WriteBytes(mapChunk); err != nil {
		return fmt.Errorf("failed to send map chunk: %w", err)
	}
	return nil
}
