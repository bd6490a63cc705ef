// Package world holds the chunk model and its wire encoding.
package world

import "fmt"

// Chunk dimensions in blocks.
const (
	SizeX = 16
	SizeY = 128
	SizeZ = 16

	// Volume is the number of blocks (and bytes per array) in a chunk.
	Volume = SizeX * SizeY * SizeZ
)

// Block ids used by the synthetic world.
const (
	BlockAir byte = 0
)

// FullLight is the maximum light level.
const FullLight byte = 15

// Chunk is a 16x128x16 column of blocks. Each array holds one byte per
// block, addressed by Index.
type Chunk struct {
	X, Z int32

	Blocks     []byte
	Data       []byte
	BlockLight []byte
	SkyLight   []byte

	// HeightMap is carried for completeness and never sent.
	HeightMap []byte
}

// Index returns the array offset of block (x, y, z) within a chunk.
// y varies fastest, then z, then x.
func Index(x, y, z int) int {
	return y + z*SizeY + x*SizeY*SizeZ
}

// NewChunk creates a chunk filled with air, data 0 and zero light.
func NewChunk(x, z int32) *Chunk {
	return &Chunk{
		X:          x,
		Z:          z,
		Blocks:     make([]byte, Volume),
		Data:       make([]byte, Volume),
		BlockLight: make([]byte, Volume),
		SkyLight:   make([]byte, Volume),
		HeightMap:  make([]byte, SizeX*SizeZ),
	}
}

// NewFlatChunk creates the synthetic chunk pushed at login: every block is
// air with data 0 and both light arrays at full brightness.
func NewFlatChunk(x, z int32) *Chunk {
	c := NewChunk(x, z)
	fill(c.BlockLight, FullLight)
	fill(c.SkyLight, FullLight)
	return c
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// Validate checks that all block arrays have the chunk volume.
func (c *Chunk) Validate() error {
	arrays := []struct {
		name string
		data []byte
	}{
		{"blocks", c.Blocks},
		{"data", c.Data},
		{"block_light", c.BlockLight},
		{"sky_light", c.SkyLight},
	}
	for _, a := range arrays {
		if len(a.data) != Volume {
			return fmt.Errorf("chunk (%d,%d) %s has %d bytes, want %d", c.X, c.Z, a.name, len(a.data), Volume)
		}
	}
	return nil
}

// SetBlock sets the block id and data at (x, y, z).
func (c *Chunk) SetBlock(x, y, z int, id, data byte) {
	i := Index(x, y, z)
	c.Blocks[i] = id
	c.Data[i] = data
}

// Block returns the block id at (x, y, z).
func (c *Chunk) Block(x, y, z int) byte {
	return c.Blocks[Index(x, y, z)]
}
