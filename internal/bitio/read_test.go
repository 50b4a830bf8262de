package bitio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadUInt(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0b1011_0011, 0xF0}))
	v, err := r.ReadUInt(3)
	require.NoError(t, err)
	assert.EqualValues(t, 0b101, v)
	assert.False(t, r.ByteAligned())

	v, err = r.ReadUInt(9)
	require.NoError(t, err)
	assert.EqualValues(t, 0b1_0011_1111, v)

	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrInvalidAlignment)
}

func TestExpGolomb(t *testing.T) {
	// ue: 1 -> 0, 010 -> 1, 011 -> 2, 00100 -> 3, 00111 -> 6
	// bits: 1 010 011 00100 00111 0000000
	r := NewReader(bytes.NewReader([]byte{0b1010_0110, 0b0100_0011, 0b1000_0000}))
	for _, want := range []uint32{0, 1, 2, 3, 6} {
		got, err := r.ReadUE()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReadSE(t *testing.T) {
	// codes 1..4 -> 1, -1, 2, -2
	// 010 011 00100 00101
	r := NewReader(bytes.NewReader([]byte{0b0100_1100, 0b1000_0101}))
	for _, want := range []int32{1, -1, 2, -2} {
		got, err := r.ReadSE()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestUERange(t *testing.T) {
	r := NewReader(bytes.NewReader(make([]byte, 8)))
	_, err := r.ReadUE()
	assert.ErrorIs(t, err, ErrExpGolombRange)
}

func TestSkip(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xFF, 0x00, 0xAA, 0x80}))
	require.NoError(t, r.Skip(4))
	require.NoError(t, r.Skip(12))
	assert.True(t, r.ByteAligned())
	v, err := r.ReadUInt(8)
	require.NoError(t, err)
	assert.EqualValues(t, 0xAA, v)

	_, err = r.ReadUInt(16)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
