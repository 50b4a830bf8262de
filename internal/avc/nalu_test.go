package avc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lengthPrefixed(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, byte(len(n)>>24), byte(len(n)>>16), byte(len(n)>>8), byte(len(n)))
		out = append(out, n...)
	}
	return out
}

var (
	sps      = []byte{0x67, 0x42, 0x00, 0x1e}
	idrSlice = []byte{0x65, 0x88, 0x80} // first_mb 0, slice_type 7, pps 0
	pSlice   = []byte{0x41, 0x9A}       // slice_type 5
	bSlice   = []byte{0x01, 0xA8}       // slice_type 1
)

func TestSplit(t *testing.T) {
	nalus, err := Split(lengthPrefixed(sps, idrSlice), 4)
	require.NoError(t, err)
	require.Len(t, nalus, 2)
	assert.Equal(t, NALSPS, nalus[0].Type)
	assert.Equal(t, NALIDRSlice, nalus[1].Type)
	assert.EqualValues(t, 3, nalus[1].RefIdc)
	assert.Equal(t, 12, nalus[1].Offset)
}

func TestSplitErrors(t *testing.T) {
	_, err := Split([]byte{0, 0, 0, 9, 0x65}, 4)
	assert.Error(t, err)
	_, err = Split([]byte{0, 0}, 4)
	assert.Error(t, err)
	_, err = Split(nil, 3)
	assert.Error(t, err)
}

func TestFrameType(t *testing.T) {
	tests := []struct {
		name   string
		sample []byte
		want   string
		idr    bool
	}{
		{"idr", lengthPrefixed(sps, idrSlice), "I", true},
		{"p", lengthPrefixed(pSlice), "P", false},
		{"b", lengthPrefixed(bSlice), "B", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, idr, err := FrameType(tt.sample, 4)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.idr, idr)
		})
	}

	_, _, err := FrameType(lengthPrefixed(sps), 4)
	assert.ErrorIs(t, err, ErrNotSlice)
}

func TestIDRWithoutRefIdc(t *testing.T) {
	_, _, err := FrameType(lengthPrefixed([]byte{0x05, 0x88, 0x80}), 4)
	assert.Error(t, err)
}

func TestRBSP(t *testing.T) {
	n := NALU{Type: NALSlice, Data: []byte{0x41, 0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03}}
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x00, 0x00}, n.RBSP())
}
