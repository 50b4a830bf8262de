// Package avc inspects length-prefixed H.264 samples as stored in MP4.
package avc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mattetti/mead/internal/bitio"
)

type NALType byte

const (
	NALSlice     NALType = 1
	NALDPA       NALType = 2
	NALDPB       NALType = 3
	NALDPC       NALType = 4
	NALIDRSlice  NALType = 5
	NALSEI       NALType = 6
	NALSPS       NALType = 7
	NALPPS       NALType = 8
	NALAUD       NALType = 9
	NALEndSeq    NALType = 10
	NALEndStream NALType = 11
	NALFiller    NALType = 12
	NALSPSExt    NALType = 13
	NALPrefix    NALType = 14
	NALSubsetSPS NALType = 15
	NALDepthSPS  NALType = 16
	NALAuxSlice  NALType = 19
)

func (t NALType) IsSlice() bool {
	return t == NALSlice || t == NALIDRSlice || t == NALAuxSlice
}

var ErrNotSlice = errors.New("avc: not a slice NAL unit")

// NALU is one NAL unit inside a sample. Data starts at the header byte.
type NALU struct {
	Type   NALType
	RefIdc uint8
	Offset int // of the header byte within the sample
	Data   []byte
}

// Split walks the length-prefixed NAL units of an MP4 sample. lengthSize is
// the avcC lengthSizeMinusOne+1, one of 1, 2 or 4.
func Split(sample []byte, lengthSize int) ([]NALU, error) {
	switch lengthSize {
	case 1, 2, 4:
	default:
		return nil, fmt.Errorf("avc: invalid NAL length size %d", lengthSize)
	}
	var nalus []NALU
	for pos := 0; pos < len(sample); {
		if len(sample)-pos < lengthSize {
			return nalus, fmt.Errorf("avc: truncated length prefix at %d", pos)
		}
		var n uint32
		switch lengthSize {
		case 1:
			n = uint32(sample[pos])
		case 2:
			n = uint32(binary.BigEndian.Uint16(sample[pos:]))
		case 4:
			n = binary.BigEndian.Uint32(sample[pos:])
		}
		pos += lengthSize
		if n == 0 {
			continue
		}
		if uint64(n) > uint64(len(sample)-pos) {
			return nalus, fmt.Errorf("avc: NAL unit at %d claims %d bytes, %d left", pos, n, len(sample)-pos)
		}
		data := sample[pos : pos+int(n)]
		nalus = append(nalus, NALU{
			Type:   NALType(data[0] & 0x1F),
			RefIdc: (data[0] >> 5) & 0x03,
			Offset: pos,
			Data:   data,
		})
		pos += int(n)
	}
	return nalus, nil
}

// RBSP strips emulation prevention bytes (00 00 03) from the NAL payload,
// header byte excluded.
func (n NALU) RBSP() []byte {
	payload := n.Data[1:]
	if !bytes.Contains(payload, []byte{0, 0, 3}) {
		return payload
	}
	out := make([]byte, 0, len(payload))
	zeros := 0
	for _, b := range payload {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// SliceHeader holds the leading fields of a slice header (7.3.3).
type SliceHeader struct {
	FirstMbInSlice    uint32
	SliceType         uint32 // reduced modulo 5
	PicParameterSetID uint32
}

// ParseSliceHeader validates the NAL header byte and reads the slice header
// fields that do not depend on the active SPS/PPS.
func (n NALU) ParseSliceHeader() (SliceHeader, error) {
	var sh SliceHeader
	if !n.Type.IsSlice() {
		return sh, ErrNotSlice
	}
	if n.Data[0]&0x80 != 0 {
		return sh, errors.New("avc: forbidden_zero_bit is set")
	}
	if n.RefIdc == 0 && n.Type == NALIDRSlice {
		return sh, errors.New("avc: nal_ref_idc is 0 for an IDR slice")
	}

	br := bitio.NewReader(bytes.NewReader(n.RBSP()))
	var err error
	if sh.FirstMbInSlice, err = br.ReadUE(); err != nil {
		return sh, fmt.Errorf("avc: first_mb_in_slice: %w", err)
	}
	if sh.SliceType, err = br.ReadUE(); err != nil {
		return sh, fmt.Errorf("avc: slice_type: %w", err)
	}
	sh.SliceType %= 5
	if sh.PicParameterSetID, err = br.ReadUE(); err != nil {
		return sh, fmt.Errorf("avc: pic_parameter_set_id: %w", err)
	}
	return sh, nil
}

// SliceTypeName maps a slice_type to its picture letter.
func SliceTypeName(sliceType uint32) string {
	switch sliceType % 5 {
	case 0:
		return "P"
	case 1:
		return "B"
	case 2:
		return "I"
	case 3:
		return "SP"
	default:
		return "SI"
	}
}

// FrameType returns the picture letter of the first slice in sample, and
// whether the sample carries an IDR slice.
func FrameType(sample []byte, lengthSize int) (string, bool, error) {
	nalus, err := Split(sample, lengthSize)
	if err != nil {
		return "", false, err
	}
	for _, n := range nalus {
		if !n.Type.IsSlice() {
			continue
		}
		sh, err := n.ParseSliceHeader()
		if err != nil {
			return "", false, err
		}
		return SliceTypeName(sh.SliceType), n.Type == NALIDRSlice, nil
	}
	return "", false, ErrNotSlice
}
