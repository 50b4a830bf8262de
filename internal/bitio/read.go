// Package bitio reads MSB-first bit fields from byte streams.
package bitio

import (
	"errors"
	"io"
)

var (
	ErrInvalidAlignment = errors.New("bitio: reader is not byte aligned")
	ErrExpGolombRange   = errors.New("bitio: exp-golomb code exceeds 32 bits")
)

type Reader interface {
	io.Reader

	ReadBit() (bool, error)

	// ReadUInt reads n bits, n <= 32, and returns them as an unsigned integer.
	ReadUInt(n int) (uint32, error)

	// ReadUE reads an unsigned Exp-Golomb coded integer, ue(v).
	ReadUE() (uint32, error)

	// ReadSE reads a signed Exp-Golomb coded integer, se(v).
	ReadSE() (int32, error)

	// Skip discards n bits.
	Skip(n int) error

	ByteAligned() bool
}

type reader struct {
	src   io.Reader
	octet byte
	left  uint
	one   [1]byte
}

func NewReader(r io.Reader) Reader {
	return &reader{src: r}
}

// Read reads whole bytes and is only valid on a byte boundary.
func (r *reader) Read(p []byte) (int, error) {
	if r.left != 0 {
		return 0, ErrInvalidAlignment
	}
	return r.src.Read(p)
}

func (r *reader) ByteAligned() bool { return r.left == 0 }

func (r *reader) ReadBit() (bool, error) {
	if r.left == 0 {
		if _, err := io.ReadFull(r.src, r.one[:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return false, err
		}
		r.octet = r.one[0]
		r.left = 8
	}
	r.left--
	return (r.octet>>r.left)&0x01 != 0, nil
}

func (r *reader) ReadUInt(n int) (uint32, error) {
	var v uint32
	for i := 0; i < n; i++ {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		v <<= 1
		if bit {
			v |= 1
		}
	}
	return v, nil
}

func (r *reader) ReadUE() (uint32, error) {
	zeros := 0
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit {
			break
		}
		zeros++
		if zeros >= 32 {
			return 0, ErrExpGolombRange
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	rest, err := r.ReadUInt(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + rest, nil
}

func (r *reader) ReadSE() (int32, error) {
	k, err := r.ReadUE()
	if err != nil {
		return 0, err
	}
	// 1, 2, 3, 4 -> 1, -1, 2, -2
	if k&1 == 1 {
		return int32((k + 1) / 2), nil
	}
	return -int32(k / 2), nil
}

func (r *reader) Skip(n int) error {
	for ; n > 0 && r.left > 0; n-- {
		r.left--
	}
	if n >= 8 {
		if _, err := io.CopyN(io.Discard, r.src, int64(n/8)); err != nil {
			return err
		}
		n %= 8
	}
	for ; n > 0; n-- {
		if _, err := r.ReadBit(); err != nil {
			return err
		}
	}
	return nil
}
