package ivf

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/mattetti/mead/media"
)

// DefaultMaxFrameSize bounds a single record payload.
const DefaultMaxFrameSize = 64 << 20

// Reader reads records from an IVF stream.
type Reader struct {
	r       io.Reader
	header  Header
	maxSize uint32
	index   int
	rec     [RecordHeaderSize]byte
}

// NewReader reads and validates the file header.
func NewReader(r io.Reader) (*Reader, error) {
	b := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, media.IOError("ivf header", err)
	}
	rd := &Reader{r: r, maxSize: DefaultMaxFrameSize}
	if err := rd.header.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	if extra := int64(binary.LittleEndian.Uint16(b[6:])) - HeaderSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return nil, media.IOError("ivf header", err)
		}
	}
	return rd, nil
}

func (r *Reader) Header() Header { return r.header }

// SetMaxFrameSize changes the payload ceiling.
func (r *Reader) SetMaxFrameSize(n uint32) { r.maxSize = n }

// ReadPacket returns the next record, or nil, nil at a clean end of stream.
// The header frame count is informational and not enforced.
func (r *Reader) ReadPacket() (*media.Packet, error) {
	n, err := io.ReadFull(r.r, r.rec[:])
	switch {
	case err == io.EOF:
		return nil, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, media.Malformed("ivf record", "truncated header of record %d (%d bytes)", r.index, n)
	case err != nil:
		return nil, media.IOError("ivf record", err)
	}
	size := binary.LittleEndian.Uint32(r.rec[0:])
	pts := binary.LittleEndian.Uint64(r.rec[4:])
	if size > r.maxSize {
		return nil, &media.SizeLimitError{Op: "ivf record", Size: uint64(size), Limit: uint64(r.maxSize)}
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, media.Malformed("ivf record", "truncated payload of record %d", r.index)
		}
		return nil, media.IOError("ivf record", err)
	}
	r.index++
	return &media.Packet{PTS: int64(pts), DTS: int64(pts), Payload: payload}, nil
}
