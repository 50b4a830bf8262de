// Package y4m reads and writes YUV4MPEG2 streams of raw planar frames.
package y4m

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattetti/mead/frame"
	"github.com/mattetti/mead/media"
)

const (
	streamMagic = "YUV4MPEG2"
	frameMagic  = "FRAME"

	// maxLine bounds a header or frame line.
	maxLine = 4096

	// MaxDimension bounds the W and H tags.
	MaxDimension = 0xFFFF
	// MaxFrameSize bounds the packed size of one frame.
	MaxFrameSize = 256 << 20
)

// Header is the stream header.
type Header struct {
	Width      int
	Height     int
	Rate       media.TimeBase // frames per second, Num/Den
	Interlace  byte
	Aspect     string
	Colorspace string
	Format     frame.PixelFormat
}

// TimeBase is the per-frame tick, the inverse of the frame rate.
func (h Header) TimeBase() media.TimeBase {
	return media.TimeBase{Num: h.Rate.Den, Den: h.Rate.Num}
}

func (h Header) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s W%d H%d F%d:%d", streamMagic, h.Width, h.Height, h.Rate.Num, h.Rate.Den)
	if h.Interlace != 0 {
		fmt.Fprintf(&b, " I%c", h.Interlace)
	}
	if h.Aspect != "" {
		fmt.Fprintf(&b, " A%s", h.Aspect)
	}
	cs := h.Colorspace
	if cs == "" {
		cs = colorspaceOf(h.Format)
	}
	if cs != "" {
		fmt.Fprintf(&b, " C%s", cs)
	}
	return b.String()
}

func colorspaceOf(f frame.PixelFormat) string {
	switch f {
	case frame.YUV420P:
		return "420jpeg"
	case frame.YUV422P:
		return "422"
	case frame.YUV444P:
		return "444"
	}
	return ""
}

func formatOf(cs string) (frame.PixelFormat, error) {
	switch cs {
	case "", "420", "420jpeg", "420paldv", "420mpeg2":
		return frame.YUV420P, nil
	case "422":
		return frame.YUV422P, nil
	case "444":
		return frame.YUV444P, nil
	}
	return frame.FormatUnknown, media.Unsupported("y4m header", "colorspace "+cs)
}

// ParseHeader parses a stream header line without its trailing newline.
func ParseHeader(line string) (Header, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != streamMagic {
		return Header{}, media.Malformed("y4m header", "missing %s signature", streamMagic)
	}
	h := Header{Rate: media.TimeBase{Num: 25, Den: 1}}
	for _, f := range fields[1:] {
		val := f[1:]
		var err error
		switch f[0] {
		case 'W':
			h.Width, err = strconv.Atoi(val)
		case 'H':
			h.Height, err = strconv.Atoi(val)
		case 'F':
			h.Rate, err = parseRatio(val)
		case 'I':
			if len(val) > 0 {
				h.Interlace = val[0]
			}
		case 'A':
			h.Aspect = val
		case 'C':
			h.Colorspace = val
		case 'X':
		default:
			err = fmt.Errorf("unknown tag %q", f)
		}
		if err != nil {
			return Header{}, media.MalformedErr("y4m header", err)
		}
	}
	if h.Width <= 0 || h.Height <= 0 {
		return Header{}, media.Malformed("y4m header", "invalid dimensions %dx%d", h.Width, h.Height)
	}
	if h.Width > MaxDimension || h.Height > MaxDimension {
		return Header{}, &media.SizeLimitError{Op: "y4m header", Size: uint64(max(h.Width, h.Height)), Limit: MaxDimension}
	}
	format, err := formatOf(h.Colorspace)
	if err != nil {
		return Header{}, err
	}
	h.Format = format
	if n := format.PackedSize(h.Width, h.Height); n > MaxFrameSize {
		return Header{}, &media.SizeLimitError{Op: "y4m frame size", Size: n, Limit: MaxFrameSize}
	}
	return h, nil
}

func parseRatio(s string) (media.TimeBase, error) {
	num, den, ok := strings.Cut(s, ":")
	if !ok {
		return media.TimeBase{}, fmt.Errorf("frame rate %q", s)
	}
	n, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return media.TimeBase{}, err
	}
	d, err := strconv.ParseUint(den, 10, 32)
	if err != nil {
		return media.TimeBase{}, err
	}
	tb := media.TimeBase{Num: uint32(n), Den: uint32(d)}
	if !tb.Valid() {
		return media.TimeBase{}, fmt.Errorf("frame rate %q", s)
	}
	return tb, nil
}

// Reader yields frames from a Y4M stream. Frame n gets pts n.
type Reader struct {
	r      *bufio.Reader
	header Header
	packed []byte
	count  int64
}

func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	line, err := readLine(br)
	if err != nil {
		if err == io.EOF {
			return nil, media.Malformed("y4m header", "empty stream")
		}
		return nil, err
	}
	h, err := ParseHeader(line)
	if err != nil {
		return nil, err
	}
	return &Reader{r: br, header: h, packed: make([]byte, h.Format.FrameSize(h.Width, h.Height))}, nil
}

func (r *Reader) Header() Header { return r.header }

// Count is the number of frames read.
func (r *Reader) Count() int64 { return r.count }

// ReadFrame returns the next frame, or nil, nil at the end of the stream.
func (r *Reader) ReadFrame() (*frame.Frame, error) {
	line, err := readLine(r.r)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if tag, _, _ := strings.Cut(line, " "); tag != frameMagic {
		return nil, media.Malformed("y4m frame", "frame %d: expected %s, got %q", r.count, frameMagic, tag)
	}
	if _, err := io.ReadFull(r.r, r.packed); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, media.Malformed("y4m frame", "frame %d truncated", r.count)
		}
		return nil, media.IOError("y4m frame", err)
	}
	f, err := frame.New(r.header.Width, r.header.Height, r.header.Format)
	if err != nil {
		return nil, err
	}
	if err := f.CopyFrom(r.packed); err != nil {
		return nil, err
	}
	if err := f.SetPTS(r.count); err != nil {
		return nil, err
	}
	r.count++
	return f, nil
}

// readLine returns io.EOF only if nothing was read.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLine {
			return "", media.Malformed("y4m", "line longer than %d bytes", maxLine)
		}
		switch {
		case err == nil:
			return string(bytes.TrimSuffix(line, []byte{'\n'})), nil
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && len(line) == 0:
			return "", io.EOF
		case err == io.EOF:
			return "", media.Malformed("y4m", "unterminated line")
		default:
			return "", media.IOError("y4m", err)
		}
	}
}

// Writer writes frames to a Y4M stream.
type Writer struct {
	w      *bufio.Writer
	header Header
	buf    []byte
	count  int64
}

// NewWriter writes the stream header. Only YUV formats are accepted.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	if colorspaceOf(h.Format) == "" {
		return nil, media.Unsupported("y4m writer", h.Format.String())
	}
	if h.Width <= 0 || h.Height <= 0 {
		return nil, media.Unsupported("y4m writer", fmt.Sprintf("dimensions %dx%d", h.Width, h.Height))
	}
	if !h.Rate.Valid() {
		h.Rate = media.TimeBase{Num: 25, Den: 1}
	}
	h.Colorspace = ""
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(h.String() + "\n"); err != nil {
		return nil, media.IOError("y4m header", err)
	}
	return &Writer{w: bw, header: h}, nil
}

func (w *Writer) Header() Header { return w.header }

func (w *Writer) Count() int64 { return w.count }

// WriteFrame writes one frame. Its size and format must match the header.
func (w *Writer) WriteFrame(f *frame.Frame) error {
	if f.Width() != w.header.Width || f.Height() != w.header.Height || f.Format() != w.header.Format {
		return media.Unsupported("y4m frame", fmt.Sprintf("frame %dx%d %v does not match stream %dx%d %v",
			f.Width(), f.Height(), f.Format(), w.header.Width, w.header.Height, w.header.Format))
	}
	w.buf = append(w.buf[:0], frameMagic+"\n"...)
	w.buf = f.AppendPacked(w.buf)
	if _, err := w.w.Write(w.buf); err != nil {
		return media.IOError("y4m frame", err)
	}
	w.count++
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return media.IOError("y4m flush", err)
	}
	return nil
}
