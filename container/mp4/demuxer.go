// Package mp4 demultiplexes ISO BMFF files into packets.
//
// Open walks the box headers once, recursing into moov and reading only the
// track metadata. The mdat payload is never read during Open; each track gets
// an index of sample locations and ReadPacket seeks to and reads one sample
// at a time.
package mp4

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/abema/go-mp4"
	"github.com/sunfish-shogi/bufseekio"

	"github.com/mattetti/mead/media"
	"github.com/mattetti/mead/source"
)

var ErrTrackNotFound = errors.New("mp4: track not found")

type State int

const (
	StateUnopened State = iota
	StateHeaderParsed
	StateReading
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateHeaderParsed:
		return "header parsed"
	case StateReading:
		return "reading"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Region is a byte range of the source.
type Region struct {
	Offset uint64
	Size   uint64
}

// Info is the file-level metadata.
type Info struct {
	MajorBrand       string
	CompatibleBrands []string
	Timescale        uint32
	Duration         uint64
	Size             uint64
	// Payloads lists the mdat boxes, header excluded.
	Payloads   []Region
	Fragmented bool
}

// Rejection is a trak left out of Tracks.
type Rejection struct {
	// Index is the position of the trak in moov, from 0.
	Index int
	// ID is 0 when the track header could not be read.
	ID  uint32
	Err error
}

type Demuxer struct {
	src      source.MediaSource
	r        io.ReadSeeker
	cfg      Config
	info     Info
	tracks   []*track
	rejected []Rejection
	state    State
	cur      *track
	next     int
}

// Open parses the container header of src. It fails with
// media.ErrUnsupported if src cannot seek and with media.ErrMalformedContainer
// if the box structure is broken or no track is usable. Tracks whose tables
// are inconsistent are left out of Tracks and reported by Rejected.
func Open(src source.MediaSource, opts ...Option) (*Demuxer, error) {
	if !src.Seekable() {
		return nil, media.Unsupported("mp4 open", "source is not seekable")
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	length, ok := src.Len()
	if !ok {
		end, err := src.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, media.IOError("mp4 open", err)
		}
		length = uint64(end)
	}

	d := &Demuxer{
		src: src,
		r:   bufseekio.NewReadSeeker(src, cfg.BufferSize, cfg.BufferHistory),
		cfg: cfg,
	}
	d.info.Size = length
	if err := d.parse(length); err != nil {
		return nil, err
	}
	d.state = StateHeaderParsed
	return d, nil
}

func (d *Demuxer) parse(length uint64) error {
	var (
		sawMoov  bool
		traks    int
		trackErr []error
	)
	_, err := mp4.ReadBoxStructure(d.r, func(h *mp4.ReadHandle) (interface{}, error) {
		bi := h.BoxInfo
		if len(h.Path) == 1 && (bi.Offset > length || bi.Size > length-bi.Offset) {
			return nil, media.Malformed("mp4 open", "%s box at %d declares %d bytes, source has %d", bi.Type, bi.Offset, bi.Size, length)
		}

		switch bi.Type {
		case mp4.BoxTypeFtyp():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			ftyp := box.(*mp4.Ftyp)
			d.info.MajorBrand = string(ftyp.MajorBrand[:])
			for _, cb := range ftyp.CompatibleBrands {
				d.info.CompatibleBrands = append(d.info.CompatibleBrands, string(cb.CompatibleBrand[:]))
			}
		case mp4.BoxTypeMoov():
			if bi.Size > d.cfg.MaxMetadataSize {
				return nil, &media.SizeLimitError{Op: "moov", Size: bi.Size, Limit: d.cfg.MaxMetadataSize}
			}
			sawMoov = true
			return h.Expand()
		case mp4.BoxTypeMvhd():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			mvhd := box.(*mp4.Mvhd)
			d.info.Timescale = mvhd.Timescale
			d.info.Duration = mvhd.GetDuration()
		case mp4.BoxTypeTrak():
			index := traks
			traks++
			t, err := parseTrak(d.r, &bi, length, d.cfg)
			if t != nil {
				t.index = index
			}
			if err != nil {
				rej := Rejection{Index: index, Err: err}
				if t != nil {
					rej.ID = t.ID
				}
				d.rejected = append(d.rejected, rej)
				trackErr = append(trackErr, err)
				return nil, nil
			}
			d.tracks = append(d.tracks, t)
		case mp4.BoxTypeMdat():
			d.info.Payloads = append(d.info.Payloads, Region{Offset: bi.Offset + bi.HeaderSize, Size: bi.Size - bi.HeaderSize})
		case mp4.BoxTypeMoof():
			d.info.Fragmented = true
		}
		return nil, nil
	})
	if err != nil {
		var me *media.Error
		var se *media.SizeLimitError
		if errors.As(err, &me) || errors.As(err, &se) {
			return err
		}
		return media.MalformedErr("mp4 open", err)
	}

	if !sawMoov {
		return media.Malformed("mp4 open", "no moov box")
	}
	if d.info.Fragmented {
		kept := d.tracks[:0]
		for _, t := range d.tracks {
			if t.SampleCount != 0 {
				kept = append(kept, t)
				continue
			}
			err := media.Unsupported("mp4 open", fmt.Sprintf("track %d: samples in movie fragments", t.ID))
			d.rejected = append(d.rejected, Rejection{Index: t.index, ID: t.ID, Err: err})
			trackErr = append(trackErr, err)
		}
		d.tracks = kept
	}
	if len(d.tracks) == 0 {
		if len(trackErr) > 0 {
			return errors.Join(trackErr...)
		}
		return media.Malformed("mp4 open", "no tracks")
	}
	return nil
}

func (d *Demuxer) State() State { return d.state }

func (d *Demuxer) Info() Info { return d.info }

// Tracks returns the usable tracks in file order.
func (d *Demuxer) Tracks() []media.Track {
	out := make([]media.Track, len(d.tracks))
	for i, t := range d.tracks {
		out[i] = t.Track
	}
	return out
}

func (d *Demuxer) VideoTracks() []media.Track { return d.tracksOfKind(media.KindVideo) }

func (d *Demuxer) AudioTracks() []media.Track { return d.tracksOfKind(media.KindAudio) }

func (d *Demuxer) tracksOfKind(k media.TrackKind) []media.Track {
	var out []media.Track
	for _, t := range d.tracks {
		if t.Kind == k {
			out = append(out, t.Track)
		}
	}
	return out
}

// Rejected lists every trak left out of Tracks in file order.
func (d *Demuxer) Rejected() []Rejection {
	out := make([]Rejection, len(d.rejected))
	copy(out, d.rejected)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// SelectTrack makes id the track ReadPacket reads from and rewinds it.
func (d *Demuxer) SelectTrack(id uint32) error {
	if d.state == StateUnopened {
		return media.Unsupported("select track", "demuxer not opened")
	}
	for _, r := range d.rejected {
		if r.ID == id && id != 0 {
			return r.Err
		}
	}
	for _, t := range d.tracks {
		if t.ID == id {
			d.cur = t
			d.next = 0
			d.state = StateHeaderParsed
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrTrackNotFound, id)
}

// SelectVideoTrack selects the first video track.
func (d *Demuxer) SelectVideoTrack() (media.Track, error) {
	v := d.VideoTracks()
	if len(v) == 0 {
		return media.Track{}, fmt.Errorf("%w: no video track", ErrTrackNotFound)
	}
	return v[0], d.SelectTrack(v[0].ID)
}

// Selected returns the selected track.
func (d *Demuxer) Selected() (media.Track, bool) {
	if d.cur == nil {
		return media.Track{}, false
	}
	return d.cur.Track, true
}

// Samples returns the sample index of the selected track.
func (d *Demuxer) Samples() []Sample {
	if d.cur == nil {
		return nil
	}
	return d.cur.samples
}

// SeekToSample moves the read cursor of the selected track to sample i.
func (d *Demuxer) SeekToSample(i int) error {
	if d.cur == nil {
		return &media.Error{Kind: media.ErrNoTrackSelected, Op: "seek to sample"}
	}
	if i < 0 || i > len(d.cur.samples) {
		return media.Unsupported("seek to sample", fmt.Sprintf("sample %d out of range [0, %d]", i, len(d.cur.samples)))
	}
	d.next = i
	d.state = StateReading
	return nil
}

// ReadPacket reads the next sample of the selected track. It returns nil, nil
// once every declared sample has been read. A sample whose declared size is
// over the configured ceiling fails with media.ErrSizeLimitExceeded before
// anything is allocated, and the cursor moves past it.
func (d *Demuxer) ReadPacket() (*media.Packet, error) {
	switch {
	case d.state == StateUnopened:
		return nil, media.Unsupported("read packet", "demuxer not opened")
	case d.cur == nil:
		return nil, &media.Error{Kind: media.ErrNoTrackSelected, Op: "read packet"}
	case d.next >= len(d.cur.samples):
		d.state = StateExhausted
		return nil, nil
	}
	d.state = StateReading
	i := d.next
	s := d.cur.samples[i]
	op := fmt.Sprintf("track %d sample %d", d.cur.ID, i)
	if s.Size > d.cfg.MaxSampleSize {
		d.next++
		return nil, &media.SizeLimitError{Op: op, Size: uint64(s.Size), Limit: uint64(d.cfg.MaxSampleSize)}
	}
	if _, err := d.r.Seek(int64(s.Offset), io.SeekStart); err != nil {
		return nil, media.IOError(op, err)
	}
	payload := make([]byte, s.Size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, media.IOError(op, err)
	}
	d.next++
	return &media.Packet{
		TrackID:  d.cur.ID,
		PTS:      s.PTS(),
		DTS:      int64(s.DTS),
		Payload:  payload,
		Keyframe: s.Keyframe,
	}, nil
}

// Close releases the source if it is an io.Closer.
func (d *Demuxer) Close() error {
	d.cur = nil
	d.tracks = nil
	if c, ok := d.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
