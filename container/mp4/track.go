package mp4

import (
	"fmt"
	"io"

	"github.com/abema/go-mp4"

	"github.com/mattetti/mead/media"
)

// Sample is the location of one sample in the source. It is built from the
// sample tables without touching the payload.
type Sample struct {
	Offset     uint64
	Size       uint32
	DTS        uint64
	CompOffset int64
	Keyframe   bool
}

// PTS is the presentation time in track ticks, edit lists not applied.
func (s Sample) PTS() int64 { return int64(s.DTS) + s.CompOffset }

type track struct {
	media.Track
	index   int // position in moov
	samples []Sample
}

// sampleTables holds the stbl boxes of one trak.
type sampleTables struct {
	stts *mp4.Stts
	ctts *mp4.Ctts
	stsc *mp4.Stsc
	stsz *mp4.Stsz
	stco *mp4.Stco
	co64 *mp4.Co64
	stss *mp4.Stss
}

var sampleEntryCodecs = map[mp4.BoxType]media.Codec{
	mp4.BoxTypeAv01(): media.CodecAV1,
	mp4.BoxTypeAvc1(): media.CodecH264,
	mp4.BoxTypeHev1(): media.CodecH265,
	mp4.BoxTypeHvc1(): media.CodecH265,
	mp4.BoxTypeVp08(): media.CodecVP8,
	mp4.BoxTypeVp09(): media.CodecVP9,
	mp4.BoxTypeMp4a(): media.CodecAAC,
	mp4.BoxTypeOpus(): media.CodecOpus,
}

func stblPath(types ...mp4.BoxType) mp4.BoxPath {
	return append(mp4.BoxPath{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl()}, types...)
}

// parseTrak reads the metadata of one trak box and rebuilds its sample index.
// length is the source length. On failure the returned track, if not nil,
// carries whatever was parsed before the error.
func parseTrak(r io.ReadSeeker, bi *mp4.BoxInfo, length uint64, cfg Config) (*track, error) {
	entries, err := mp4.ExtractBoxes(r, bi, []mp4.BoxPath{stblPath(mp4.BoxTypeStsd(), mp4.BoxTypeAny())})
	if err != nil {
		return nil, media.MalformedErr("trak", err)
	}

	paths := []mp4.BoxPath{
		{mp4.BoxTypeTkhd()},
		{mp4.BoxTypeMdia(), mp4.BoxTypeMdhd()},
		{mp4.BoxTypeMdia(), mp4.BoxTypeHdlr()},
		stblPath(mp4.BoxTypeStts()),
		stblPath(mp4.BoxTypeCtts()),
		stblPath(mp4.BoxTypeStsc()),
		stblPath(mp4.BoxTypeStsz()),
		stblPath(mp4.BoxTypeStco()),
		stblPath(mp4.BoxTypeCo64()),
		stblPath(mp4.BoxTypeStss()),
	}
	if len(entries) > 0 {
		if _, known := sampleEntryCodecs[entries[0].Type]; known {
			paths = append(paths,
				stblPath(mp4.BoxTypeStsd(), entries[0].Type),
				stblPath(mp4.BoxTypeStsd(), mp4.BoxTypeAvc1(), mp4.BoxTypeAvcC()),
			)
		}
	}
	bips, err := mp4.ExtractBoxesWithPayload(r, bi, paths)
	if err != nil {
		return nil, media.MalformedErr("trak", err)
	}

	t := &track{}
	var (
		tkhd *mp4.Tkhd
		mdhd *mp4.Mdhd
		st   sampleTables
	)
	for _, bip := range bips {
		switch p := bip.Payload.(type) {
		case *mp4.Tkhd:
			tkhd = p
		case *mp4.Mdhd:
			mdhd = p
		case *mp4.Hdlr:
			switch string(p.HandlerType[:]) {
			case "vide":
				t.Kind = media.KindVideo
			case "soun":
				t.Kind = media.KindAudio
			}
		case *mp4.VisualSampleEntry:
			t.Width, t.Height = p.Width, p.Height
		case *mp4.AudioSampleEntry:
			t.Channels = p.ChannelCount
			t.SampleRate = p.SampleRate >> 16
		case *mp4.AVCDecoderConfiguration:
			t.NALLengthSize = int(p.LengthSizeMinusOne) + 1
		case *mp4.Stts:
			st.stts = p
		case *mp4.Ctts:
			st.ctts = p
		case *mp4.Stsc:
			st.stsc = p
		case *mp4.Stsz:
			st.stsz = p
		case *mp4.Stco:
			st.stco = p
		case *mp4.Co64:
			st.co64 = p
		case *mp4.Stss:
			st.stss = p
		}
	}

	if tkhd == nil {
		return nil, media.Malformed("trak", "missing tkhd")
	}
	t.ID = tkhd.TrackID
	if mdhd == nil {
		return t, media.Malformed("trak", "track %d: missing mdhd", t.ID)
	}
	if mdhd.Timescale == 0 {
		return t, media.Malformed("trak", "track %d: zero timescale", t.ID)
	}
	t.TimeBase = media.TimeBase{Num: 1, Den: mdhd.Timescale}
	t.Duration = mdhd.GetDuration()
	if t.Width == 0 && t.Height == 0 {
		t.Width, t.Height = tkhd.GetWidthInt(), tkhd.GetHeightInt()
	}
	if len(entries) > 0 {
		t.FourCC = entries[0].Type.String()
		t.Codec = sampleEntryCodecs[entries[0].Type]
	}

	t.samples, err = buildSamples(&st, length, cfg)
	if err != nil {
		return t, fmt.Errorf("track %d: %w", t.ID, err)
	}
	t.SampleCount = uint32(len(t.samples))
	return t, nil
}
