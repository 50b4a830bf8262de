// Package mp4test writes small synthetic MP4 files for tests.
package mp4test

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/abema/go-mp4"
)

type Sample struct {
	Data []byte
	// DeclaredSize overrides the stsz entry when non-zero. Data is still
	// written as is.
	DeclaredSize uint32
	Delta        uint32
	CompOffset   int32
	Keyframe     bool
}

type Track struct {
	ID        uint32
	Handler   string // "vide" or "soun"
	Entry     string // sample entry type, e.g. "av01", "avc1", "mp4a", "I420"
	Timescale uint32
	Width     uint16
	Height    uint16
	Samples   []Sample

	// SamplesPerChunk defaults to 1.
	SamplesPerChunk int
	Co64            bool
	// ConstantSize writes a single stsz sample size for every sample.
	ConstantSize uint32
	// OmitTkhd leaves out the track header.
	OmitTkhd bool
	// SampleCountDelta is added to the stts sample count to make the tables
	// disagree.
	SampleCountDelta int
}

type File struct {
	MajorBrand string
	Tracks     []Track
	LargeMdat  bool
	// MdatSize overrides the declared mdat box size after writing.
	MdatSize uint64
	// Trailer is appended after moov.
	Trailer []byte
	// Fragmented appends an empty moof box.
	Fragmented bool
}

// WriteFile writes f into a temp file and returns its path.
func WriteFile(t testing.TB, f File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.mp4")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if err := Write(out, f); err != nil {
		t.Fatal(err)
	}
	return path
}

// Write lays out ftyp, mdat and moov in that order.
func Write(ws io.WriteSeeker, f File) error {
	w := mp4.NewWriter(ws)
	brand := f.MajorBrand
	if brand == "" {
		brand = "isom"
	}
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeFtyp()}); err != nil {
		return err
	}
	ftyp := &mp4.Ftyp{MajorBrand: fourCC(brand)}
	ftyp.AddCompatibleBrand(fourCC("isom"))
	ftyp.AddCompatibleBrand(fourCC("av01"))
	if _, err := mp4.Marshal(w, ftyp, mp4.Context{}); err != nil {
		return err
	}
	if _, err := w.EndBox(); err != nil {
		return err
	}

	mdatStart := &mp4.BoxInfo{Type: mp4.BoxTypeMdat()}
	if f.LargeMdat {
		mdatStart.HeaderSize = mp4.LargeHeaderSize
	}
	mdat, err := w.StartBox(mdatStart)
	if err != nil {
		return err
	}
	chunkOffsets := make([][]uint64, len(f.Tracks))
	for ti, tr := range f.Tracks {
		per := samplesPerChunk(tr)
		for i, s := range tr.Samples {
			if i%per == 0 {
				off, err := w.Seek(0, io.SeekCurrent)
				if err != nil {
					return err
				}
				chunkOffsets[ti] = append(chunkOffsets[ti], uint64(off))
			}
			if _, err := w.Write(s.Data); err != nil {
				return err
			}
		}
	}
	if _, err := w.EndBox(); err != nil {
		return err
	}

	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeMoov()}); err != nil {
		return err
	}
	if err := writeBox(w, &mp4.Mvhd{Timescale: 1000, NextTrackID: uint32(len(f.Tracks) + 1), Rate: 0x00010000}); err != nil {
		return err
	}
	for ti, tr := range f.Tracks {
		if err := writeTrak(w, tr, chunkOffsets[ti]); err != nil {
			return err
		}
	}
	if _, err := w.EndBox(); err != nil {
		return err
	}

	if f.Fragmented {
		if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeMoof()}); err != nil {
			return err
		}
		if _, err := w.EndBox(); err != nil {
			return err
		}
	}
	if len(f.Trailer) > 0 {
		if _, err := w.Write(f.Trailer); err != nil {
			return err
		}
	}

	if f.MdatSize != 0 {
		end, err := ws.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		var hdr []byte
		if mdat.HeaderSize == mp4.LargeHeaderSize {
			hdr = binary.BigEndian.AppendUint32(hdr, 1)
			hdr = append(hdr, "mdat"...)
			hdr = binary.BigEndian.AppendUint64(hdr, f.MdatSize)
		} else {
			hdr = binary.BigEndian.AppendUint32(hdr, uint32(f.MdatSize))
		}
		if _, err := ws.Seek(int64(mdat.Offset), io.SeekStart); err != nil {
			return err
		}
		if _, err := ws.Write(hdr); err != nil {
			return err
		}
		if _, err := ws.Seek(end, io.SeekStart); err != nil {
			return err
		}
	}
	return nil
}

func samplesPerChunk(tr Track) int {
	if tr.SamplesPerChunk <= 0 {
		return 1
	}
	return tr.SamplesPerChunk
}

func writeTrak(w *mp4.Writer, tr Track, chunks []uint64) error {
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeTrak()}); err != nil {
		return err
	}
	if !tr.OmitTkhd {
		if err := writeBox(w, &mp4.Tkhd{TrackID: tr.ID, Width: uint32(tr.Width) << 16, Height: uint32(tr.Height) << 16}); err != nil {
			return err
		}
	}
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeMdia()}); err != nil {
		return err
	}
	var duration uint32
	for _, s := range tr.Samples {
		duration += s.Delta
	}
	if err := writeBox(w, &mp4.Mdhd{Timescale: tr.Timescale, DurationV0: duration, Language: [3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60}}); err != nil {
		return err
	}
	if err := writeBox(w, &mp4.Hdlr{HandlerType: fourCC(tr.Handler), Name: "mp4test"}); err != nil {
		return err
	}
	for _, typ := range []mp4.BoxType{mp4.BoxTypeMinf(), mp4.BoxTypeStbl()} {
		if _, err := w.StartBox(&mp4.BoxInfo{Type: typ}); err != nil {
			return err
		}
	}

	if err := writeStsd(w, tr); err != nil {
		return err
	}

	stts := &mp4.Stts{}
	ctts := &mp4.Ctts{}
	stss := &mp4.Stss{}
	stsz := &mp4.Stsz{SampleSize: tr.ConstantSize, SampleCount: uint32(len(tr.Samples))}
	allKey := true
	hasCTO := false
	for i, s := range tr.Samples {
		if n := len(stts.Entries); n > 0 && stts.Entries[n-1].SampleDelta == s.Delta {
			stts.Entries[n-1].SampleCount++
		} else {
			stts.Entries = append(stts.Entries, mp4.SttsEntry{SampleCount: 1, SampleDelta: s.Delta})
		}
		ctts.Entries = append(ctts.Entries, mp4.CttsEntry{SampleCount: 1, SampleOffsetV0: uint32(s.CompOffset)})
		hasCTO = hasCTO || s.CompOffset != 0
		if s.Keyframe {
			stss.SampleNumber = append(stss.SampleNumber, uint32(i+1))
		} else {
			allKey = false
		}
		if tr.ConstantSize == 0 {
			size := s.DeclaredSize
			if size == 0 {
				size = uint32(len(s.Data))
			}
			stsz.EntrySize = append(stsz.EntrySize, size)
		}
	}
	if len(stts.Entries) > 0 && tr.SampleCountDelta != 0 {
		stts.Entries[0].SampleCount = uint32(int(stts.Entries[0].SampleCount) + tr.SampleCountDelta)
	}
	stts.EntryCount = uint32(len(stts.Entries))
	if err := writeBox(w, stts); err != nil {
		return err
	}
	if hasCTO {
		ctts.EntryCount = uint32(len(ctts.Entries))
		if err := writeBox(w, ctts); err != nil {
			return err
		}
	}
	if !allKey {
		stss.EntryCount = uint32(len(stss.SampleNumber))
		if err := writeBox(w, stss); err != nil {
			return err
		}
	}
	stsc := &mp4.Stsc{EntryCount: 1, Entries: []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: uint32(samplesPerChunk(tr)), SampleDescriptionIndex: 1}}}
	if len(tr.Samples) == 0 {
		stsc.EntryCount = 0
		stsc.Entries = nil
	} else if rem := len(tr.Samples) % samplesPerChunk(tr); rem != 0 && len(chunks) == 1 {
		stsc.Entries[0].SamplesPerChunk = uint32(rem)
	} else if rem != 0 {
		stsc.EntryCount = 2
		stsc.Entries = append(stsc.Entries, mp4.StscEntry{
			FirstChunk:             uint32(len(chunks)),
			SamplesPerChunk:        uint32(rem),
			SampleDescriptionIndex: 1,
		})
	}
	if err := writeBox(w, stsc); err != nil {
		return err
	}
	if err := writeBox(w, stsz); err != nil {
		return err
	}
	if tr.Co64 {
		err := writeBox(w, &mp4.Co64{EntryCount: uint32(len(chunks)), ChunkOffset: chunks})
		if err != nil {
			return err
		}
	} else {
		offsets := make([]uint32, len(chunks))
		for i, c := range chunks {
			offsets[i] = uint32(c)
		}
		if err := writeBox(w, &mp4.Stco{EntryCount: uint32(len(offsets)), ChunkOffset: offsets}); err != nil {
			return err
		}
	}

	// stbl, minf, mdia, trak
	for i := 0; i < 4; i++ {
		if _, err := w.EndBox(); err != nil {
			return err
		}
	}
	return nil
}

func writeStsd(w *mp4.Writer, tr Track) error {
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeStsd()}); err != nil {
		return err
	}
	if _, err := mp4.Marshal(w, &mp4.Stsd{EntryCount: 1}, mp4.Context{}); err != nil {
		return err
	}
	entryType := mp4.StrToBoxType(tr.Entry)
	if _, err := w.StartBox(&mp4.BoxInfo{Type: entryType}); err != nil {
		return err
	}
	// go-mp4 only marshals registered types; the payload layout of an
	// unregistered entry such as I420 is the generic one
	payloadType := entryType
	if !entryType.IsSupported(mp4.Context{}) {
		payloadType = mp4.BoxTypeAvc1()
		if tr.Handler == "soun" {
			payloadType = mp4.BoxTypeMp4a()
		}
	}
	entry := mp4.SampleEntry{AnyTypeBox: mp4.AnyTypeBox{Type: payloadType}, DataReferenceIndex: 1}
	if tr.Handler == "soun" {
		ase := &mp4.AudioSampleEntry{SampleEntry: entry, ChannelCount: 2, SampleSize: 16, SampleRate: tr.Timescale << 16}
		if _, err := mp4.Marshal(w, ase, mp4.Context{}); err != nil {
			return err
		}
	} else {
		vse := &mp4.VisualSampleEntry{
			SampleEntry:     entry,
			Width:           tr.Width,
			Height:          tr.Height,
			Horizresolution: 72 << 16,
			Vertresolution:  72 << 16,
			FrameCount:      1,
			Depth:           0x0018,
			PreDefined3:     -1,
		}
		if _, err := mp4.Marshal(w, vse, mp4.Context{}); err != nil {
			return err
		}
		switch tr.Entry {
		case "av01":
			err := writeBox(w, &mp4.Av1C{Marker: 1, Version: 1, ChromaSubsamplingX: 1, ChromaSubsamplingY: 1})
			if err != nil {
				return err
			}
		case "avc1":
			err := writeBox(w, &mp4.AVCDecoderConfiguration{
				AnyTypeBox:           mp4.AnyTypeBox{Type: mp4.BoxTypeAvcC()},
				ConfigurationVersion: 1,
				Profile:              66,
				Level:                30,
				Reserved:             63,
				LengthSizeMinusOne:   3,
				Reserved2:            7,
			})
			if err != nil {
				return err
			}
		}
	}
	if _, err := w.EndBox(); err != nil {
		return err
	}
	_, err := w.EndBox()
	return err
}

func writeBox(w *mp4.Writer, box mp4.IImmutableBox) error {
	if _, err := w.StartBox(&mp4.BoxInfo{Type: box.GetType()}); err != nil {
		return err
	}
	if _, err := mp4.Marshal(w, box, mp4.Context{}); err != nil {
		return err
	}
	_, err := w.EndBox()
	return err
}

func fourCC(s string) [4]byte {
	var b [4]byte
	copy(b[:], s)
	return b
}
