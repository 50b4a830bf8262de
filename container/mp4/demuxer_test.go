package mp4

import (
	"bytes"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattetti/mead/internal/mp4test"
	"github.com/mattetti/mead/media"
	"github.com/mattetti/mead/source"
)

func payload(n int, seed byte) []byte {
	return bytes.Repeat([]byte{seed}, n)
}

func videoTrack(id uint32, sizes ...int) mp4test.Track {
	tr := mp4test.Track{ID: id, Handler: "vide", Entry: "av01", Timescale: 30000, Width: 320, Height: 240}
	for i, n := range sizes {
		tr.Samples = append(tr.Samples, mp4test.Sample{Data: payload(n, byte(i+1)), Delta: 1000, Keyframe: i%5 == 0})
	}
	return tr
}

func openFixture(t *testing.T, f mp4test.File, opts ...Option) (*Demuxer, error) {
	t.Helper()
	src, err := source.Open(mp4test.WriteFile(t, f))
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return Open(src, opts...)
}

func TestReadPackets(t *testing.T) {
	sizes := []int{100, 100, 50, 100, 100, 70, 100, 30, 100, 100}
	tr := videoTrack(1, sizes...)
	tr.SamplesPerChunk = 3
	d, err := openFixture(t, mp4test.File{Tracks: []mp4test.Track{tr}})
	require.NoError(t, err)
	assert.Equal(t, StateHeaderParsed, d.State())

	tracks := d.Tracks()
	require.Len(t, tracks, 1)
	got := tracks[0]
	assert.EqualValues(t, 1, got.ID)
	assert.Equal(t, media.CodecAV1, got.Codec)
	assert.Equal(t, media.KindVideo, got.Kind)
	assert.Equal(t, "av01", got.FourCC)
	assert.Equal(t, media.TimeBase{Num: 1, Den: 30000}, got.TimeBase)
	assert.EqualValues(t, 10, got.SampleCount)
	assert.EqualValues(t, 320, got.Width)
	assert.EqualValues(t, 240, got.Height)
	assert.EqualValues(t, 10000, got.Duration)

	_, err = d.ReadPacket()
	assert.ErrorIs(t, err, media.ErrNoTrackSelected)

	require.NoError(t, d.SelectTrack(1))
	length := d.Info().Size
	for _, s := range d.Samples() {
		assert.LessOrEqual(t, s.Offset+uint64(s.Size), length)
	}

	for i, n := range sizes {
		p, err := d.ReadPacket()
		require.NoError(t, err, "sample %d", i)
		require.NotNil(t, p)
		assert.Equal(t, StateReading, d.State())
		assert.Equal(t, payload(n, byte(i+1)), p.Payload, "sample %d", i)
		assert.EqualValues(t, i*1000, p.DTS)
		assert.EqualValues(t, i*1000, p.PTS)
		assert.Equal(t, i%5 == 0, p.Keyframe, "sample %d", i)
	}
	for i := 0; i < 2; i++ {
		p, err := d.ReadPacket()
		assert.NoError(t, err)
		assert.Nil(t, p)
		assert.Equal(t, StateExhausted, d.State())
	}

	assert.ErrorIs(t, d.SeekToSample(-1), media.ErrUnsupported)
	require.NoError(t, d.SeekToSample(7))
	p, err := d.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, payload(30, 8), p.Payload)
}

func TestSizeLimitBeforeAllocation(t *testing.T) {
	sizes := []int{100, 100, 50, 100, 100, 100, 100, 100, 100, 100}
	tr := videoTrack(1, sizes...)
	tr.Samples[5].DeclaredSize = 4_000_000_000
	d, err := openFixture(t, mp4test.File{Tracks: []mp4test.Track{tr}}, WithMaxSampleSize(64<<20))
	require.NoError(t, err)
	require.NoError(t, d.SelectTrack(1))

	for i := 0; i < 5; i++ {
		p, err := d.ReadPacket()
		require.NoError(t, err, "sample %d", i)
		assert.Equal(t, payload(sizes[i], byte(i+1)), p.Payload)
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	p, err := d.ReadPacket()
	runtime.ReadMemStats(&after)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, media.ErrSizeLimitExceeded)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))

	// the failure is confined to that sample
	p, err = d.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, payload(100, 7), p.Payload)
}

func TestOversizedPayloadBox(t *testing.T) {
	tests := []struct {
		name string
		file mp4test.File
	}{
		{"32-bit size", mp4test.File{MdatSize: 0xFFFF0000}},
		{"64-bit size", mp4test.File{LargeMdat: true, MdatSize: 1 << 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.file.Tracks = []mp4test.Track{videoTrack(1, 10, 10)}
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := openFixture(t, tt.file)
			runtime.ReadMemStats(&after)
			assert.ErrorIs(t, err, media.ErrMalformedContainer)
			assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
		})
	}
}

func TestLargeMdatAndCo64(t *testing.T) {
	tr := videoTrack(1, 10, 20, 30)
	tr.Co64 = true
	d, err := openFixture(t, mp4test.File{LargeMdat: true, Tracks: []mp4test.Track{tr}})
	require.NoError(t, err)
	require.NoError(t, d.SelectTrack(1))
	p, err := d.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, payload(10, 1), p.Payload)
	require.Len(t, d.Info().Payloads, 1)
	assert.EqualValues(t, 60, d.Info().Payloads[0].Size)
}

func TestRejectedTrack(t *testing.T) {
	bad := videoTrack(2, 10, 10, 10)
	bad.SampleCountDelta = 5
	d, err := openFixture(t, mp4test.File{Tracks: []mp4test.Track{videoTrack(1, 10, 10), bad}})
	require.NoError(t, err)

	require.Len(t, d.Tracks(), 1)
	assert.EqualValues(t, 1, d.Tracks()[0].ID)
	rejected := d.Rejected()
	require.Len(t, rejected, 1)
	assert.Equal(t, 1, rejected[0].Index)
	assert.EqualValues(t, 2, rejected[0].ID)
	assert.ErrorIs(t, rejected[0].Err, media.ErrMalformedContainer)
	assert.ErrorIs(t, d.SelectTrack(2), media.ErrMalformedContainer)
	assert.ErrorIs(t, d.SelectTrack(9), ErrTrackNotFound)
}

func TestRejectedTracksWithoutHeader(t *testing.T) {
	noHeader := videoTrack(0, 10)
	noHeader.OmitTkhd = true
	d, err := openFixture(t, mp4test.File{Tracks: []mp4test.Track{noHeader, videoTrack(1, 10), noHeader}})
	require.NoError(t, err)
	require.Len(t, d.Tracks(), 1)

	rejected := d.Rejected()
	require.Len(t, rejected, 2)
	for i, index := range []int{0, 2} {
		assert.Equal(t, index, rejected[i].Index)
		assert.Zero(t, rejected[i].ID)
		assert.ErrorIs(t, rejected[i].Err, media.ErrMalformedContainer)
	}
	assert.ErrorIs(t, d.SelectTrack(0), ErrTrackNotFound)
}

func TestSampleBeyondSourceRejectsTrack(t *testing.T) {
	tr := videoTrack(1, 10, 10, 10)
	tr.Samples[2].DeclaredSize = 1 << 20
	_, err := openFixture(t, mp4test.File{Tracks: []mp4test.Track{tr}})
	assert.ErrorIs(t, err, media.ErrMalformedContainer)
}

func TestOversizedConstantSampleSize(t *testing.T) {
	const n = 4096
	tr := mp4test.Track{ID: 1, Handler: "vide", Entry: "av01", Timescale: 30000, ConstantSize: 0xFFFFFFF0, SamplesPerChunk: n}
	for i := 0; i < n; i++ {
		tr.Samples = append(tr.Samples, mp4test.Sample{Delta: 1000, Keyframe: true})
	}
	_, err := openFixture(t, mp4test.File{Tracks: []mp4test.Track{tr}})
	assert.ErrorIs(t, err, media.ErrMalformedContainer)
}

func TestSampleCountLimit(t *testing.T) {
	_, err := openFixture(t, mp4test.File{Tracks: []mp4test.Track{videoTrack(1, 1, 1, 1, 1)}}, WithMaxSampleCount(3))
	assert.ErrorIs(t, err, media.ErrSizeLimitExceeded)
}

func TestMetadataLimit(t *testing.T) {
	_, err := openFixture(t, mp4test.File{Tracks: []mp4test.Track{videoTrack(1, 1)}}, WithMaxMetadataSize(64))
	assert.ErrorIs(t, err, media.ErrSizeLimitExceeded)
}

func TestNonSeekableSource(t *testing.T) {
	path := mp4test.WriteFile(t, mp4test.File{Tracks: []mp4test.Track{videoTrack(1, 1)}})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = Open(source.NewPipe(bytes.NewReader(data)))
	assert.ErrorIs(t, err, media.ErrUnsupported)
}

func TestNoMoov(t *testing.T) {
	// a lone free box
	_, err := Open(source.NewBytes([]byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'}))
	assert.ErrorIs(t, err, media.ErrMalformedContainer)
}

func TestFragmented(t *testing.T) {
	tr := videoTrack(1)
	_, err := openFixture(t, mp4test.File{Fragmented: true, Tracks: []mp4test.Track{tr}})
	assert.ErrorIs(t, err, media.ErrUnsupported)
}

func TestTrackKinds(t *testing.T) {
	audio := mp4test.Track{ID: 2, Handler: "soun", Entry: "mp4a", Timescale: 48000}
	for i := 0; i < 3; i++ {
		audio.Samples = append(audio.Samples, mp4test.Sample{Data: payload(20, 9), Delta: 1024, Keyframe: true})
	}
	avc := mp4test.Track{ID: 3, Handler: "vide", Entry: "avc1", Timescale: 90000, Width: 64, Height: 64,
		Samples: []mp4test.Sample{{Data: payload(8, 1), Delta: 3000, Keyframe: true}}}
	d, err := openFixture(t, mp4test.File{Tracks: []mp4test.Track{audio, videoTrack(1, 5), avc}})
	require.NoError(t, err)

	a := d.AudioTracks()
	require.Len(t, a, 1)
	assert.Equal(t, media.CodecAAC, a[0].Codec)
	assert.EqualValues(t, 2, a[0].Channels)
	assert.EqualValues(t, 48000, a[0].SampleRate)

	v := d.VideoTracks()
	require.Len(t, v, 2)
	assert.Equal(t, media.CodecH264, v[1].Codec)
	assert.Equal(t, 4, v[1].NALLengthSize)

	sel, err := d.SelectVideoTrack()
	require.NoError(t, err)
	assert.EqualValues(t, 1, sel.ID)
	cur, ok := d.Selected()
	assert.True(t, ok)
	assert.EqualValues(t, 1, cur.ID)
}

func TestCompositionOffsets(t *testing.T) {
	tr := videoTrack(1, 4, 4, 4)
	tr.Samples[0].CompOffset = 2000
	tr.Samples[1].CompOffset = 4000
	tr.Samples[2].CompOffset = 1000
	d, err := openFixture(t, mp4test.File{Tracks: []mp4test.Track{tr}})
	require.NoError(t, err)
	require.NoError(t, d.SelectTrack(1))
	var pts []int64
	for {
		p, err := d.ReadPacket()
		require.NoError(t, err)
		if p == nil {
			break
		}
		pts = append(pts, p.PTS)
	}
	assert.Equal(t, []int64{2000, 5000, 3000}, pts)
}

// lyingSource reports more bytes than it holds.
type lyingSource struct {
	*source.Bytes
	extra uint64
}

func (s lyingSource) Len() (uint64, bool) {
	n, _ := s.Bytes.Len()
	return n + s.extra, true
}

func TestTruncatedSampleIsIOError(t *testing.T) {
	tr := videoTrack(1, 10, 10)
	tr.Samples[1].DeclaredSize = 1 << 19
	path := mp4test.WriteFile(t, mp4test.File{Tracks: []mp4test.Track{tr}})
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	d, err := Open(lyingSource{Bytes: source.NewBytes(data), extra: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, d.SelectTrack(1))
	_, err = d.ReadPacket()
	require.NoError(t, err)
	_, err = d.ReadPacket()
	assert.ErrorIs(t, err, media.ErrIO)
}
