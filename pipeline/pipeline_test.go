package pipeline

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattetti/mead/codec"
	"github.com/mattetti/mead/codec/enginetest"
	"github.com/mattetti/mead/codec/rawvideo"
	"github.com/mattetti/mead/container/ivf"
	"github.com/mattetti/mead/container/mp4"
	"github.com/mattetti/mead/container/y4m"
	"github.com/mattetti/mead/frame"
	"github.com/mattetti/mead/internal/mp4test"
	"github.com/mattetti/mead/media"
	"github.com/mattetti/mead/source"
)

func fixtureTrack(sizes ...int) mp4test.Track {
	tr := mp4test.Track{ID: 1, Handler: "vide", Entry: "av01", Timescale: 90000, Width: 64, Height: 48}
	for i, n := range sizes {
		tr.Samples = append(tr.Samples, mp4test.Sample{Data: bytes.Repeat([]byte{byte(i + 1)}, n), Delta: 3000, Keyframe: i == 0})
	}
	return tr
}

func readIVF(t *testing.T, path string) (ivf.Header, []*media.Packet) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	return readIVFFrom(t, f)
}

func readIVFFrom(t *testing.T, r io.Reader) (ivf.Header, []*media.Packet) {
	t.Helper()
	rd, err := ivf.NewReader(r)
	require.NoError(t, err)
	var pkts []*media.Packet
	for {
		p, err := rd.ReadPacket()
		require.NoError(t, err)
		if p == nil {
			return rd.Header(), pkts
		}
		pkts = append(pkts, p)
	}
}

func TestRemuxJob(t *testing.T) {
	sizes := []int{300, 40, 41, 42, 200, 43}
	in := mp4test.WriteFile(t, mp4test.File{Tracks: []mp4test.Track{fixtureTrack(sizes...)}})
	out := filepath.Join(t.TempDir(), "out.ivf")

	var progress []Stats
	res, err := RunJob(context.Background(), Job{
		Kind: KindRemux, Input: in, Output: out,
		Options: []Option{WithProgress(2, func(s Stats) { progress = append(progress, s) })},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.ID)
	assert.Equal(t, len(sizes), res.Stats.PacketsRead)
	assert.Equal(t, len(sizes), res.Stats.PacketsWritten)
	assert.NotEmpty(t, progress)

	h, pkts := readIVF(t, out)
	assert.EqualValues(t, len(sizes), h.FrameCount)
	assert.Equal(t, "AV01", string(h.FourCC[:]))
	assert.EqualValues(t, 64, h.Width)
	assert.EqualValues(t, 48, h.Height)
	assert.Equal(t, media.TimeBase{Num: 1, Den: 90000}, h.TimeBase)
	require.Len(t, pkts, len(sizes))
	for i, p := range pkts {
		assert.Len(t, p.Payload, sizes[i])
		assert.EqualValues(t, i*3000, p.PTS)
	}
}

func TestRemuxSkipOversized(t *testing.T) {
	tr := fixtureTrack(10, 10, 10, 10)
	tr.Samples[2].DeclaredSize = 4_000_000_000
	in := mp4test.WriteFile(t, mp4test.File{Tracks: []mp4test.Track{tr}})
	dir := t.TempDir()

	_, err := RunJob(context.Background(), Job{Kind: KindRemux, Input: in, Output: filepath.Join(dir, "a.ivf"), MaxSampleSize: 1 << 20})
	assert.ErrorIs(t, err, media.ErrSizeLimitExceeded)

	res, err := RunJob(context.Background(), Job{
		Kind: KindRemux, Input: in, Output: filepath.Join(dir, "b.ivf"), MaxSampleSize: 1 << 20,
		Options: []Option{WithSkipOversized()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Skipped)
	h, pkts := readIVF(t, filepath.Join(dir, "b.ivf"))
	assert.EqualValues(t, 3, h.FrameCount)
	assert.Len(t, pkts, 3)
}

// cancelAfter cancels the run once n packets have been written.
type cancelAfter struct {
	PacketSink
	n      int
	cancel context.CancelFunc
	wrote  int
	final  bool
}

func (s *cancelAfter) WritePacket(p *media.Packet) error {
	if err := s.PacketSink.WritePacket(p); err != nil {
		return err
	}
	s.wrote++
	if s.wrote == s.n {
		s.cancel()
	}
	return nil
}

func (s *cancelAfter) Finalize() error {
	s.final = true
	return s.PacketSink.Finalize()
}

func TestCancelLeavesValidPrefix(t *testing.T) {
	in := mp4test.WriteFile(t, mp4test.File{Tracks: []mp4test.Track{fixtureTrack(5, 6, 7, 8, 9, 10, 11)}})
	var buf bytes.Buffer
	var cl closers
	defer cl.close()
	src, err := openInput(in, &cl)
	require.NoError(t, err)
	d, err := mp4.Open(src)
	require.NoError(t, err)
	require.NoError(t, d.SelectTrack(1))

	mux, err := ivf.NewMuxer(&buf, ivf.Header{FourCC: [4]byte{'A', 'V', '0', '1'}, FrameCount: 7})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancelAfter{PacketSink: mux, n: 3, cancel: cancel}

	stats, err := Remux(ctx, d, sink)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, sink.final)
	assert.Equal(t, 3, stats.PacketsWritten)

	_, pkts := readIVFFrom(t, &buf)
	require.Len(t, pkts, 3)
	for i, p := range pkts {
		assert.Len(t, p.Payload, 5+i)
	}
}

func TestEncodeDecodeTranscodeJobs(t *testing.T) {
	dir := t.TempDir()
	encoded := filepath.Join(dir, "pattern.ivf")
	decoded := filepath.Join(dir, "pattern.y4m")
	transcoded := filepath.Join(dir, "again.ivf")
	ctx := context.Background()

	res, err := RunJob(ctx, Job{
		Kind: KindEncode, Output: encoded,
		Pattern:   &PatternSource{Width: 32, Height: 16, Format: frame.YUV420P, Frames: 6},
		Lookahead: 2, KeyframeInterval: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Stats.FramesEncoded)
	assert.Equal(t, 6, res.Stats.PacketsWritten)

	h, pkts := readIVF(t, encoded)
	assert.Equal(t, "I420", string(h.FourCC[:]))
	assert.EqualValues(t, 6, h.FrameCount)
	assert.Equal(t, media.TimeBase{Num: 1, Den: 30}, h.TimeBase)
	require.Len(t, pkts, 6)
	for i, p := range pkts {
		want, err := frame.NewPattern(32, 16, frame.YUV420P, i)
		require.NoError(t, err)
		assert.Equal(t, want.AppendPacked(nil), p.Payload, "packet %d", i)
		assert.EqualValues(t, i, p.PTS)
	}

	res, err = RunJob(ctx, Job{Kind: KindDecode, Input: encoded, Output: decoded})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Stats.FramesDecoded)

	yf, err := os.Open(decoded)
	require.NoError(t, err)
	defer yf.Close()
	yr, err := y4m.NewReader(yf)
	require.NoError(t, err)
	assert.Equal(t, media.TimeBase{Num: 30, Den: 1}, yr.Header().Rate)
	for i := 0; i < 6; i++ {
		f, err := yr.ReadFrame()
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, pkts[i].Payload, f.AppendPacked(nil))
		f.Release()
	}

	res, err = RunJob(ctx, Job{Kind: KindTranscode, Input: encoded, Output: transcoded, Lookahead: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Stats.FramesDecoded)
	_, again := readIVF(t, transcoded)
	require.Len(t, again, 6)
	for i := range again {
		assert.Equal(t, pkts[i].Payload, again[i].Payload)
	}
}

// rawTrack is an MP4 video track of n uncompressed I420 pattern frames.
func rawTrack(t *testing.T, n int) (mp4test.Track, [][]byte) {
	t.Helper()
	tr := mp4test.Track{ID: 1, Handler: "vide", Entry: "I420", Timescale: 30000, Width: 16, Height: 8}
	var frames [][]byte
	for i := 0; i < n; i++ {
		f, err := frame.NewPattern(16, 8, frame.YUV420P, i)
		require.NoError(t, err)
		frames = append(frames, f.AppendPacked(nil))
		f.Release()
		tr.Samples = append(tr.Samples, mp4test.Sample{Data: frames[i], Delta: 1000, Keyframe: true})
	}
	return tr, frames
}

func TestTranscodeFromMP4(t *testing.T) {
	tr, want := rawTrack(t, 5)
	in := mp4test.WriteFile(t, mp4test.File{Tracks: []mp4test.Track{tr}})
	ctx := context.Background()

	t.Run("pipeline", func(t *testing.T) {
		src, err := source.Open(in)
		require.NoError(t, err)
		defer src.Close()
		d, err := mp4.Open(src)
		require.NoError(t, err)
		track, err := d.SelectVideoTrack()
		require.NoError(t, err)
		assert.Equal(t, "I420", track.FourCC)

		var tag [4]byte
		copy(tag[:], track.FourCC)
		name, ok := codec.DecoderFor(tag)
		require.True(t, ok)
		dec, err := codec.NewDecoder(name, codec.DecoderParams{Width: int(track.Width), Height: int(track.Height), FourCC: tag})
		require.NoError(t, err)
		defer dec.Close()
		enc, err := codec.NewEncoder(rawvideo.Name, codec.EncoderParams{
			Width: 16, Height: 8, Format: frame.YUV420P, TimeBase: track.TimeBase, Lookahead: 2,
		})
		require.NoError(t, err)
		defer enc.Close()

		var buf bytes.Buffer
		mux, err := ivf.NewMuxer(&buf, ivf.Header{FourCC: enc.Info().FourCC, Width: 16, Height: 8, TimeBase: track.TimeBase, FrameCount: 5})
		require.NoError(t, err)
		stats, err := Transcode(ctx, d, dec, enc, mux)
		require.NoError(t, err)
		assert.Equal(t, 5, stats.PacketsRead)
		assert.Equal(t, 5, stats.FramesDecoded)
		assert.Equal(t, 5, stats.PacketsWritten)

		_, pkts := readIVFFrom(t, &buf)
		require.Len(t, pkts, 5)
		for i, p := range pkts {
			assert.Equal(t, want[i], p.Payload, "packet %d", i)
			assert.EqualValues(t, i*1000, p.PTS)
		}
	})

	t.Run("jobs", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.ivf")
		res, err := RunJob(ctx, Job{Kind: KindTranscode, Input: in, Output: out})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Stats.FramesDecoded)
		h, pkts := readIVF(t, out)
		assert.Equal(t, "I420", string(h.FourCC[:]))
		assert.Equal(t, media.TimeBase{Num: 1, Den: 30000}, h.TimeBase)
		assert.EqualValues(t, 5, h.FrameCount)
		require.Len(t, pkts, 5)
		for i, p := range pkts {
			assert.Equal(t, want[i], p.Payload, "packet %d", i)
		}

		decoded := filepath.Join(t.TempDir(), "out.y4m")
		_, err = RunJob(ctx, Job{Kind: KindDecode, Input: in, Output: decoded})
		require.NoError(t, err)
		yf, err := os.Open(decoded)
		require.NoError(t, err)
		defer yf.Close()
		yr, err := y4m.NewReader(yf)
		require.NoError(t, err)
		assert.Equal(t, media.TimeBase{Num: 30000, Den: 1000}, yr.Header().Rate)
		for i := 0; i < 5; i++ {
			f, err := yr.ReadFrame()
			require.NoError(t, err)
			require.NotNil(t, f)
			assert.Equal(t, want[i], f.AppendPacked(nil))
			f.Release()
		}
	})
}

func TestEncodeFromY4M(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.y4m")
	f, err := os.Create(in)
	require.NoError(t, err)
	w, err := y4m.NewWriter(f, y4m.Header{Width: 8, Height: 8, Rate: media.TimeBase{Num: 25, Den: 1}, Format: frame.YUV444P})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		fr, err := frame.NewPattern(8, 8, frame.YUV444P, i)
		require.NoError(t, err)
		require.NoError(t, w.WriteFrame(fr))
		fr.Release()
	}
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	out := filepath.Join(dir, "out.ivf")
	_, err = RunJob(context.Background(), Job{Kind: KindEncode, Input: in, Output: out})
	require.NoError(t, err)
	h, pkts := readIVF(t, out)
	assert.Equal(t, "I444", string(h.FourCC[:]))
	assert.Equal(t, media.TimeBase{Num: 1, Den: 25}, h.TimeBase)
	assert.Len(t, pkts, 3)
}

// memSink records packets in memory.
type memSink struct {
	pkts      []*media.Packet
	finalized int
}

func (s *memSink) WritePacket(p *media.Packet) error {
	s.pkts = append(s.pkts, p)
	return nil
}

func (s *memSink) Finalize() error {
	s.finalized++
	return nil
}

func TestEncodeKeepsEngineOrder(t *testing.T) {
	enc := codec.WrapEncoder(&enginetest.Reorder{Group: 3})
	defer enc.Close()
	sink := &memSink{}
	stats, err := Encode(context.Background(), &PatternSource{Width: 8, Height: 8, Format: frame.YUV420P, Frames: 7}, enc, sink)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.PacketsWritten)
	assert.Equal(t, 1, sink.finalized)
	var pts []int64
	for _, p := range sink.pkts {
		pts = append(pts, p.PTS)
	}
	assert.Equal(t, []int64{2, 1, 0, 5, 4, 3, 6}, pts)
}

func TestEncodeEngineFailure(t *testing.T) {
	enc := codec.WrapEncoder(&enginetest.Failing{EncoderEngine: &enginetest.Identity{}, After: 4})
	defer enc.Close()
	sink := &memSink{}
	stats, err := Encode(context.Background(), &PatternSource{Width: 8, Height: 8, Format: frame.YUV420P, Frames: 10}, enc, sink)
	assert.ErrorIs(t, err, media.ErrEngine)
	assert.Equal(t, 4, stats.PacketsWritten)
	assert.Zero(t, sink.finalized)
}

func TestRunJobs(t *testing.T) {
	dir := t.TempDir()
	var jobs []Job
	for i := 0; i < 4; i++ {
		jobs = append(jobs, Job{
			Kind:    KindEncode,
			Output:  filepath.Join(dir, uuid.NewString()+".ivf"),
			Pattern: &PatternSource{Width: 16, Height: 16, Format: frame.YUV420P, Frames: 3 + i},
		})
	}
	results, err := RunJobs(context.Background(), jobs, 2)
	require.NoError(t, err)
	require.Len(t, results, 4)
	ids := map[uuid.UUID]bool{}
	for i, res := range results {
		ids[res.ID] = true
		assert.Equal(t, 3+i, res.Stats.PacketsWritten)
		_, pkts := readIVF(t, res.Output)
		assert.Len(t, pkts, 3+i)
	}
	assert.Len(t, ids, 4)

	jobs = append(jobs, Job{Kind: KindRemux, Input: filepath.Join(dir, "missing.mp4"), Output: filepath.Join(dir, "x.ivf")})
	_, err = RunJobs(context.Background(), jobs[len(jobs)-1:], 0)
	assert.ErrorIs(t, err, media.ErrIO)
}

func TestRunJobMissingInput(t *testing.T) {
	_, err := RunJob(context.Background(), Job{Kind: KindDecode, Input: filepath.Join(t.TempDir(), "nope.ivf")})
	assert.ErrorIs(t, err, media.ErrIO)
}
