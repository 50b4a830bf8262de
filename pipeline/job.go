package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mattetti/mead/codec"
	"github.com/mattetti/mead/codec/rawvideo"
	"github.com/mattetti/mead/container/ivf"
	"github.com/mattetti/mead/container/mp4"
	"github.com/mattetti/mead/container/y4m"
	"github.com/mattetti/mead/frame"
	"github.com/mattetti/mead/media"
	"github.com/mattetti/mead/source"
)

type Kind int

const (
	KindRemux Kind = iota
	KindEncode
	KindDecode
	KindTranscode
)

func (k Kind) String() string {
	switch k {
	case KindRemux:
		return "remux"
	case KindEncode:
		return "encode"
	case KindDecode:
		return "decode"
	case KindTranscode:
		return "transcode"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Job describes one file-to-file run. Remux reads MP4; decode and transcode
// read IVF or MP4. Input "-" reads standard input, which works for IVF and Y4M
// but not MP4.
type Job struct {
	Kind   Kind
	Input  string
	Output string

	// Track selects the MP4 track to read; 0 picks the first video track.
	Track uint32
	// Pattern replaces Input for encode jobs.
	Pattern *PatternSource
	// Engine names the encoder; empty means rawvideo.
	Engine           string
	Lookahead        int
	KeyframeInterval int
	// TimeBase of generated pattern frames; 1/30 when unset.
	TimeBase media.TimeBase

	MaxSampleSize uint32
	Options       []Option
}

type Result struct {
	ID      uuid.UUID
	Kind    Kind
	Input   string
	Output  string
	Stats   Stats
	Elapsed time.Duration
}

// closers releases acquired resources in reverse order.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunJob opens the job's input and output, runs it and releases everything
// it acquired, on success or failure. A job that fails or is cancelled
// leaves a valid prefix in the output file.
func RunJob(ctx context.Context, job Job) (res Result, err error) {
	res = Result{ID: uuid.New(), Kind: job.Kind, Input: job.Input, Output: job.Output}
	start := time.Now()
	var cl closers
	defer func() {
		if cerr := cl.close(); err == nil {
			err = cerr
		}
		res.Elapsed = time.Since(start)
	}()

	switch job.Kind {
	case KindRemux:
		res.Stats, err = runRemux(ctx, job, &cl)
	case KindEncode:
		res.Stats, err = runEncode(ctx, job, &cl)
	case KindDecode:
		res.Stats, err = runDecode(ctx, job, &cl)
	case KindTranscode:
		res.Stats, err = runTranscode(ctx, job, &cl)
	default:
		err = media.Unsupported("run job", job.Kind.String())
	}
	if err != nil {
		err = fmt.Errorf("%s %s: %w", job.Kind, job.Input, err)
	}
	return res, err
}

// RunJobs runs jobs with at most limit in flight. Each job keeps its own
// single driving goroutine. The first failure cancels the jobs not yet done.
func RunJobs(ctx context.Context, jobs []Job, limit int) ([]Result, error) {
	results := make([]Result, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			res, err := RunJob(ctx, job)
			results[i] = res
			return err
		})
	}
	return results, g.Wait()
}

func openInput(path string, cl *closers) (source.MediaSource, error) {
	if path == "-" {
		return source.NewPipe(os.Stdin), nil
	}
	f, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	cl.add(f.Close)
	return f, nil
}

func createOutput(path string, cl *closers) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, media.IOError("create output", err)
	}
	cl.add(f.Close)
	return f, nil
}

func newIVF(path string, h ivf.Header, cl *closers) (*ivf.Muxer, error) {
	out, err := createOutput(path, cl)
	if err != nil {
		return nil, err
	}
	return ivf.NewMuxer(out, h, ivf.WithPatchedFrameCount())
}

func runRemux(ctx context.Context, job Job, cl *closers) (Stats, error) {
	src, err := openInput(job.Input, cl)
	if err != nil {
		return Stats{}, err
	}
	d, track, err := openTrack(src, job)
	if err != nil {
		return Stats{}, err
	}
	tag, err := ivf.FourCC(track.Codec)
	if err != nil {
		return Stats{}, err
	}
	mux, err := newIVF(job.Output, ivf.Header{
		FourCC:     tag,
		Width:      track.Width,
		Height:     track.Height,
		TimeBase:   track.TimeBase,
		FrameCount: track.SampleCount,
	}, cl)
	if err != nil {
		return Stats{}, err
	}
	return Remux(ctx, d, mux, job.Options...)
}

func (job Job) encoderParams(width, height int, format frame.PixelFormat, tb media.TimeBase) codec.EncoderParams {
	return codec.EncoderParams{
		Width:            width,
		Height:           height,
		Format:           format,
		TimeBase:         tb,
		Lookahead:        job.Lookahead,
		KeyframeInterval: job.KeyframeInterval,
	}
}

func (job Job) engine() string {
	if job.Engine == "" {
		return rawvideo.Name
	}
	return job.Engine
}

func newEncoder(job Job, p codec.EncoderParams, cl *closers) (*codec.Encoder, error) {
	enc, err := codec.NewEncoder(job.engine(), p)
	if err != nil {
		return nil, err
	}
	cl.add(enc.Close)
	return enc, nil
}

func ivfHeaderFor(enc *codec.Encoder, p codec.EncoderParams) ivf.Header {
	return ivf.Header{
		FourCC:   enc.Info().FourCC,
		Width:    uint16(p.Width),
		Height:   uint16(p.Height),
		TimeBase: p.TimeBase,
	}
}

func runEncode(ctx context.Context, job Job, cl *closers) (Stats, error) {
	var (
		frames FrameSource
		params codec.EncoderParams
	)
	if job.Pattern != nil {
		tb := job.TimeBase
		if !tb.Valid() {
			tb = media.TimeBase{Num: 1, Den: 30}
		}
		params = job.encoderParams(job.Pattern.Width, job.Pattern.Height, job.Pattern.Format, tb)
		frames = job.Pattern
	} else {
		src, err := openInput(job.Input, cl)
		if err != nil {
			return Stats{}, err
		}
		r, err := y4m.NewReader(src)
		if err != nil {
			return Stats{}, err
		}
		h := r.Header()
		params = job.encoderParams(h.Width, h.Height, h.Format, h.TimeBase())
		frames = r
	}
	enc, err := newEncoder(job, params, cl)
	if err != nil {
		return Stats{}, err
	}
	mux, err := newIVF(job.Output, ivfHeaderFor(enc, params), cl)
	if err != nil {
		return Stats{}, err
	}
	return Encode(ctx, frames, enc, mux, job.Options...)
}

// stream is a packet input and the picture geometry its decoder needs.
type stream struct {
	packets  PacketSource
	fourcc   [4]byte
	width    uint16
	height   uint16
	timeBase media.TimeBase
	// rate is frames per second, Num/Den.
	rate media.TimeBase
}

// openStream opens an IVF or MP4 input, told apart by the IVF signature, and
// starts the decoder registered for its fourcc.
func openStream(job Job, cl *closers) (*stream, *codec.Decoder, error) {
	src, err := openInput(job.Input, cl)
	if err != nil {
		return nil, nil, err
	}
	head := make([]byte, len(ivf.Signature))
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, nil, media.IOError("open input", err)
	}
	var st *stream
	if string(head[:n]) == ivf.Signature {
		st, err = ivfStream(io.MultiReader(bytes.NewReader(head[:n]), src), job)
	} else {
		if src.Seekable() {
			if _, err := src.Seek(0, io.SeekStart); err != nil {
				return nil, nil, media.IOError("open input", err)
			}
		}
		st, err = mp4Stream(src, job)
	}
	if err != nil {
		return nil, nil, err
	}
	name, ok := codec.DecoderFor(st.fourcc)
	if !ok {
		return nil, nil, media.Unsupported("decode", fmt.Sprintf("no decoder for fourcc %q", st.fourcc[:]))
	}
	dec, err := codec.NewDecoder(name, codec.DecoderParams{Width: int(st.width), Height: int(st.height), FourCC: st.fourcc})
	if err != nil {
		return nil, nil, err
	}
	cl.add(dec.Close)
	return st, dec, nil
}

func ivfStream(r io.Reader, job Job) (*stream, error) {
	rd, err := ivf.NewReader(r)
	if err != nil {
		return nil, err
	}
	if job.MaxSampleSize > 0 {
		rd.SetMaxFrameSize(job.MaxSampleSize)
	}
	h := rd.Header()
	return &stream{
		packets:  rd,
		fourcc:   h.FourCC,
		width:    h.Width,
		height:   h.Height,
		timeBase: h.TimeBase,
		rate:     media.TimeBase{Num: h.TimeBase.Den, Den: h.TimeBase.Num},
	}, nil
}

// openTrack opens an MP4 demuxer on src and selects job.Track, or the first
// video track when it is 0.
func openTrack(src source.MediaSource, job Job) (*mp4.Demuxer, media.Track, error) {
	var opts []mp4.Option
	if job.MaxSampleSize > 0 {
		opts = append(opts, mp4.WithMaxSampleSize(job.MaxSampleSize))
	}
	d, err := mp4.Open(src, opts...)
	if err != nil {
		return nil, media.Track{}, err
	}
	var track media.Track
	if job.Track == 0 {
		track, err = d.SelectVideoTrack()
	} else {
		err = d.SelectTrack(job.Track)
		track, _ = d.Selected()
	}
	return d, track, err
}

func mp4Stream(src source.MediaSource, job Job) (*stream, error) {
	d, track, err := openTrack(src, job)
	if err != nil {
		return nil, err
	}
	st := &stream{
		packets:  d,
		width:    track.Width,
		height:   track.Height,
		timeBase: track.TimeBase,
		rate:     media.TimeBase{Num: track.TimeBase.Den, Den: track.TimeBase.Num},
	}
	copy(st.fourcc[:], track.FourCC)
	if samples := d.Samples(); len(samples) > 1 && samples[1].DTS > samples[0].DTS {
		if delta := samples[1].DTS - samples[0].DTS; delta <= math.MaxUint32 {
			st.rate = media.TimeBase{Num: track.TimeBase.Den, Den: uint32(delta)}
		}
	}
	return st, nil
}

func runDecode(ctx context.Context, job Job, cl *closers) (Stats, error) {
	st, dec, err := openStream(job, cl)
	if err != nil {
		return Stats{}, err
	}
	out, err := createOutput(job.Output, cl)
	if err != nil {
		return Stats{}, err
	}
	w, err := y4m.NewWriter(out, y4m.Header{
		Width:  int(st.width),
		Height: int(st.height),
		Rate:   st.rate,
		Format: rawvideo.FormatOf(st.fourcc),
	})
	if err != nil {
		return Stats{}, err
	}
	return Decode(ctx, st.packets, dec, w, job.Options...)
}

func runTranscode(ctx context.Context, job Job, cl *closers) (Stats, error) {
	st, dec, err := openStream(job, cl)
	if err != nil {
		return Stats{}, err
	}
	params := job.encoderParams(int(st.width), int(st.height), rawvideo.FormatOf(st.fourcc), st.timeBase)
	enc, err := newEncoder(job, params, cl)
	if err != nil {
		return Stats{}, err
	}
	mux, err := newIVF(job.Output, ivfHeaderFor(enc, params), cl)
	if err != nil {
		return Stats{}, err
	}
	return Transcode(ctx, st.packets, dec, enc, mux, job.Options...)
}
