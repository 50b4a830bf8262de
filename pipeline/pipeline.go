// Package pipeline wires demuxers, codec sessions and muxers together.
//
// Every loop here is synchronous and runs on the caller's goroutine. Output is
// drained from a codec session before more input is sent, and packets are
// written in the order the session returns them. The context is checked once
// per iteration; on cancellation the loop returns ctx.Err() without
// finalizing, leaving whatever the sink already holds as complete records.
package pipeline

import (
	"context"
	"errors"

	"github.com/mattetti/mead/codec"
	"github.com/mattetti/mead/frame"
	"github.com/mattetti/mead/media"
)

// PacketSource yields packets until it returns nil, nil.
type PacketSource interface {
	ReadPacket() (*media.Packet, error)
}

// PacketSink receives packets in final output order.
type PacketSink interface {
	WritePacket(p *media.Packet) error
	Finalize() error
}

// FrameSource yields frames until it returns nil, nil. The caller owns each
// returned handle.
type FrameSource interface {
	ReadFrame() (*frame.Frame, error)
}

// FrameSink receives frames for reading only; the pipeline releases each
// frame after WriteFrame returns.
type FrameSink interface {
	WriteFrame(f *frame.Frame) error
	Flush() error
}

// Stats counts what went through a run.
type Stats struct {
	PacketsRead    int
	PacketsWritten int
	BytesWritten   int64
	FramesDecoded  int
	FramesEncoded  int
	Skipped        int
}

type options struct {
	skipOversized bool
	every         int
	progress      func(Stats)
}

type Option func(*options)

// WithSkipOversized makes a run drop packets that fail with
// media.ErrSizeLimitExceeded instead of stopping.
func WithSkipOversized() Option {
	return func(o *options) { o.skipOversized = true }
}

// WithProgress calls fn with the running totals every n written packets or
// frames, and once at the end of a successful run.
func WithProgress(n int, fn func(Stats)) Option {
	return func(o *options) {
		o.every = n
		o.progress = fn
	}
}

// run is the state of one pipeline call.
type run struct {
	ctx   context.Context
	opts  options
	stats Stats
}

func newRun(ctx context.Context, opts []Option) *run {
	r := &run{ctx: ctx}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

func (r *run) tick(n int) {
	if r.opts.progress != nil && r.opts.every > 0 && n%r.opts.every == 0 {
		r.opts.progress(r.stats)
	}
}

func (r *run) done() {
	if r.opts.progress != nil {
		r.opts.progress(r.stats)
	}
}

// read pulls the next packet, skipping oversized ones when configured.
func (r *run) read(src PacketSource) (*media.Packet, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}
		p, err := src.ReadPacket()
		if err != nil {
			if r.opts.skipOversized && errors.Is(err, media.ErrSizeLimitExceeded) {
				r.stats.Skipped++
				continue
			}
			return nil, err
		}
		if p != nil {
			r.stats.PacketsRead++
		}
		return p, nil
	}
}

func (r *run) write(dst PacketSink, p *media.Packet) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if err := dst.WritePacket(p); err != nil {
		return err
	}
	r.stats.PacketsWritten++
	r.stats.BytesWritten += int64(len(p.Payload))
	r.tick(r.stats.PacketsWritten)
	return nil
}

// encode sends f and writes whatever the encoder has ready.
func (r *run) encode(enc *codec.Encoder, f *frame.Frame, dst PacketSink) error {
	if err := enc.SendFrame(f); err != nil {
		if errors.Is(err, media.ErrAlreadyFinished) {
			f.Release()
		}
		return err
	}
	r.stats.FramesEncoded++
	return r.drainEncoder(enc, dst)
}

func (r *run) drainEncoder(enc *codec.Encoder, dst PacketSink) error {
	for {
		p, err := enc.ReceivePacket()
		if err != nil {
			return err
		}
		if p == nil {
			return nil
		}
		if err := r.write(dst, p); err != nil {
			return err
		}
	}
}

func (r *run) finishEncoder(enc *codec.Encoder, dst PacketSink) error {
	pkts, err := enc.Finish()
	for _, p := range pkts {
		if werr := r.write(dst, p); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	return dst.Finalize()
}

// Remux copies packets from src to dst without touching their payload.
func Remux(ctx context.Context, src PacketSource, dst PacketSink, opts ...Option) (Stats, error) {
	r := newRun(ctx, opts)
	for {
		p, err := r.read(src)
		if err != nil {
			return r.stats, err
		}
		if p == nil {
			break
		}
		if err := r.write(dst, p); err != nil {
			return r.stats, err
		}
	}
	if err := dst.Finalize(); err != nil {
		return r.stats, err
	}
	r.done()
	return r.stats, nil
}

// Encode feeds every frame of src to enc and writes the packets to dst. The
// caller keeps ownership of enc and closes it.
func Encode(ctx context.Context, src FrameSource, enc *codec.Encoder, dst PacketSink, opts ...Option) (Stats, error) {
	r := newRun(ctx, opts)
	for {
		if err := ctx.Err(); err != nil {
			return r.stats, err
		}
		f, err := src.ReadFrame()
		if err != nil {
			return r.stats, err
		}
		if f == nil {
			break
		}
		if err := r.encode(enc, f, dst); err != nil {
			return r.stats, err
		}
	}
	if err := r.finishEncoder(enc, dst); err != nil {
		return r.stats, err
	}
	r.done()
	return r.stats, nil
}

// Decode feeds every packet of src to dec and writes the frames to dst.
func Decode(ctx context.Context, src PacketSource, dec *codec.Decoder, dst FrameSink, opts ...Option) (Stats, error) {
	r := newRun(ctx, opts)
	emit := func(f *frame.Frame) error {
		defer f.Release()
		if err := ctx.Err(); err != nil {
			return err
		}
		r.stats.FramesDecoded++
		if err := dst.WriteFrame(f); err != nil {
			return err
		}
		r.tick(r.stats.FramesDecoded)
		return nil
	}
	for {
		p, err := r.read(src)
		if err != nil {
			return r.stats, err
		}
		if p == nil {
			break
		}
		if err := dec.SendPacket(p); err != nil {
			return r.stats, err
		}
		if err := drainDecoder(dec, emit); err != nil {
			return r.stats, err
		}
	}
	frames, err := dec.Finish()
	if err := emitAll(frames, emit, err); err != nil {
		return r.stats, err
	}
	if err := dst.Flush(); err != nil {
		return r.stats, err
	}
	r.done()
	return r.stats, nil
}

// Transcode decodes src with dec, re-encodes with enc and writes to dst.
func Transcode(ctx context.Context, src PacketSource, dec *codec.Decoder, enc *codec.Encoder, dst PacketSink, opts ...Option) (Stats, error) {
	r := newRun(ctx, opts)
	emit := func(f *frame.Frame) error {
		if err := ctx.Err(); err != nil {
			f.Release()
			return err
		}
		r.stats.FramesDecoded++
		return r.encode(enc, f, dst)
	}
	for {
		p, err := r.read(src)
		if err != nil {
			return r.stats, err
		}
		if p == nil {
			break
		}
		if err := dec.SendPacket(p); err != nil {
			return r.stats, err
		}
		if err := drainDecoder(dec, emit); err != nil {
			return r.stats, err
		}
	}
	frames, err := dec.Finish()
	if err := emitAll(frames, emit, err); err != nil {
		return r.stats, err
	}
	if err := r.finishEncoder(enc, dst); err != nil {
		return r.stats, err
	}
	r.done()
	return r.stats, nil
}

func drainDecoder(dec *codec.Decoder, emit func(*frame.Frame) error) error {
	for {
		f, err := dec.ReceiveFrame()
		if err != nil {
			return err
		}
		if f == nil {
			return nil
		}
		if err := emit(f); err != nil {
			return err
		}
	}
}

// emitAll hands every frame to emit and releases the rest after a failure.
// finishErr is returned once every frame was emitted.
func emitAll(frames []*frame.Frame, emit func(*frame.Frame) error, finishErr error) error {
	for i, f := range frames {
		if err := emit(f); err != nil {
			for _, rest := range frames[i+1:] {
				rest.Release()
			}
			return err
		}
	}
	return finishErr
}

// PatternSource generates Frames test-pattern frames.
type PatternSource struct {
	Width  int
	Height int
	Format frame.PixelFormat
	Frames int

	n int
}

func (s *PatternSource) ReadFrame() (*frame.Frame, error) {
	if s.n >= s.Frames {
		return nil, nil
	}
	f, err := frame.NewPattern(s.Width, s.Height, s.Format, s.n)
	if err != nil {
		return nil, err
	}
	s.n++
	return f, nil
}
