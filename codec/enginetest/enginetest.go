// Package enginetest provides encoder engines with predictable buffering for
// exercising codec sessions and pipelines.
package enginetest

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/mattetti/mead/codec"
	"github.com/mattetti/mead/frame"
	"github.com/mattetti/mead/media"
)

var (
	ErrInjected = errors.New("enginetest: injected failure")

	testInfo = codec.StreamInfo{Codec: media.CodecAV1, FourCC: [4]byte{'A', 'V', '0', '1'}}
)

// PTSPayload is the payload every engine here emits for a frame: its pts as
// eight little-endian bytes.
func PTSPayload(pts int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(pts))
}

// Identity emits one unit per frame as soon as the frame is pushed and never
// refuses input.
type Identity struct {
	out    []*codec.EncodedUnit
	eos    bool
	Closed bool
}

func (e *Identity) Info() codec.StreamInfo { return testInfo }

func (e *Identity) Push(f *frame.Frame) error {
	if e.eos {
		return &media.Error{Kind: media.ErrAlreadyFinished, Op: "identity push"}
	}
	if f == nil {
		e.eos = true
		return nil
	}
	pts := f.PTS()
	f.Release()
	e.out = append(e.out, &codec.EncodedUnit{Payload: PTSPayload(pts), PTS: pts, DTS: pts, Keyframe: true})
	return nil
}

func (e *Identity) Pull() (*codec.EncodedUnit, error) {
	if len(e.out) == 0 {
		return nil, nil
	}
	u := e.out[0]
	e.out = e.out[1:]
	return u, nil
}

func (e *Identity) Drained() bool { return e.eos && len(e.out) == 0 }

func (e *Identity) Close() error {
	e.Closed = true
	return nil
}

// Reorder holds frames in groups of Group and emits each full group last
// frame first, the way a B-frame encoder moves the anchor ahead of the frames
// that reference it. A partial group is emitted at the end of the stream. It
// refuses input while a group is waiting to be pulled.
type Reorder struct {
	Group int

	held []*frame.Frame
	out  []*codec.EncodedUnit
	dts  int64
	eos  bool
}

func (e *Reorder) Info() codec.StreamInfo { return testInfo }

func (e *Reorder) Push(f *frame.Frame) error {
	switch {
	case e.eos:
		return &media.Error{Kind: media.ErrAlreadyFinished, Op: "reorder push"}
	case f == nil:
		e.eos = true
		e.flush()
		return nil
	case len(e.out) > 0:
		return codec.ErrAgain
	}
	e.held = append(e.held, f)
	if len(e.held) >= e.Group {
		e.flush()
	}
	return nil
}

func (e *Reorder) flush() {
	for i := len(e.held) - 1; i >= 0; i-- {
		pts := e.held[i].PTS()
		e.held[i].Release()
		e.out = append(e.out, &codec.EncodedUnit{Payload: PTSPayload(pts), PTS: pts, DTS: e.dts, Keyframe: i == len(e.held)-1})
		e.dts++
	}
	e.held = e.held[:0]
}

func (e *Reorder) Pull() (*codec.EncodedUnit, error) {
	if len(e.out) == 0 {
		return nil, nil
	}
	u := e.out[0]
	e.out = e.out[1:]
	return u, nil
}

func (e *Reorder) Drained() bool { return e.eos && len(e.held) == 0 && len(e.out) == 0 }

func (e *Reorder) Close() error {
	for _, f := range e.held {
		f.Release()
	}
	e.held = nil
	return nil
}

// Failing wraps an engine and fails the push after After successful ones.
type Failing struct {
	codec.EncoderEngine
	After int

	pushed int
}

func (e *Failing) Push(f *frame.Frame) error {
	if f != nil && e.pushed >= e.After {
		return ErrInjected
	}
	if err := e.EncoderEngine.Push(f); err != nil {
		return err
	}
	if f != nil {
		e.pushed++
	}
	return nil
}

// Stuck accepts frames but never emits or drains. It is not a Waiter, so a
// session gives up on it after codec.MaxIdlePulls empty pulls.
type Stuck struct{ held []*frame.Frame }

func (e *Stuck) Info() codec.StreamInfo { return testInfo }

func (e *Stuck) Push(f *frame.Frame) error {
	if f != nil {
		e.held = append(e.held, f)
	}
	return nil
}

func (e *Stuck) Pull() (*codec.EncodedUnit, error) { return nil, nil }
func (e *Stuck) Drained() bool                     { return false }

func (e *Stuck) Close() error {
	for _, f := range e.held {
		f.Release()
	}
	return nil
}

func unit(pts int64) *codec.EncodedUnit {
	return &codec.EncodedUnit{Payload: PTSPayload(pts), PTS: pts, DTS: pts, Keyframe: true}
}

// Busy emits frames in order, but every unit only comes out after Delay
// empty pulls, as if it were still being encoded.
type Busy struct {
	Delay int

	out   []*codec.EncodedUnit
	empty int
	eos   bool
}

func (e *Busy) Info() codec.StreamInfo { return testInfo }

func (e *Busy) Push(f *frame.Frame) error {
	if e.eos {
		return &media.Error{Kind: media.ErrAlreadyFinished, Op: "busy push"}
	}
	if f == nil {
		e.eos = true
		return nil
	}
	pts := f.PTS()
	f.Release()
	e.out = append(e.out, unit(pts))
	return nil
}

func (e *Busy) Pull() (*codec.EncodedUnit, error) {
	if len(e.out) == 0 {
		return nil, nil
	}
	if e.empty < e.Delay {
		e.empty++
		return nil, nil
	}
	e.empty = 0
	u := e.out[0]
	e.out = e.out[1:]
	return u, nil
}

func (e *Busy) Drained() bool { return e.eos && len(e.out) == 0 }

func (e *Busy) Close() error { return nil }

// Background encodes on its own goroutine behind a queue of Queue frames. Push
// refuses input while the queue is full and Wait blocks until the goroutine
// has produced a unit or finished.
type Background struct {
	in     chan *frame.Frame
	signal chan struct{}
	eos    bool

	mu   sync.Mutex
	out  []*codec.EncodedUnit
	done bool
}

func NewBackground(queue int) *Background {
	e := &Background{in: make(chan *frame.Frame, queue), signal: make(chan struct{}, 1)}
	go e.run()
	return e
}

func (e *Background) run() {
	for f := range e.in {
		pts := f.PTS()
		f.Release()
		e.mu.Lock()
		e.out = append(e.out, unit(pts))
		e.mu.Unlock()
		e.notify()
	}
	e.mu.Lock()
	e.done = true
	e.mu.Unlock()
	e.notify()
}

func (e *Background) notify() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Background) Info() codec.StreamInfo { return testInfo }

func (e *Background) Push(f *frame.Frame) error {
	if e.eos {
		return &media.Error{Kind: media.ErrAlreadyFinished, Op: "background push"}
	}
	if f == nil {
		e.eos = true
		close(e.in)
		return nil
	}
	select {
	case e.in <- f:
		return nil
	default:
		return codec.ErrAgain
	}
}

func (e *Background) Pull() (*codec.EncodedUnit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.out) == 0 {
		return nil, nil
	}
	u := e.out[0]
	e.out = e.out[1:]
	return u, nil
}

func (e *Background) Drained() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done && len(e.out) == 0
}

func (e *Background) Wait() error {
	<-e.signal
	return nil
}

func (e *Background) Close() error {
	if !e.eos {
		e.eos = true
		close(e.in)
	}
	return nil
}
