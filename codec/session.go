package codec

import (
	"errors"
	"fmt"

	"github.com/mattetti/mead/media"
)

type State int

const (
	StateIdle State = iota
	StateBuffering
	StateDraining
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var errStalled = errors.New("engine made no progress")

type engine[I, O comparable] interface {
	Push(I) error
	Pull() (O, error)
	Drained() bool
	Close() error
}

// session is the two-queue state machine shared by Encoder and Decoder.
type session[I, O comparable] struct {
	op      string
	engine  engine[I, O]
	discard func(I)
	drop    func(O)

	pending   []I
	ready     []O
	eos       bool // end of stream requested
	eosPushed bool // end of stream accepted by the engine
	state     State
	closed    bool
	idle      int // empty pulls in a row

	sent, received int
}

func (s *session[I, O]) send(in I) error {
	var zero I
	if s.closed {
		return &media.Error{Kind: media.ErrAlreadyFinished, Op: s.op, Detail: "session closed"}
	}
	if s.eos {
		return &media.Error{Kind: media.ErrAlreadyFinished, Op: s.op, Detail: "end of stream already sent"}
	}
	if in == zero {
		s.eos = true
		s.state = StateDraining
	} else {
		s.pending = append(s.pending, in)
		s.sent++
		s.state = StateBuffering
	}
	return s.feed()
}

// feed pushes pending input, then the end of stream marker, until the engine
// refuses. A refusal moves one unit of output to the ready queue, unless
// output is already waiting there for the caller.
func (s *session[I, O]) feed() error {
	var zero I
	for len(s.pending) > 0 || (s.eos && !s.eosPushed) {
		in := zero
		if len(s.pending) > 0 {
			in = s.pending[0]
		}
		err := s.engine.Push(in)
		if errors.Is(err, ErrAgain) {
			if len(s.ready) > 0 {
				return nil
			}
			out, err := s.pull()
			if err != nil {
				return err
			}
			var none O
			if out == none {
				if err := s.await(); err != nil {
					return err
				}
				continue
			}
			s.ready = append(s.ready, out)
			continue
		}
		if err != nil {
			return media.EngineError(s.op, err)
		}
		if len(s.pending) > 0 {
			s.pending[0] = zero
			s.pending = s.pending[1:]
		} else {
			s.eosPushed = true
		}
	}
	return nil
}

func (s *session[I, O]) pull() (O, error) {
	var zero O
	out, err := s.engine.Pull()
	if err != nil {
		return zero, media.EngineError(s.op, err)
	}
	if out != zero {
		s.idle = 0
	}
	return out, nil
}

// await runs after an empty pull from an engine that still holds work. It
// blocks in Wait when the engine is a Waiter and otherwise counts the pull
// against MaxIdlePulls.
func (s *session[I, O]) await() error {
	if w, ok := s.engine.(Waiter); ok {
		if err := w.Wait(); err != nil {
			return media.EngineError(s.op, err)
		}
		return nil
	}
	s.idle++
	if s.idle >= MaxIdlePulls {
		return media.EngineError(s.op, errStalled)
	}
	return nil
}

// receive returns the next output or the zero value when none is ready.
func (s *session[I, O]) receive() (O, error) {
	var zero O
	if len(s.ready) > 0 {
		out := s.ready[0]
		s.ready[0] = zero
		s.ready = s.ready[1:]
		s.received++
		return out, nil
	}
	if s.state == StateFinished || s.closed {
		return zero, nil
	}
	if err := s.feed(); err != nil {
		return zero, err
	}
	if len(s.ready) > 0 {
		return s.receive()
	}
	out, err := s.pull()
	if err != nil {
		return zero, err
	}
	if out != zero {
		s.received++
		return out, nil
	}
	if s.eosPushed && s.engine.Drained() {
		s.state = StateFinished
	}
	return zero, nil
}

// finish ends the stream and collects outputs until the engine is drained.
func (s *session[I, O]) finish() ([]O, error) {
	var zero I
	if !s.eos || s.closed {
		if err := s.send(zero); err != nil {
			return nil, err
		}
	}
	var outs []O
	for {
		out, err := s.receive()
		if err != nil {
			return outs, err
		}
		var none O
		if out != none {
			outs = append(outs, out)
			continue
		}
		if s.state == StateFinished {
			return outs, nil
		}
		if err := s.await(); err != nil {
			return outs, err
		}
	}
}

// close discards both queues and closes the engine.
func (s *session[I, O]) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.discard != nil {
		for _, in := range s.pending {
			s.discard(in)
		}
	}
	if s.drop != nil {
		for _, out := range s.ready {
			s.drop(out)
		}
	}
	s.pending = nil
	s.ready = nil
	if err := s.engine.Close(); err != nil {
		return media.EngineError(s.op, err)
	}
	return nil
}
