package llm

import (
	"context"
	"io"
	"strings"
)

// Stream is a lazy, finite, non-restartable sequence of text fragments.
// Next returns io.EOF after the last fragment. Close releases the provider
// connection and may be called at any time.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Producer pushes fragments through emit until done. emit returns false once
// the consumer has gone away; the producer should then return.
type Producer func(ctx context.Context, emit func(text string) bool) error

type chanStream struct {
	ch     chan string
	errc   chan error
	cancel context.CancelFunc
	done   bool
	err    error
}

// NewStream runs produce in its own goroutine and exposes its output as a Stream.
func NewStream(ctx context.Context, produce Producer) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{
		ch:     make(chan string),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		defer close(s.ch)
		s.errc <- produce(ctx, func(text string) bool {
			if text == "" {
				return true
			}
			select {
			case s.ch <- text:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return s
}

func (s *chanStream) Next() (string, error) {
	if s.done {
		return "", s.err
	}
	text, ok := <-s.ch
	if ok {
		return text, nil
	}
	s.done = true
	s.err = <-s.errc
	if s.err == nil {
		s.err = io.EOF
	}
	s.cancel()
	return "", s.err
}

func (s *chanStream) Close() error {
	s.cancel()
	return nil
}

type sliceStream struct {
	fragments []string
	pos       int
	err       error
}

// SliceStream replays fixed fragments, then returns err (io.EOF when nil).
func SliceStream(fragments []string, err error) Stream {
	if err == nil {
		err = io.EOF
	}
	return &sliceStream{fragments: fragments, err: err}
}

func (s *sliceStream) Next() (string, error) {
	if s.pos >= len(s.fragments) {
		return "", s.err
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceStream) Close() error {
	s.pos = len(s.fragments)
	return nil
}

// Collect drains a stream into one string.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		text, err := s.Next()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(text)
	}
}
