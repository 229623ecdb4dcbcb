package studyguide

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrEmptyStream is returned by Consume when the source ends before any text arrived.
var ErrEmptyStream = errors.New("stream ended without output")

// Accumulator owns the cumulative text of one stream. It is not safe for concurrent use.
type Accumulator struct {
	buf       strings.Builder
	fragments int
	snapshot  AnalysisResult
}

func NewAccumulator() *Accumulator {
	return &Accumulator{snapshot: NewAnalysisResult()}
}

// Append adds a fragment and returns a fresh snapshot of the whole text.
// Previously returned snapshots are not touched.
func (a *Accumulator) Append(fragment string) AnalysisResult {
	if fragment == "" {
		return a.snapshot
	}
	a.buf.WriteString(fragment)
	a.fragments++
	a.snapshot = Reconstruct(a.buf.String())
	return a.snapshot
}

func (a *Accumulator) Text() string { return a.buf.String() }

func (a *Accumulator) Fragments() int { return a.fragments }

func (a *Accumulator) Snapshot() AnalysisResult { return a.snapshot }

// FragmentSource is a lazy, finite sequence of text fragments. Next returns
// io.EOF once the sequence is exhausted; it cannot be restarted.
type FragmentSource interface {
	Next() (string, error)
}

// Consume drains src, reconstructing after every fragment and handing each
// snapshot to onSnapshot. It returns the final snapshot at end of stream.
// Any source error other than io.EOF is returned as is.
func Consume(ctx context.Context, src FragmentSource, onSnapshot func(snapshot AnalysisResult, fragments int)) (AnalysisResult, error) {
	acc := NewAccumulator()
	for {
		if err := ctx.Err(); err != nil {
			return NewAnalysisResult(), err
		}
		fragment, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return NewAnalysisResult(), err
		}
		if fragment == "" {
			continue
		}
		snapshot := acc.Append(fragment)
		if onSnapshot != nil {
			onSnapshot(snapshot, acc.Fragments())
		}
	}
	if acc.Fragments() == 0 {
		return NewAnalysisResult(), ErrEmptyStream
	}
	return acc.Snapshot(), nil
}

// SplitFragments cuts text into fragments of at most size bytes without
// splitting UTF-8 sequences. Used to replay recorded model output.
func SplitFragments(text string, size int) []string {
	if size <= 0 {
		size = 1
	}
	var out []string
	for len(text) > 0 {
		n := size
		if n >= len(text) {
			out = append(out, text)
			break
		}
		for n < len(text) && !utf8Start(text[n]) {
			n++
		}
		out = append(out, text[:n])
		text = text[n:]
	}
	return out
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
