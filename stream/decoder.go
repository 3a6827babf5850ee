package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"unicode/utf8"

	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/fogfish/opts"
)

var (
	// ErrTruncated means the input ended before a terminal frame.
	ErrTruncated = errors.New("stream ended before completion")
	// ErrFrameTooLarge means a single line grew beyond the configured limit.
	ErrFrameTooLarge = errors.New("stream frame exceeds size limit")
)

const (
	DefaultReadSize     = 4096
	DefaultMaxFrameSize = 1 << 20
	doneSentinel        = "[DONE]"
)

var (
	dataMarker    = []byte("data:")
	doneSentinelB = []byte(doneSentinel)
)

// Decoder turns a framed byte stream into deltas. It is not safe for concurrent use.
type Decoder struct {
	r       io.Reader
	extract Extractor

	readSize     int
	maxFrameSize int
	ndjson       bool
	logger       *slog.Logger

	chunk   []byte
	buf     []byte
	off     int
	queue   []messages.Delta
	eof     bool
	done    bool
	err     error
	skipped int
}

var (
	// ReadSize sets how many bytes are requested from the reader per read.
	ReadSize = opts.ForName[Decoder, int]("readSize")
	// MaxFrameSize bounds the length of a single line.
	MaxFrameSize = opts.ForName[Decoder, int]("maxFrameSize")
	// NDJSON treats every line as a payload, without a data marker.
	NDJSON = opts.ForName[Decoder, bool]("ndjson")
	// Logger sets the logger used to report skipped frames.
	Logger = opts.ForName[Decoder, *slog.Logger]("logger")
)

// NewDecoder reads frames from r and interprets payloads with extract.
// A nil extractor uses the relay extractor.
func NewDecoder(r io.Reader, extract Extractor, options ...opts.Option[Decoder]) *Decoder {
	d := &Decoder{
		r:            r,
		extract:      extract,
		readSize:     DefaultReadSize,
		maxFrameSize: DefaultMaxFrameSize,
	}
	if err := opts.Apply(d, options); err != nil {
		panic(err)
	}
	if d.extract == nil {
		d.extract = Relay
	}
	if d.readSize <= 0 {
		d.readSize = DefaultReadSize
	}
	d.logger = slogx.Named(d.logger, "stream")
	d.chunk = make([]byte, d.readSize)
	return d
}

// Skipped reports how many malformed frames were dropped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Next returns the next delta. Message ids are left empty for the caller to stamp.
// After the terminal delta it returns io.EOF; input that ends early yields ErrTruncated.
func (d *Decoder) Next() (messages.Delta, error) {
	for {
		if len(d.queue) > 0 {
			next := d.queue[0]
			d.queue = d.queue[1:]
			return next, nil
		}
		if d.done {
			return messages.Delta{}, io.EOF
		}
		if line, ok := d.nextLine(); ok {
			d.handle(line)
			continue
		}
		if d.err != nil {
			return messages.Delta{}, d.err
		}

		if d.eof {
			if d.off < len(d.buf) {
				// a final line without its newline
				line := d.buf[d.off:]
				d.off = len(d.buf)
				d.handle(line)
				continue
			}
			d.err = ErrTruncated
			continue
		}

		if d.maxFrameSize > 0 && len(d.buf)-d.off > d.maxFrameSize {
			d.err = ErrFrameTooLarge
			continue
		}
		d.fill()
	}
}

// All ranges over the remaining deltas. Iteration stops after the terminal
// delta or after the first error, which is yielded.
func (d *Decoder) All() iter.Seq2[messages.Delta, error] {
	return func(yield func(messages.Delta, error) bool) {
		for {
			delta, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(delta, err) || err != nil {
				return
			}
		}
	}
}

func (d *Decoder) nextLine() ([]byte, bool) {
	i := bytes.IndexByte(d.buf[d.off:], '\n')
	if i < 0 {
		return nil, false
	}
	line := d.buf[d.off : d.off+i]
	d.off += i + 1
	return line, true
}

func (d *Decoder) fill() {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}

	n, err := d.r.Read(d.chunk)
	d.buf = append(d.buf, d.chunk[:n]...)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		d.eof = true
	default:
		d.err = fmt.Errorf("read stream: %w", err)
	}
}

func (d *Decoder) handle(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})

	var payload []byte
	if d.ndjson {
		payload = line
	} else {
		rest, ok := bytes.CutPrefix(line, dataMarker)
		if !ok {
			// comments, event names, blank separators
			return
		}
		payload = rest
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return
	}
	if !utf8.Valid(payload) {
		payload = bytes.ToValidUTF8(payload, []byte(string(utf8.RuneError)))
	}

	if bytes.Equal(payload, doneSentinelB) {
		d.finish(messages.Done(""))
		return
	}

	frame, err := d.extract(payload)
	if err != nil {
		d.skipped++
		d.logger.Debug("skipping malformed frame", slogx.Error(err), slog.Int("skipped", d.skipped))
		return
	}

	switch {
	case frame.Error:
		d.finish(messages.Failure("", frame.Content))
	case frame.Terminal:
		if frame.Content != "" {
			d.queue = append(d.queue, messages.Fragment("", frame.Content))
		}
		d.finish(messages.Done(""))
	case frame.Content != "":
		d.queue = append(d.queue, messages.Fragment("", frame.Content))
	}
}

func (d *Decoder) finish(terminal messages.Delta) {
	d.queue = append(d.queue, terminal)
	d.done = true
}
