package stream

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

// maxFrameSize bounds a single SSE line and the data of one event.
const maxFrameSize = 1 << 20

// ErrFrameTooLarge is returned by Next for an event that exceeded
// maxFrameSize. The event has been consumed and the stream may be read on.
var ErrFrameTooLarge = errors.New("sse frame too large")

// Frame is one dispatched server-sent event.
type Frame struct {
	ID    string
	Event string
	Data  string
	Retry int
}

// Decoder reads server-sent events from a stream incrementally.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// readLine returns the next line without its terminator. A line longer than
// maxFrameSize is read to its end, discarded and reported as too long.
func (d *Decoder) readLine() (string, bool, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxFrameSize {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err != nil:
			return "", tooLong, err
		}
		line := strings.TrimSuffix(string(buf), "\n")
		return strings.TrimSuffix(line, "\r"), tooLong, nil
	}
}

// Next blocks until a complete event has been read. It returns io.EOF when
// the stream ends cleanly; a partial event at EOF is discarded. An oversized
// event yields ErrFrameTooLarge once its terminating blank line is read.
func (d *Decoder) Next() (Frame, error) {
	var (
		f         Frame
		data      strings.Builder
		hasData   bool
		oversized bool
	)

	for {
		line, tooLong, err := d.readLine()
		if err != nil {
			return Frame{}, err
		}
		if tooLong {
			oversized = true
			continue
		}

		if line == "" {
			if oversized {
				return Frame{}, ErrFrameTooLarge
			}
			if !hasData {
				// Blank line with nothing buffered: keep reading.
				f = Frame{}
				continue
			}
			f.Data = data.String()
			return f, nil
		}

		if oversized || strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			if data.Len()+len(value) > maxFrameSize {
				oversized = true
				data.Reset()
				continue
			}
			data.WriteString(value)
			hasData = true
		case "event":
			f.Event = value
		case "id":
			f.ID = value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				f.Retry = ms
			}
		}
	}
}
