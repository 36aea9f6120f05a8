package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultMaxBufferSize is a generous cap on the retained, not-yet-terminated
// tail, large enough for any realistic single frame while still bounding a
// misbehaving peer's memory footprint.
const DefaultMaxBufferSize = 16 * 1024 * 1024 // 16 MiB

// ErrBufferOverflow is returned by Append once the retained tail would
// exceed the buffer's configured maximum size without having seen a
// newline.
var ErrBufferOverflow = fmt.Errorf("transport: message buffer exceeded maximum size")

// MessageBuffer reassembles newline-delimited JSON objects out of
// arbitrarily-chunked byte input. It is owned by the Stdio transport; the
// HTTP transport parses each response body whole and has no use for it.
type MessageBuffer struct {
	tail       []byte
	maxSize    int
	bytesIn    int64
	framesOut  int64
	parseError int64
}

// NewMessageBuffer constructs a buffer with the default size cap.
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{maxSize: DefaultMaxBufferSize}
}

// NewMessageBufferWithLimit constructs a buffer with an explicit maximum
// retained-tail size, mainly for tests that want to exercise overflow
// without allocating 16 MiB.
func NewMessageBufferWithLimit(maxSize int) *MessageBuffer {
	return &MessageBuffer{maxSize: maxSize}
}

// Append appends chunk, splits on '\n', and decodes every completed line as
// a JSON object. Blank lines are skipped. A line that parses to a JSON value
// other than an object, or that fails to parse at all, increments the
// parse-error counter and is dropped — it never becomes a frame and never
// fails the call. The retained tail afterward is exactly the bytes following
// the last newline in the accumulated input.
func (b *MessageBuffer) Append(chunk []byte) ([]map[string]any, error) {
	b.bytesIn += int64(len(chunk))

	data := append(b.tail, chunk...)
	lines := bytes.Split(data, []byte{'\n'})
	b.tail = lines[len(lines)-1]

	if len(b.tail) > b.maxSize {
		return nil, ErrBufferOverflow
	}

	var frames []map[string]any
	for _, line := range lines[:len(lines)-1] {
		if frame, ok := b.decodeLine(line); ok {
			frames = append(frames, frame)
		}
	}
	return frames, nil
}

// Reset attempts one last parse of any retained bytes as a JSON object, to
// recover a final frame missing its trailing newline, then clears the
// buffer. It returns that recovered frame, if any.
func (b *MessageBuffer) Reset() map[string]any {
	var frame map[string]any
	if len(bytes.TrimSpace(b.tail)) > 0 {
		if f, ok := b.decodeLine(b.tail); ok {
			frame = f
		}
	}
	b.tail = nil
	return frame
}

func (b *MessageBuffer) decodeLine(line []byte) (map[string]any, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, false
	}

	var frame map[string]any
	if err := json.Unmarshal(trimmed, &frame); err != nil || frame == nil {
		// A JSON null decodes into a nil map without error; it is not an
		// object, so it counts as a parse error like any other non-object.
		b.parseError++
		return nil, false
	}
	b.framesOut++
	return frame, true
}

// Stats is a snapshot of the buffer's observability counters.
type Stats struct {
	BytesIn    int64
	FramesOut  int64
	ParseError int64
}

// Stats returns the buffer's current counters.
func (b *MessageBuffer) Stats() Stats {
	return Stats{BytesIn: b.bytesIn, FramesOut: b.framesOut, ParseError: b.parseError}
}
