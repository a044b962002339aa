// Package framer implements the incremental varint length-delimited frame
// codec used on the meshtastic serial link: <varint length><payload bytes>.
package framer

import "bytes"

// MaxFrameSize bounds the accepted frame payload to guard against runaway
// allocation on corrupt input.
const MaxFrameSize = 64 * 1024

// maxVarintBytes is how many continuation-flagged bytes a length varint may
// start with (4 x 7 = 28 bits). If the byte after them also has its
// continuation bit set, the varint is treated as corruption, so a valid
// length spans at most maxVarintBytes+1 bytes.
const maxVarintBytes = 4

// Framer incrementally decodes a byte stream into whole frames. It never
// returns an error: every malformed-input case is absorbed by advancing the
// buffer one byte and resynchronizing against the next valid frame boundary.
type Framer struct {
	buf bytes.Buffer
}

// New returns an empty Framer.
func New() *Framer { return &Framer{} }

// Push appends bytes arriving from the serial reader.
func (f *Framer) Push(data []byte) { f.buf.Write(data) }

// Buffered reports how many bytes are currently held, unconsumed.
func (f *Framer) Buffered() int { return f.buf.Len() }

// NextFrame attempts to parse one complete frame from the buffer. It
// returns (frame, true) when a frame was extracted, or (nil, false) when
// more data is needed or a corruption resync step was taken (Buffered then
// shrinks by one). After a resync step a frame may already be available,
// so callers keep calling NextFrame until it returns false without
// shrinking the buffer, as Drain does.
func (f *Framer) NextFrame() ([]byte, bool) {
	data := f.buf.Bytes()
	if len(data) == 0 {
		return nil, false
	}

	var length int
	var shift uint
	varintLen := 0
	terminated := false
	for i, b := range data {
		varintLen++
		length |= int(b&0x7F) << shift
		if b&0x80 == 0 {
			terminated = true
			break
		}
		shift += 7
		if varintLen > maxVarintBytes {
			// Varint never terminates within the accepted width: corruption.
			f.buf.Next(1)
			return nil, false
		}
		if i+1 >= len(data) {
			break
		}
	}
	if !terminated {
		// Not enough bytes yet to finish the varint.
		return nil, false
	}

	if length > MaxFrameSize {
		f.buf.Next(1)
		return nil, false
	}

	if f.buf.Len() < varintLen+length {
		// Full frame not yet available; leave buffer untouched.
		return nil, false
	}

	f.buf.Next(varintLen)
	frame := make([]byte, length)
	n, _ := f.buf.Read(frame)
	return frame[:n], true
}

// Drain repeatedly extracts frames and invokes fn for each, stopping when
// no further frame is available. A resync step does not stop it: it retries
// from the next byte.
func (f *Framer) Drain(fn func(frame []byte)) {
	for {
		before := f.buf.Len()
		frame, ok := f.NextFrame()
		if !ok {
			if f.buf.Len() < before {
				continue
			}
			return
		}
		fn(frame)
	}
}

// Encode produces the on-wire representation of a single frame: a varint
// length prefix followed by the payload bytes.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+5)
	out = appendVarint(out, uint64(len(payload)))
	out = append(out, payload...)
	return out
}

func appendVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}
