package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// PrefixLen is the size of the big-endian length prefix.
const PrefixLen = 4

var (
	ErrShortFrame    = errors.New("frame: stream closed mid-frame")
	ErrFrameTooLarge = errors.New("frame: payload too large")
	ErrDecode        = errors.New("frame: payload is not a JSON object")
	ErrEncode        = errors.New("frame: message is not JSON-representable")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// Encode serializes one message into prefix+payload wire bytes.
func Encode(msg map[string]any, limits Limits) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if uint32(len(payload)) > limits.MaxPayloadBytes {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, PrefixLen+len(payload))
	binary.BigEndian.PutUint32(buf[:PrefixLen], uint32(len(payload)))
	copy(buf[PrefixLen:], payload)
	return buf, nil
}

// Decode parses one payload (prefix already stripped) into a message.
func Decode(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var msg map[string]any
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if msg == nil {
		return nil, ErrDecode
	}
	return msg, nil
}

// Read blocks until one complete frame is consumed from r. A single transport
// read may deliver fewer bytes than requested; io.ReadFull loops until the
// exact count is accumulated. A stream closed before the prefix or before the
// declared payload length is a short frame, never a partial message.
func Read(r io.Reader, limits Limits) (map[string]any, error) {
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > limits.MaxPayloadBytes {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	return Decode(payload)
}

// Write encodes msg and writes it to w in full.
func Write(w io.Writer, msg map[string]any, limits Limits) error {
	buf, err := Encode(msg, limits)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}

// Accumulator assembles frames from arbitrarily fragmented deliveries. The
// server poll loop feeds whatever bytes a short-deadline read produced and
// drains complete frames; partial frames stay buffered across iterations.
type Accumulator struct {
	buf    []byte
	limits Limits
}

func NewAccumulator(limits Limits) *Accumulator {
	return &Accumulator{limits: limits}
}

func (a *Accumulator) Feed(p []byte) {
	a.buf = append(a.buf, p...)
}

// Next returns the next complete message, or ok=false when more bytes are
// needed. A declared length above the limit poisons the stream.
func (a *Accumulator) Next() (map[string]any, bool, error) {
	if len(a.buf) < PrefixLen {
		return nil, false, nil
	}
	n := binary.BigEndian.Uint32(a.buf[:PrefixLen])
	if n > a.limits.MaxPayloadBytes {
		return nil, false, ErrFrameTooLarge
	}
	total := PrefixLen + int(n)
	if len(a.buf) < total {
		return nil, false, nil
	}
	payload := a.buf[PrefixLen:total]
	msg, err := Decode(payload)
	if err != nil {
		return nil, false, err
	}
	a.buf = a.buf[total:]
	return msg, true, nil
}

// Pending reports whether a partial frame is buffered.
func (a *Accumulator) Pending() bool {
	return len(a.buf) > 0
}
