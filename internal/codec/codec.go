package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Delimiter terminates every frame on the wire. The device protocol uses a
// literal sentinel instead of a length prefix.
const Delimiter = "<END>"

// DefaultMaxFrameSize bounds a single frame. full_image payloads are base64
// so frames can be large, but anything past this is a protocol violation.
const DefaultMaxFrameSize = 16 * 1024 * 1024

var (
	ErrFrameTooLarge = errors.New("codec: frame exceeds maximum size")
)

// Message is the outer shape of every frame exchanged with an LPR device.
type Message struct {
	MessageID   string          `json:"messageId,omitempty"`
	MessageType string          `json:"messageType"`
	MessageBody json.RawMessage `json:"messageBody"`
}

// SignedBody wraps a control payload with its integrity signature.
type SignedBody struct {
	Data json.RawMessage `json:"data"`
	HMAC string          `json:"hmac"`
}

// AuthBody carries the device auth token.
type AuthBody struct {
	Token string `json:"token"`
}

// AckBody references the message being acknowledged.
type AckBody struct {
	ReplyTo string `json:"replyTo"`
}

// NewAuthMessage builds an authentication frame. The returned id is the
// correlation token the device echoes back in its acknowledge frame.
func NewAuthMessage(token string) (Message, string, error) {
	id := uuid.New().String()
	body, err := json.Marshal(AuthBody{Token: token})
	if err != nil {
		return Message{}, "", err
	}
	return Message{MessageID: id, MessageType: "authentication", MessageBody: body}, id, nil
}

// NewSignedMessage builds a command or lpr_settings frame whose body is the
// {data, hmac} envelope required for control messages.
func NewSignedMessage(messageType string, payload any, secret []byte) (Message, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, "", err
	}
	sig, err := Sign(data, secret)
	if err != nil {
		return Message{}, "", err
	}
	body, err := json.Marshal(SignedBody{Data: data, HMAC: sig})
	if err != nil {
		return Message{}, "", err
	}
	id := uuid.New().String()
	return Message{MessageID: id, MessageType: messageType, MessageBody: body}, id, nil
}

// EncodeFrame serialises a message and appends the frame delimiter.
func EncodeFrame(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if bytes.Contains(raw, []byte(Delimiter)) {
		return nil, fmt.Errorf("codec: message contains unescaped delimiter")
	}
	return append(raw, []byte(Delimiter)...), nil
}

// Decoder splits a byte stream into delimited frames. It is not safe for
// concurrent use; each session owns exactly one decoder fed from its single
// reader goroutine.
type Decoder struct {
	buf     bytes.Buffer
	maxSize int
}

func NewDecoder(maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Decoder{maxSize: maxSize}
}

// Feed appends bytes read from the socket and returns every complete frame
// they unlock, in wire order. A partial frame stays buffered. The bytes
// between delimiters are returned as-is; empty frames are skipped.
func (d *Decoder) Feed(p []byte) ([][]byte, error) {
	d.buf.Write(p)

	var frames [][]byte
	for {
		idx := bytes.Index(d.buf.Bytes(), []byte(Delimiter))
		if idx < 0 {
			if d.buf.Len() > d.maxSize {
				return frames, ErrFrameTooLarge
			}
			return frames, nil
		}
		if idx > d.maxSize {
			return frames, ErrFrameTooLarge
		}
		frame := make([]byte, idx)
		copy(frame, d.buf.Bytes()[:idx])
		d.buf.Next(idx + len(Delimiter))
		if len(frame) > 0 {
			frames = append(frames, frame)
		}
	}
}

// DecodeMessage parses one raw frame into a Message.
func DecodeMessage(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("codec: malformed frame: %w", err)
	}
	return m, nil
}

// WriteFrame encodes and writes one frame to w.
func WriteFrame(w io.Writer, m Message) error {
	raw, err := EncodeFrame(m)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}
