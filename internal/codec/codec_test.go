package codec_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-lpr/internal/codec"
)

func TestEncodeFrameAppendsDelimiter(t *testing.T) {
	m := codec.Message{MessageID: "id-1", MessageType: "acknowledge", MessageBody: json.RawMessage(`{"replyTo":"x"}`)}
	raw, err := codec.EncodeFrame(m)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(raw, []byte("<END>")))

	decoded, err := codec.DecodeMessage(raw[:len(raw)-len("<END>")])
	require.NoError(t, err)
	assert.Equal(t, m.MessageType, decoded.MessageType)
	assert.Equal(t, m.MessageID, decoded.MessageID)
}

func TestDecoderArbitrarySplits(t *testing.T) {
	frames := [][]byte{
		[]byte(`{"messageType":"acknowledge","messageBody":{"replyTo":"a"}}`),
		[]byte(`{"messageType":"live","messageBody":{"camera_id":7}}`),
		[]byte(`{"messageType":"plates_data","messageBody":{"camera_id":7,"cars":[]}}`),
	}
	var wire []byte
	for _, f := range frames {
		wire = append(wire, f...)
		wire = append(wire, []byte("<END>")...)
	}

	// Feed the stream in every possible chunk size and verify the frame
	// sequence is reproduced exactly.
	for chunk := 1; chunk <= len(wire); chunk++ {
		dec := codec.NewDecoder(0)
		var got [][]byte
		for off := 0; off < len(wire); off += chunk {
			end := off + chunk
			if end > len(wire) {
				end = len(wire)
			}
			out, err := dec.Feed(wire[off:end])
			require.NoError(t, err)
			got = append(got, out...)
		}
		require.Len(t, got, len(frames), "chunk size %d", chunk)
		for i := range frames {
			assert.Equal(t, frames[i], got[i])
		}
	}
}

func TestDecoderRetainsPartialFrame(t *testing.T) {
	dec := codec.NewDecoder(0)
	out, err := dec.Feed([]byte(`{"messageType":"li`))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = dec.Feed([]byte(`ve","messageBody":{}}<END>{"partial`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []byte(`{"messageType":"live","messageBody":{}}`), out[0])
}

func TestDecoderSkipsEmptyFrames(t *testing.T) {
	dec := codec.NewDecoder(0)
	out, err := dec.Feed([]byte(`<END><END>{"messageType":"live","messageBody":{}}<END>`))
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestDecoderFrameTooLarge(t *testing.T) {
	dec := codec.NewDecoder(64)
	big := bytes.Repeat([]byte("a"), 200)
	_, err := dec.Feed(big)
	assert.ErrorIs(t, err, codec.ErrFrameTooLarge)
}

func TestDecoderDelimitedFrameOverCap(t *testing.T) {
	dec := codec.NewDecoder(16)
	payload := append(bytes.Repeat([]byte("b"), 32), []byte("<END>")...)
	_, err := dec.Feed(payload)
	assert.ErrorIs(t, err, codec.ErrFrameTooLarge)
}

func TestNewAuthMessage(t *testing.T) {
	m, id, err := codec.NewAuthMessage("secret-token")
	require.NoError(t, err)
	assert.Equal(t, "authentication", m.MessageType)
	assert.Equal(t, id, m.MessageID)
	assert.NotEmpty(t, id)

	var body codec.AuthBody
	require.NoError(t, json.Unmarshal(m.MessageBody, &body))
	assert.Equal(t, "secret-token", body.Token)
}

func TestNewSignedMessage(t *testing.T) {
	secret := []byte("hmac-secret")
	payload := map[string]any{"action": "reboot", "delay": 5}

	m, id, err := codec.NewSignedMessage("command", payload, secret)
	require.NoError(t, err)
	assert.Equal(t, "command", m.MessageType)
	assert.NotEmpty(t, id)

	var body codec.SignedBody
	require.NoError(t, json.Unmarshal(m.MessageBody, &body))
	assert.NoError(t, codec.Verify(body.Data, body.HMAC, secret))
	assert.ErrorIs(t, codec.Verify(body.Data, body.HMAC, []byte("wrong")), codec.ErrBadSignature)
}
