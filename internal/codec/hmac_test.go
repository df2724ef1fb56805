package codec_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-lpr/internal/codec"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	in := []byte(`{"b": 1, "a": {"z": true, "y": "s"}, "c": [3, 2.5, "x"]}`)
	out, err := codec.CanonicalJSON(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":"s","z":true},"b":1,"c":[3,2.5,"x"]}`, string(out))
}

func TestCanonicalJSONStableUnderPermutation(t *testing.T) {
	a := []byte(`{"lpr_id":4,"settings":[{"name":"ocr_prob","value":0.65}],"cameras_data":[]}`)
	b := []byte(`{"cameras_data":[],"settings":[{"value":0.65,"name":"ocr_prob"}],"lpr_id":4}`)

	ca, err := codec.CanonicalJSON(a)
	require.NoError(t, err)
	cb, err := codec.CanonicalJSON(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
}

func TestCanonicalJSONPreservesNumberForm(t *testing.T) {
	out, err := codec.CanonicalJSON([]byte(`{"v": 0.65, "n": 1920}`))
	require.NoError(t, err)
	assert.Equal(t, `{"n":1920,"v":0.65}`, string(out))
}

func TestCanonicalJSONDoesNotEscapeHTML(t *testing.T) {
	// The device signs `<`, `>` and `&` as raw bytes; `<`-style
	// escapes would produce a digest it rejects.
	out, err := codec.CanonicalJSON([]byte(`{"a":"<",  "cmd": "a&b>c"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<","cmd":"a&b>c"}`, string(out))

	out, err = codec.CanonicalJSON([]byte(`{"<key>": 1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"<key>":1}`, string(out))
}

func TestSignMatchesReference(t *testing.T) {
	secret := []byte("k")
	data := []byte(`{"b":2,"a":1}`)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(`{"a":1,"b":2}`))
	want := hex.EncodeToString(mac.Sum(nil))

	got, err := codec.Sign(data, secret)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVerifyMismatch(t *testing.T) {
	secret := []byte("k")
	data := []byte(`{"a":1}`)
	sig, err := codec.Sign(data, secret)
	require.NoError(t, err)

	assert.NoError(t, codec.Verify(data, sig, secret))
	assert.ErrorIs(t, codec.Verify([]byte(`{"a":2}`), sig, secret), codec.ErrBadSignature)
}

func TestCanonicalJSONRejectsGarbage(t *testing.T) {
	_, err := codec.CanonicalJSON([]byte(`{"a":`))
	assert.Error(t, err)
}
