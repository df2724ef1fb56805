package codec

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrBadSignature = errors.New("codec: hmac signature mismatch")

// CanonicalJSON re-serialises a JSON document with object keys sorted
// lexicographically and no insignificant whitespace. This is the exact byte
// form both ends sign, so it must be stable under key-order permutations of
// the input.
func CanonicalJSON(raw []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("codec: canonicalize: %w", err)
	}
	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kj, err := marshalScalar(k)
			if err != nil {
				return err
			}
			b.Write(kj)
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case json.Number:
		b.WriteString(t.String())
	default:
		j, err := marshalScalar(t)
		if err != nil {
			return err
		}
		b.Write(j)
	}
	return nil
}

// marshalScalar encodes a scalar without HTML escaping: the remote end signs
// `<`, `>` and `&` as raw bytes, so `<`-style escapes would change the
// digest.
func marshalScalar(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encode appends a newline after the value.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign computes the hex HMAC-SHA-256 of the canonical form of data.
func Sign(data []byte, secret []byte) (string, error) {
	canon, err := CanonicalJSON(data)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canon)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature over data and compares it against the
// presented hex digest in constant time.
func Verify(data []byte, signature string, secret []byte) error {
	want, err := Sign(data, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
