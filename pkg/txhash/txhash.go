// Package txhash computes deterministic content fingerprints for transaction
// payloads, task descriptors and submission evidence.
//
// A payload is normalised to canonical JSON (object keys sorted at every
// level, no insignificant whitespace) and hashed with Blake2b-256, so two
// logically identical payloads always yield the same hex digest no matter how
// their maps were built. The digest is usable both as an on-chain identifier
// and as an idempotency key.
package txhash

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Size is the digest length in bytes.
const Size = blake2b.Size256

// Compute returns the hex-encoded Blake2b-256 digest of payload's canonical
// JSON encoding.
func Compute(payload any) (string, error) {
	b, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	return Sum(b), nil
}

// MustCompute is like Compute but panics if payload cannot be encoded.
// Intended for static payloads known at compile time.
func MustCompute(payload any) string {
	h, err := Compute(payload)
	if err != nil {
		panic(err)
	}
	return h
}

// Sum returns the hex-encoded Blake2b-256 digest of data.
func Sum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Canonical returns the canonical JSON encoding of payload.
func Canonical(payload any) ([]byte, error) {
	norm, err := normalize(payload)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := encodeCanonical(buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalize converts any JSON-encodable value into the generic
// map[string]any / []any / scalar tree. Numbers are kept as json.Number so
// large integers survive the round trip.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("txhash: encode payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("txhash: normalize payload: %w", err)
	}
	return out, nil
}

func encodeCanonical(w io.Writer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = io.WriteString(w, "{")
		for i, k := range keys {
			if i > 0 {
				_, _ = io.WriteString(w, ",")
			}
			if err := encodeScalar(w, k); err != nil {
				return err
			}
			_, _ = io.WriteString(w, ":")
			if err := encodeCanonical(w, t[k]); err != nil {
				return err
			}
		}
		_, _ = io.WriteString(w, "}")
		return nil
	case []any:
		_, _ = io.WriteString(w, "[")
		for i, vv := range t {
			if i > 0 {
				_, _ = io.WriteString(w, ",")
			}
			if err := encodeCanonical(w, vv); err != nil {
				return err
			}
		}
		_, _ = io.WriteString(w, "]")
		return nil
	default:
		return encodeScalar(w, t)
	}
}

func encodeScalar(w io.Writer, v any) error {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encoder appends a newline.
	_, err := w.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return err
}

// Mismatch describes a locally computed hash that differs from the value the
// gateway echoed back for the same key.
type Mismatch struct {
	Key    string
	Local  string
	Echoed string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: local=%s echoed=%s", m.Key, m.Local, m.Echoed)
}

// Compare checks locally computed hashes against gateway-echoed ones.
// Only keys present on both sides are compared; an echoed value that is not
// a string counts as a mismatch. The result is sorted by key.
func Compare(local map[string]string, echoed map[string]any) []Mismatch {
	var out []Mismatch
	for key, want := range local {
		raw, ok := echoed[key]
		if !ok {
			continue
		}
		got, _ := raw.(string)
		if !strings.EqualFold(strings.TrimSpace(got), want) {
			out = append(out, Mismatch{Key: key, Local: want, Echoed: fmt.Sprint(raw)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
