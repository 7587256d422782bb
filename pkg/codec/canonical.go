// Package codec implements the deterministic serialization and hashing
// used to derive transaction identifiers and signing messages.
package codec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Canonicalize takes arbitrary JSON bytes and returns the canonical encoding:
// object keys sorted by code point, no insignificant whitespace, numbers
// preserved exactly (via json.Number), and no HTML escaping.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	return encode(canonicalizeValue(v))
}

// CanonicalizeValue marshals v to JSON first, then canonicalizes the result.
// Useful when v is a Go struct rather than raw bytes.
func CanonicalizeValue(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Canonicalize(raw)
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; strip it so the byte
	// string used for hashing has no insignificant whitespace.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// canonicalizeValue recursively sorts map keys; arrays retain order.
func canonicalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(vv))
		for _, k := range keys {
			ordered = append(ordered, orderedEntry{key: k, value: canonicalizeValue(vv[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return vv
	}
}

// orderedEntry and orderedMap implement json.Marshaler to emit object keys
// in a fixed order; encoding/json's map[string]interface{} support always
// re-sorts lexicographically, which happens to match our ordering rule, but
// we marshal explicitly so the guarantee does not depend on that coincidence.
type orderedEntry struct {
	key   string
	value interface{}
}

type orderedMap []orderedEntry

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := encodeString(e.key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := encode(e.value)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// HashHex returns the lowercase hex SHA3-256 digest of data.
func HashHex(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash returns the raw 32-byte SHA3-256 digest of data.
func Hash(data []byte) [32]byte {
	return sha3.Sum256(data)
}

// CanonicalHashHex canonicalizes raw JSON and returns its SHA3-256 hex digest.
func CanonicalHashHex(raw []byte) (string, error) {
	canon, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	return HashHex(canon), nil
}
