// Package hash fingerprints JSON-like entity payloads for change detection.
// Payloads are canonicalized first so that two documents differing only in
// object key order, number spelling, or Unicode normalization form produce
// the same fingerprint.
package hash

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonical returns the canonical JSON encoding of v. Raw JSON input
// (json.RawMessage or []byte) is parsed; any other value is marshalled with
// encoding/json first.
//
// Canonical form: object keys sorted by byte order, no insignificant
// whitespace, strings NFC-normalized without HTML escaping, integers in plain
// decimal and other numbers in shortest float form.
func Canonical(v any) ([]byte, error) {
	raw, err := toRaw(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("canonical: trailing data after JSON value")
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toRaw(v any) ([]byte, error) {
	switch val := v.(type) {
	case json.RawMessage:
		if len(val) == 0 {
			return nil, fmt.Errorf("canonical: empty JSON document")
		}
		return val, nil
	case []byte:
		if len(val) == 0 {
			return nil, fmt.Errorf("canonical: empty JSON document")
		}
		return val, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("canonical: marshal: %w", err)
		}
		return b, nil
	}
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		n, err := canonicalNumber(val)
		if err != nil {
			return err
		}
		buf.WriteString(n)
	case string:
		return writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		// Keys that collide after NFC stay separate entries, ordered by
		// their raw spelling.
		keys := make([]objectKey, 0, len(val))
		for k := range val {
			keys = append(keys, objectKey{norm: norm.NFC.String(k), raw: k})
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].norm != keys[j].norm {
				return keys[i].norm < keys[j].norm
			}
			return keys[i].raw < keys[j].raw
		})
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k.raw); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k.raw]); err != nil {
				return fmt.Errorf("%q: %w", k.norm, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
	return nil
}

type objectKey struct {
	norm string
	raw  string
}

// writeString encodes s after NFC normalization. HTML characters are left
// as they are.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return fmt.Errorf("canonical: encode string: %w", err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

// maxExactFloat is the largest magnitude up to which every integral float64
// is printed as a plain integer.
const maxExactFloat = 1 << 53

// canonicalNumber spells a JSON number so that equal values written
// differently ("1", "1.0", "1e0") agree.
func canonicalNumber(n json.Number) (string, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		// Integer literal beyond int64: keep the digits verbatim.
		return strings.TrimPrefix(s, "+"), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("canonical: number %q: %w", s, err)
	}
	if f == math.Trunc(f) && math.Abs(f) <= maxExactFloat {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}
