// Package der implements the minimal subset of DER encoding needed to
// assemble detached PKCS#7 signature containers.
package der

import (
	"errors"
	"fmt"
)

// Tag bytes for the ASN.1 types used here.
const (
	TagInteger     = 0x02
	TagBitString   = 0x03
	TagOctetString = 0x04
	TagNull        = 0x05
	TagOID         = 0x06
	TagSequence    = 0x30
	TagSet         = 0x31
)

// ContextTag returns the constructed context-specific tag byte for n.
func ContextTag(n byte) byte {
	return 0xA0 | n
}

// ErrEncoding is returned for values that cannot be represented in DER.
var ErrEncoding = errors.New("DER encoding error")

// maxLengthOctets bounds long-form length encodings. Four octets cover
// contents up to 4 GiB, far beyond any signature this package builds.
const maxLengthOctets = 4

// EncodeLength encodes a content length in DER: short form below 128,
// otherwise long form with the minimal number of big-endian octets.
func EncodeLength(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrEncoding, n)
	}
	if n < 0x80 {
		return []byte{byte(n)}, nil
	}

	var octets []byte
	for v := n; v > 0; v >>= 8 {
		octets = append([]byte{byte(v)}, octets...)
	}
	if len(octets) > maxLengthOctets {
		return nil, fmt.Errorf("%w: length %d too large", ErrEncoding, n)
	}

	out := make([]byte, 0, len(octets)+1)
	out = append(out, 0x80|byte(len(octets)))
	return append(out, octets...), nil
}

// DecodeLength reads a DER length at the start of data and returns the
// length and the number of bytes consumed. Non-minimal encodings are
// rejected.
func DecodeLength(data []byte) (length, consumed int, err error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("%w: empty length", ErrEncoding)
	}

	first := data[0]
	if first < 0x80 {
		return int(first), 1, nil
	}

	count := int(first & 0x7F)
	if count == 0 {
		return 0, 0, fmt.Errorf("%w: indefinite length not allowed", ErrEncoding)
	}
	if count > maxLengthOctets {
		return 0, 0, fmt.Errorf("%w: length uses %d octets", ErrEncoding, count)
	}
	if len(data) < 1+count {
		return 0, 0, fmt.Errorf("%w: truncated length", ErrEncoding)
	}
	if data[1] == 0 {
		return 0, 0, fmt.Errorf("%w: non-minimal length encoding", ErrEncoding)
	}

	for i := 0; i < count; i++ {
		length = length<<8 | int(data[1+i])
	}
	if length < 0x80 && count == 1 {
		return 0, 0, fmt.Errorf("%w: long form used for short length %d", ErrEncoding, length)
	}

	return length, 1 + count, nil
}

// encode wraps content in a tag-length-value triple.
func encode(tag byte, content []byte) ([]byte, error) {
	lenBytes, err := EncodeLength(len(content))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(lenBytes)+len(content))
	out = append(out, tag)
	out = append(out, lenBytes...)
	return append(out, content...), nil
}

// EncodeInteger encodes a non-negative integer with minimal two's
// complement content octets.
func EncodeInteger(n int64) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative integer %d", ErrEncoding, n)
	}

	var content []byte
	for v := n; ; v >>= 8 {
		content = append([]byte{byte(v)}, content...)
		if v < 0x100 {
			break
		}
	}
	// A leading zero keeps the top bit clear so the value stays positive.
	if content[0]&0x80 != 0 {
		content = append([]byte{0}, content...)
	}

	return encode(TagInteger, content)
}

// EncodeOID encodes an object identifier from its arc values.
func EncodeOID(arcs []int) ([]byte, error) {
	if len(arcs) < 2 {
		return nil, fmt.Errorf("%w: OID needs at least two arcs", ErrEncoding)
	}
	if arcs[0] > 2 || arcs[0] < 0 || arcs[1] < 0 || (arcs[0] < 2 && arcs[1] >= 40) {
		return nil, fmt.Errorf("%w: invalid OID arcs %d.%d", ErrEncoding, arcs[0], arcs[1])
	}

	content := []byte{byte(arcs[0]*40 + arcs[1])}
	for _, arc := range arcs[2:] {
		if arc < 0 {
			return nil, fmt.Errorf("%w: negative OID arc %d", ErrEncoding, arc)
		}
		content = append(content, encodeBase128(arc)...)
	}

	return encode(TagOID, content)
}

// encodeBase128 encodes an arc in base-128 with continuation bits.
func encodeBase128(n int) []byte {
	if n == 0 {
		return []byte{0}
	}
	var out []byte
	for v := n; v > 0; v >>= 7 {
		b := byte(v & 0x7F)
		if len(out) > 0 {
			b |= 0x80
		}
		out = append([]byte{b}, out...)
	}
	return out
}

// EncodeOctetString encodes an OCTET STRING.
func EncodeOctetString(data []byte) ([]byte, error) {
	return encode(TagOctetString, data)
}

// EncodeBitString encodes a BIT STRING with no unused bits.
func EncodeBitString(data []byte) ([]byte, error) {
	content := make([]byte, 0, len(data)+1)
	content = append(content, 0x00)
	return encode(TagBitString, append(content, data...))
}

// EncodeNull encodes an ASN.1 NULL.
func EncodeNull() []byte {
	return []byte{TagNull, 0x00}
}

// EncodeSequence encodes a SEQUENCE of already-encoded children.
func EncodeSequence(children ...[]byte) ([]byte, error) {
	return encode(TagSequence, concat(children))
}

// EncodeSet encodes a SET of already-encoded children. Children are used in
// the order given; callers are responsible for DER set ordering when it
// matters.
func EncodeSet(children ...[]byte) ([]byte, error) {
	return encode(TagSet, concat(children))
}

// EncodeExplicit wraps already-encoded children in a constructed
// context-specific tag.
func EncodeExplicit(n byte, children ...[]byte) ([]byte, error) {
	return encode(ContextTag(n), concat(children))
}

func concat(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
