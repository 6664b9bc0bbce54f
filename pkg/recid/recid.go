// Package recid implements the record identifier codec shared by every
// storage backend: a 128-bit random value rendered as 26 base-32 symbols
// plus one checksum symbol, using an alphabet with no visually ambiguous
// characters. Identifiers are minted once at record creation and travel
// verbatim across backends and migrations.
package recid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// Alphabet is the 32-symbol encoding alphabet. I, L, O and U are excluded
// so tokens stay unambiguous when printed or read aloud.
const Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	// BodyLen is the length of the encoded 128-bit value.
	BodyLen = 26
	// Len is the full identifier length including the checksum symbol.
	Len = BodyLen + 1
)

var (
	ErrInvalidLength    = errors.New("recid: invalid identifier length")
	ErrInvalidSymbol    = errors.New("recid: symbol outside alphabet")
	ErrChecksumMismatch = errors.New("recid: checksum mismatch")
	ErrOverflow         = errors.New("recid: encoded value exceeds 128 bits")
)

// decodeMap maps a byte to its 5-bit symbol value, or 0xFF when invalid.
var decodeMap [256]byte

func init() {
	for i := range decodeMap {
		decodeMap[i] = 0xFF
	}
	for i := 0; i < len(Alphabet); i++ {
		decodeMap[Alphabet[i]] = byte(i)
	}
}

// Encode renders a 128-bit value as a 26-symbol base-32 body. The mapping
// is bijective: the first symbol carries only the top 3 bits and is always
// in the range 0-7.
func Encode(value [16]byte) string {
	hi := beUint64(value[0:8])
	lo := beUint64(value[8:16])
	var b [BodyLen]byte
	for i := 0; i < BodyLen; i++ {
		shift := uint(125 - 5*i)
		b[i] = Alphabet[extract5(hi, lo, shift)]
	}
	return string(b[:])
}

// Checksum computes the modulo-32 check symbol for an encoded body.
func Checksum(body string) (byte, error) {
	var sum int
	for i := 0; i < len(body); i++ {
		v := decodeMap[body[i]]
		if v == 0xFF {
			return 0, fmt.Errorf("%w: %q at position %d", ErrInvalidSymbol, body[i], i)
		}
		sum += int(v)
	}
	return Alphabet[sum%32], nil
}

// Generate mints a fresh identifier from a random 128-bit value.
func Generate() string {
	var value [16]byte
	if _, err := rand.Read(value[:]); err != nil {
		// crypto/rand never fails on supported platforms; treat it as fatal.
		panic(fmt.Errorf("recid: read random: %w", err))
	}
	body := Encode(value)
	check, _ := Checksum(body)
	return body + string(check)
}

// Normalize remaps common hand-transcription substitutions and uppercases
// the result. Lowercase i and l become 1, o becomes 0 and u becomes V; the
// uppercase forms are not in the alphabet and are left to fail validation.
// Normalize is idempotent.
func Normalize(id string) string {
	var sb strings.Builder
	sb.Grow(len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch c {
		case 'i', 'l':
			c = '1'
		case 'o':
			c = '0'
		case 'u':
			c = 'V'
		default:
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// Validate reports whether id normalizes to a well-formed identifier:
// exactly 27 alphabet symbols whose checksum matches.
func Validate(id string) bool {
	_, err := Decode(id)
	return err == nil
}

// Decode normalizes and verifies an identifier, returning the original
// 128-bit value. The checksum is verified before decoding so a corrupted
// token fails loudly instead of resolving to a different record.
func Decode(id string) ([16]byte, error) {
	var value [16]byte
	norm := Normalize(id)
	if len(norm) != Len {
		return value, fmt.Errorf("%w: got %d, want %d", ErrInvalidLength, len(norm), Len)
	}
	body := norm[:BodyLen]
	check, err := Checksum(body)
	if err != nil {
		return value, err
	}
	if norm[BodyLen] != check {
		return value, ErrChecksumMismatch
	}
	if decodeMap[body[0]] > 7 {
		return value, ErrOverflow
	}
	var hi, lo uint64
	for i := 0; i < BodyLen; i++ {
		v := uint64(decodeMap[body[i]])
		hi = hi<<5 | lo>>59
		lo = lo<<5 | v
	}
	putBeUint64(value[0:8], hi)
	putBeUint64(value[8:16], lo)
	return value, nil
}

// extract5 returns the 5 bits of the 128-bit value (hi,lo) starting at the
// given shift, counted from the least significant bit.
func extract5(hi, lo uint64, shift uint) byte {
	switch {
	case shift >= 64:
		return byte((hi >> (shift - 64)) & 31)
	case shift == 0:
		return byte(lo & 31)
	default:
		return byte(((hi << (64 - shift)) | (lo >> shift)) & 31)
	}
}

func beUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putBeUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
