package record

import (
	"encoding/binary"
	"fmt"
)

// Namespace discriminator bytes (spec §6.3): a single buntdb store per
// collection holds all five keyspaces, disambiguated by leading byte so
// lexicographic scans never cross namespaces by accident.
const (
	NamespaceCapture = 0x01
	NamespaceAlias   = 0x02
	NamespaceRule    = 0x03
	NamespacePolicy  = 0x04
	NamespaceConfig  = 0x05
)

// CaptureValueVersion1 is the only value layout this codec currently
// understands. Keeping it as an exported constant (rather than a magic
// number scattered through the file) is what makes UnknownRecordVersion
// detection a one-line check.
const CaptureValueVersion1 = 1

var ErrUnknownRecordVersion = fmt.Errorf("record: unknown record version")

// escapeZero replaces every 0x00 byte with the two-byte sequence 0x00,0xFF
// so a single bare 0x00 can be used, unambiguously, as the urlkey/timestamp
// separator baked into EncodeCaptureKey (spec §3.1's escaping requirement).
func escapeZero(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		out = append(out, s[i])
		if s[i] == 0x00 {
			out = append(out, 0xFF)
		}
	}
	return out
}

// findSeparator returns the index of the first bare (unescaped) 0x00 byte
// in b, the boundary EncodeCaptureKey placed after the escaped urlkey.
func findSeparator(b []byte) int {
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			continue
		}
		if i+1 < len(b) && b[i+1] == 0xFF {
			i++ // escaped literal zero, skip the pair
			continue
		}
		return i
	}
	return -1
}

func unescapeZero(b []byte) string {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		out = append(out, b[i])
		if b[i] == 0x00 {
			i++ // skip the 0xFF escape byte
		}
	}
	return string(out)
}

// EncodeCaptureKey produces the primary-key byte encoding of spec §3.1:
// urlkey + 0x00 + big-endian timestamp + 0x00 + filename + big-endian
// offset. Because filename's extent is determined positionally (everything
// between the second separator and the trailing 8-byte offset), only the
// urlkey needs escaping.
func EncodeCaptureKey(urlkey string, timestamp uint64, filename string, offset uint64) []byte {
	key := make([]byte, 0, len(urlkey)+1+8+1+len(filename)+8)
	key = append(key, NamespaceCapture)
	key = append(key, escapeZero(urlkey)...)
	key = append(key, 0x00)
	key = appendUint64(key, timestamp)
	key = append(key, 0x00)
	key = append(key, filename...)
	key = appendUint64(key, offset)
	return key
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// DecodeCaptureKey reverses EncodeCaptureKey without needing the value.
func DecodeCaptureKey(key []byte) (urlkey string, timestamp uint64, filename string, offset uint64, err error) {
	if len(key) < 1 || key[0] != NamespaceCapture {
		return "", 0, "", 0, fmt.Errorf("record: not a capture key")
	}
	body := key[1:]
	sep := findSeparator(body)
	if sep < 0 || sep+1+8+1 > len(body) {
		return "", 0, "", 0, fmt.Errorf("record: malformed capture key")
	}
	urlkey = unescapeZero(body[:sep])
	timestamp = binary.BigEndian.Uint64(body[sep+1 : sep+9])
	if body[sep+9] != 0x00 {
		return "", 0, "", 0, fmt.Errorf("record: malformed capture key: missing second separator")
	}
	rest := body[sep+10:]
	if len(rest) < 8 {
		return "", 0, "", 0, fmt.Errorf("record: malformed capture key: short offset")
	}
	filename = string(rest[:len(rest)-8])
	offset = binary.BigEndian.Uint64(rest[len(rest)-8:])
	return urlkey, timestamp, filename, offset, nil
}

// EncodeCaptureValue packs the non-key Capture fields into the fixed,
// versioned layout spec §4.2 calls for.
func EncodeCaptureValue(c *Capture) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, CaptureValueVersion1)
	buf = appendUint16(buf, uint16(c.Status))
	buf = appendString(buf, c.MimeType)
	buf = appendString(buf, c.Digest)
	buf = appendString(buf, c.RedirectURL)
	buf = appendString(buf, c.RobotFlags)
	buf = appendString(buf, c.OriginalURL)
	buf = appendUint64(buf, c.Length)

	var flags byte
	if c.HasOriginalVariant {
		flags |= 1
	}
	buf = append(buf, flags)
	if c.HasOriginalVariant {
		buf = appendUint64(buf, c.OriginalLength)
		buf = appendUint64(buf, c.OriginalOffset)
		buf = appendString(buf, c.OriginalFilename)
	}
	return buf
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendString(b []byte, s string) []byte {
	b = appendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func readString(b []byte, off int) (string, int, error) {
	if off+2 > len(b) {
		return "", 0, fmt.Errorf("record: truncated value")
	}
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if off+n > len(b) {
		return "", 0, fmt.Errorf("record: truncated value")
	}
	return string(b[off : off+n]), off + n, nil
}

// DecodeCapture reverses EncodeCaptureKey+EncodeCaptureValue. It is the
// counterpart spec invariant 3 (codec round-trip) is checked against.
func DecodeCapture(key, value []byte) (*Capture, error) {
	urlkey, ts, filename, offset, err := DecodeCaptureKey(key)
	if err != nil {
		return nil, err
	}
	if len(value) < 1 {
		return nil, fmt.Errorf("record: %w: empty value", ErrUnknownRecordVersion)
	}
	if value[0] != CaptureValueVersion1 {
		return nil, fmt.Errorf("record: %w: got version %d", ErrUnknownRecordVersion, value[0])
	}
	off := 1
	if off+2 > len(value) {
		return nil, fmt.Errorf("record: truncated value")
	}
	status := int(binary.BigEndian.Uint16(value[off : off+2]))
	off += 2

	var mime, digest, redirect, robotflags, originalURL string
	for _, dst := range []*string{&mime, &digest, &redirect, &robotflags, &originalURL} {
		*dst, off, err = readString(value, off)
		if err != nil {
			return nil, err
		}
	}
	if off+8 > len(value) {
		return nil, fmt.Errorf("record: truncated value")
	}
	length := binary.BigEndian.Uint64(value[off : off+8])
	off += 8

	if off+1 > len(value) {
		return nil, fmt.Errorf("record: truncated value")
	}
	flags := value[off]
	off++

	c := &Capture{
		URLKey:      urlkey,
		Timestamp:   ts,
		Filename:    filename,
		Offset:      offset,
		OriginalURL: originalURL,
		MimeType:    mime,
		Status:      status,
		Digest:      digest,
		RedirectURL: redirect,
		RobotFlags:  robotflags,
		Length:      length,
	}
	if flags&1 != 0 {
		if off+16 > len(value) {
			return nil, fmt.Errorf("record: truncated value")
		}
		c.HasOriginalVariant = true
		c.OriginalLength = binary.BigEndian.Uint64(value[off : off+8])
		c.OriginalOffset = binary.BigEndian.Uint64(value[off+8 : off+16])
		off += 16
		c.OriginalFilename, off, err = readString(value, off)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// EncodeAliasKey/EncodeAliasValue use the alias namespace byte (spec §3.2,
// §6.3) to share the same ordered store as captures without colliding.
func EncodeAliasKey(aliasSURT string) []byte {
	key := make([]byte, 0, len(aliasSURT)+2)
	key = append(key, NamespaceAlias)
	key = append(key, escapeZero(aliasSURT)...)
	key = append(key, 0x00)
	return key
}

func EncodeAliasValue(targetSURT string) []byte {
	return []byte(targetSURT)
}

func DecodeAlias(key, value []byte) (*Alias, error) {
	if len(key) < 1 || key[0] != NamespaceAlias {
		return nil, fmt.Errorf("record: not an alias key")
	}
	body := key[1:]
	if len(body) == 0 || body[len(body)-1] != 0x00 {
		return nil, fmt.Errorf("record: malformed alias key")
	}
	aliasSURT := unescapeZero(body[:len(body)-1])
	return &Alias{AliasSURT: aliasSURT, TargetSURT: string(value)}, nil
}

// AliasPrefixKey returns the byte prefix (namespace byte plus the escaped
// prefix) for scanning every alias whose SURT starts with prefix; an
// empty prefix yields the namespace byte alone, covering every alias.
func AliasPrefixKey(prefix string) []byte {
	key := make([]byte, 0, len(prefix)+1)
	key = append(key, NamespaceAlias)
	key = append(key, escapeZero(prefix)...)
	return key
}

// CapturePrefixKey returns the byte prefix for scanning every capture
// whose urlkey starts with prefix, without requiring a full tuple.
func CapturePrefixKey(prefix string) []byte {
	key := make([]byte, 0, len(prefix)+1)
	key = append(key, NamespaceCapture)
	key = append(key, escapeZero(prefix)...)
	return key
}
