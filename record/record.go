// Package record defines the Capture and Alias data model (spec §3) and
// their packed-binary encodings (spec §4.2).
package record

// Capture represents one archived HTTP response (spec §3.1).
type Capture struct {
	URLKey      string
	Timestamp   uint64
	OriginalURL string

	MimeType    string
	Status      int
	Digest      string
	RedirectURL string
	RobotFlags  string

	Length   uint64
	Offset   uint64
	Filename string

	// CDX14 optional fields, present only when the capture references a
	// compressed/rewritten WARC variant distinct from the primary locator.
	HasOriginalVariant bool
	OriginalLength     uint64
	OriginalOffset     uint64
	OriginalFilename   string
}

// PrimaryKeyLess implements the component-wise ordering spec invariant 2
// is defined against: (urlkey, timestamp, filename, offset).
func PrimaryKeyLess(a, b *Capture) bool {
	if a.URLKey != b.URLKey {
		return a.URLKey < b.URLKey
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if a.Filename != b.Filename {
		return a.Filename < b.Filename
	}
	return a.Offset < b.Offset
}

// Alias represents a one-hop redirect mapping (spec §3.2).
type Alias struct {
	AliasSURT  string
	TargetSURT string
}

// Field returns the named capture attribute as a string, used by the
// filter=field:regex grammar (spec §4.4) and by fl= field selection.
func (c *Capture) Field(name string) (string, bool) {
	switch name {
	case "urlkey":
		return c.URLKey, true
	case "timestamp":
		return formatTimestamp(c.Timestamp), true
	case "original", "url":
		return c.OriginalURL, true
	case "mimetype", "mime":
		return c.MimeType, true
	case "statuscode", "status":
		return formatInt(c.Status), true
	case "digest":
		return c.Digest, true
	case "redirect", "redirecturl":
		return c.RedirectURL, true
	case "robotflags":
		return c.RobotFlags, true
	case "length":
		return formatUint(c.Length), true
	case "offset":
		return formatUint(c.Offset), true
	case "filename":
		return c.Filename, true
	case "originallength":
		if !c.HasOriginalVariant {
			return "", true
		}
		return formatUint(c.OriginalLength), true
	case "originaloffset":
		if !c.HasOriginalVariant {
			return "", true
		}
		return formatUint(c.OriginalOffset), true
	case "originalfilename":
		if !c.HasOriginalVariant {
			return "", true
		}
		return c.OriginalFilename, true
	default:
		return "", false
	}
}

func formatTimestamp(ts uint64) string {
	s := formatUint(ts)
	for len(s) < 14 {
		s = "0" + s
	}
	return s
}

func formatInt(n int) string  { return formatUint(uint64(n)) }
func formatUint(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// DefaultFields is the canonical 11-field CDX field order (spec §4.4
// output=cdx).
var DefaultFields = []string{
	"urlkey", "timestamp", "original", "mimetype", "statuscode", "digest",
	"redirect", "robotflags", "length", "offset", "filename",
}

// CDX14Fields extends DefaultFields with the three CDX14 optional-variant
// fields (spec §3.1). The output writers do not select it on their own:
// without fl they use DefaultFields, whatever Config.CDX14 says.
var CDX14Fields = append(append([]string{}, DefaultFields...),
	"originallength", "originaloffset", "originalfilename")
