package record

import (
	"bytes"
	"testing"
)

func sampleCapture() *Capture {
	return &Capture{
		URLKey:      "com,example)/",
		Timestamp:   20200101000000,
		OriginalURL: "http://example.com/",
		MimeType:    "text/html",
		Status:      200,
		Digest:      "ABCD1234",
		RedirectURL: "",
		RobotFlags:  "-",
		Length:      1024,
		Offset:      500,
		Filename:    "example.warc.gz",
	}
}

// Invariant 3 (spec §8): decode(encode(c)) == c.
func TestCodecRoundTrip(t *testing.T) {
	c := sampleCapture()
	key := EncodeCaptureKey(c.URLKey, c.Timestamp, c.Filename, c.Offset)
	val := EncodeCaptureValue(c)
	got, err := DecodeCapture(key, val)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *c {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
}

func TestCodecRoundTripWithOriginalVariant(t *testing.T) {
	c := sampleCapture()
	c.HasOriginalVariant = true
	c.OriginalLength = 2048
	c.OriginalOffset = 999
	c.OriginalFilename = "original.warc"

	key := EncodeCaptureKey(c.URLKey, c.Timestamp, c.Filename, c.Offset)
	val := EncodeCaptureValue(c)
	got, err := DecodeCapture(key, val)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *c {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
}

func TestCodecUnknownVersion(t *testing.T) {
	c := sampleCapture()
	key := EncodeCaptureKey(c.URLKey, c.Timestamp, c.Filename, c.Offset)
	val := EncodeCaptureValue(c)
	val[0] = 0xFF
	_, err := DecodeCapture(key, val)
	if err == nil {
		t.Fatal("expected UnknownRecordVersion error")
	}
}

// Invariant 2 (spec §8): codec.key(a) < codec.key(b) iff the tuple compares
// less under component-wise ordering.
func TestByteOrderEquivalence(t *testing.T) {
	cases := []struct {
		a, b *Capture
	}{
		{
			a: &Capture{URLKey: "com,example)/a", Timestamp: 1, Filename: "f", Offset: 0},
			b: &Capture{URLKey: "com,example)/b", Timestamp: 1, Filename: "f", Offset: 0},
		},
		{
			a: &Capture{URLKey: "com,example)/a", Timestamp: 1, Filename: "f", Offset: 0},
			b: &Capture{URLKey: "com,example)/a", Timestamp: 2, Filename: "f", Offset: 0},
		},
		{
			a: &Capture{URLKey: "com,example)/a", Timestamp: 1, Filename: "f", Offset: 0},
			b: &Capture{URLKey: "com,example)/a", Timestamp: 1, Filename: "g", Offset: 0},
		},
		{
			a: &Capture{URLKey: "com,example)/a", Timestamp: 1, Filename: "f", Offset: 0},
			b: &Capture{URLKey: "com,example)/a", Timestamp: 1, Filename: "f", Offset: 1},
		},
	}
	for _, tc := range cases {
		ka := EncodeCaptureKey(tc.a.URLKey, tc.a.Timestamp, tc.a.Filename, tc.a.Offset)
		kb := EncodeCaptureKey(tc.b.URLKey, tc.b.Timestamp, tc.b.Filename, tc.b.Offset)
		if bytes.Compare(ka, kb) >= 0 {
			t.Errorf("expected key(%+v) < key(%+v)", tc.a, tc.b)
		}
		if !PrimaryKeyLess(tc.a, tc.b) {
			t.Errorf("test case itself is not ordered: %+v vs %+v", tc.a, tc.b)
		}
	}
}

func TestAliasCodecRoundTrip(t *testing.T) {
	key := EncodeAliasKey("com,example,www)/")
	val := EncodeAliasValue("com,example)/")
	a, err := DecodeAlias(key, val)
	if err != nil {
		t.Fatal(err)
	}
	if a.AliasSURT != "com,example,www)/" || a.TargetSURT != "com,example)/" {
		t.Errorf("got %+v", a)
	}
}

func TestEscapeZeroInURLKey(t *testing.T) {
	urlkey := "com,example)/a\x00b"
	key := EncodeCaptureKey(urlkey, 1, "f.warc", 0)
	got, ts, filename, offset, err := DecodeCaptureKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if got != urlkey || ts != 1 || filename != "f.warc" || offset != 0 {
		t.Errorf("got urlkey=%q ts=%d filename=%q offset=%d", got, ts, filename, offset)
	}
}
