package capsrv

import (
	"testing"

	"github.com/outbackcdx/cdxserver/surt"
)

func TestCaptureFromCDXFields11(t *testing.T) {
	fields := []string{
		"com,example)/", "20200101000000", "http://example.com/", "text/html",
		"200", "ABCDEF", "-", "-", "1024", "512", "example.warc.gz",
	}
	c, err := captureFromCDXFields(fields, false, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if c.URLKey != "com,example)/" || c.Timestamp != 20200101000000 {
		t.Fatalf("unexpected key/timestamp: %+v", c)
	}
	if c.MimeType != "text/html" || c.Status != 200 || c.Digest != "ABCDEF" {
		t.Fatalf("unexpected fields: %+v", c)
	}
	if c.RedirectURL != "" || c.RobotFlags != "" {
		t.Fatalf("expected hyphens to decode to empty strings: %+v", c)
	}
	if c.Length != 1024 || c.Offset != 512 || c.Filename != "example.warc.gz" {
		t.Fatalf("unexpected locator fields: %+v", c)
	}
	if c.HasOriginalVariant {
		t.Fatalf("11-field line should not set HasOriginalVariant")
	}
}

func TestCaptureFromCDXFields9(t *testing.T) {
	fields := []string{
		"com,example)/a", "20200101000000", "http://example.com/a", "text/html",
		"200", "ABCDEF", "-", "512", "example.warc.gz",
	}
	c, err := captureFromCDXFields(fields, false, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if c.Length != 0 {
		t.Fatalf("9-field schema has no length field, got %d", c.Length)
	}
	if c.Offset != 512 || c.Filename != "example.warc.gz" {
		t.Fatalf("unexpected locator fields: %+v", c)
	}
}

func TestCaptureFromCDXFields14(t *testing.T) {
	fields := []string{
		"com,example)/", "20200101000000", "http://example.com/", "text/html",
		"200", "ABCDEF", "-", "-", "1024", "512", "example.warc.gz",
		"2048", "1024", "original.warc.gz",
	}
	c, err := captureFromCDXFields(fields, false, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !c.HasOriginalVariant {
		t.Fatalf("14-field line should set HasOriginalVariant")
	}
	if c.OriginalLength != 2048 || c.OriginalOffset != 1024 || c.OriginalFilename != "original.warc.gz" {
		t.Fatalf("unexpected original-variant fields: %+v", c)
	}
}

func TestCaptureFromCDXFieldsRecanonicalize(t *testing.T) {
	fields := []string{
		"garbage-key", "20200101000000", "http://WWW.Example.com/Path", "text/html",
		"200", "-", "-", "-", "0", "0", "a.warc.gz",
	}
	c, err := captureFromCDXFields(fields, true, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if c.URLKey != "com,example,www)/Path" {
		t.Fatalf("recanonicalize should recompute urlkey from original, got %q", c.URLKey)
	}
}

func TestCaptureFromCDXFieldsRejectsBadFieldCount(t *testing.T) {
	_, err := captureFromCDXFields([]string{"a", "b"}, false, surt.Options{})
	if err == nil {
		t.Fatal("expected an error for an unrecognized field count")
	}
}
