package surt

import "testing"

func TestCanonicalizeBasic(t *testing.T) {
	got, err := Canonicalize("http://www.EXAMPLE.com/Foo/Bar", Options{StripWWW: true})
	if err != nil {
		t.Fatal(err)
	}
	want := "com,example)/Foo/Bar"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestCanonicalizeKeepsWWW(t *testing.T) {
	got, err := Canonicalize("http://www.example.com/", Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := "com,example,www)/"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestCanonicalizeSortsQuery(t *testing.T) {
	got, err := Canonicalize("http://example.com/p?b=2&a=1&c=", Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := "com,example)/p?a=1&b=2&c="
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestCanonicalizeNormalizesPath(t *testing.T) {
	got, err := Canonicalize("http://example.com/a/b/../c//d", Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := "com,example)/a/c/d"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestCanonicalizeStripsDefaultPort(t *testing.T) {
	got, err := Canonicalize("http://example.com:80/", Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := "com,example)/"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestCanonicalizeKeepsNonDefaultPort(t *testing.T) {
	got, err := Canonicalize("http://example.com:8080/", Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := "com,example:8080)/"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestCanonicalizeNonGETAugmentsMethodAndBody(t *testing.T) {
	got, err := CanonicalizeRequest("http://example.com/login", "POST", "user=alice&pass=x", Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := "com,example)/login?__wb_method=POST&pass=x&user=alice"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestCanonicalizeInvalidURL(t *testing.T) {
	if _, err := Canonicalize("not-a-url", Options{}); err == nil {
		t.Fatal("expected error for non-absolute URL")
	}
}

func TestCanonicalizeStripsTrackingParams(t *testing.T) {
	opts := Options{TrackingParamBlocklist: map[string]struct{}{"utm_source": {}}}
	got, err := Canonicalize("http://example.com/?utm_source=x&q=1", opts)
	if err != nil {
		t.Fatal(err)
	}
	want := "com,example)/?q=1"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestHostForDomainAndHostMatch(t *testing.T) {
	h, err := Host("http://blog.example.com/", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if h != "com,example,blog" {
		t.Errorf("got %q", h)
	}
	// A DOMAIN scan on example.com must byte-prefix-match this host key.
	domain, err := Host("http://example.com/", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(h) < len(domain) || h[:len(domain)] != domain {
		t.Errorf("%q is not a prefix of %q", domain, h)
	}
}

// Invariant 1 (spec §8): surt(surt_to_url(surt(u))) == surt(u) whenever the
// inverse is defined (no www-stripping, no path/query normalization loss).
func TestRoundTripIdempotent(t *testing.T) {
	u := "http://example.com/a/b"
	key1, err := Canonicalize(u, Options{})
	if err != nil {
		t.Fatal(err)
	}
	back, err := SurtToURL(key1)
	if err != nil {
		t.Fatal(err)
	}
	key2, err := Canonicalize(back, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if key1 != key2 {
		t.Errorf("round-trip not idempotent: %q vs %q", key1, key2)
	}
}

func TestFormatTimestamp14(t *testing.T) {
	if got := FormatTimestamp14("2020", '0'); got != "20200000000000" {
		t.Errorf("got %q", got)
	}
	if got := FormatTimestamp14("2020", '9'); got != "20209999999999" {
		t.Errorf("got %q", got)
	}
	if got := FormatTimestamp14("202001011200001234", '0'); got != "20200101120000" {
		t.Errorf("got %q", got)
	}
}
