// Package surt implements the Sort-friendly URI Reordering Transform: the
// canonicalization that makes lexicographic byte-order over stored keys
// equivalent to semantic URL matching (exact, prefix, host, domain).
//
// The transform is pure and deterministic for a fixed Options value;
// changing Options changes every key it produces, so changing
// configuration in a running server is a data migration, never a
// silent behavior change (spec §4.1).
package surt

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Options configures the canonicalizer. The zero value is the most
// conservative (least destructive) configuration.
type Options struct {
	StripWWW          bool
	LowercasePath     bool
	StripSessionIDs   bool
	TrackingParamBlocklist map[string]struct{}
}

var defaultSessionIDParams = map[string]struct{}{
	"jsessionid":      {},
	"phpsessid":       {},
	"aspsessionid":    {},
	"sid":             {},
	"sessionid":       {},
	"osessionid":      {},
}

var defaultPortByScheme = map[string]string{
	"http":  "80",
	"https": "443",
}

// Canonicalize produces the SURT key for a plain GET of rawurl.
func Canonicalize(rawurl string, opts Options) (string, error) {
	return CanonicalizeRequest(rawurl, "GET", "", opts)
}

// CanonicalizeRequest implements spec §4.1 steps 1-7, including the
// non-GET augmentation in step 7: the request body is parsed as
// application/x-www-form-urlencoded and its pairs, plus a synthetic
// __wb_method=<METHOD> pair, are folded into the query before sorting.
func CanonicalizeRequest(rawurl, method, requestBody string, opts Options) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", fmt.Errorf("surt: %w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("surt: %w: %q is not absolute", ErrInvalidURL, rawurl)
	}

	host, err := Host(rawurl, opts)
	if err != nil {
		return "", err
	}

	path := normalizePath(u.EscapedPath())
	if opts.LowercasePath {
		path = strings.ToLower(path)
	}
	if path == "" {
		path = "/"
	}

	query, err := canonicalQuery(u.RawQuery, method, requestBody, opts)
	if err != nil {
		return "", err
	}

	key := host + ")" + path
	if query != "" {
		key += "?" + query
	}
	return key, nil
}

// Host returns the reversed, comma-joined, paren-free host portion of the
// SURT key: "www.example.com" -> "com,example,www" (or "com,example" with
// StripWWW). It is the basis for both HOST match (caller appends ")") and
// DOMAIN match (caller uses it bare so subdomains sharing the prefix also
// match).
func Host(rawurl string, opts Options) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", fmt.Errorf("surt: %w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("surt: %w: %q is not absolute", ErrInvalidURL, rawurl)
	}

	hostname := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == defaultPortByScheme[strings.ToLower(u.Scheme)] {
		port = ""
	}

	labels := strings.Split(hostname, ".")
	if opts.StripWWW && len(labels) > 1 && labels[0] == "www" {
		labels = labels[1:]
	}
	reverse(labels)
	host := strings.Join(labels, ",")
	if port != "" {
		host += ":" + port
	}
	return host, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// normalizePath resolves "." and ".." segments and collapses repeated
// slashes, leaving a trailing slash exactly as given (spec step 5).
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	trailingSlash := strings.HasSuffix(p, "/")
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	result := "/" + strings.Join(out, "/")
	if trailingSlash && !strings.HasSuffix(result, "/") {
		result += "/"
	}
	return result
}

// canonicalQuery strips tracking/session params, folds in a POST body and
// __wb_method marker for non-GET requests, and sorts the remaining pairs
// lexicographically, preserving empty values (spec steps 6-7).
func canonicalQuery(rawQuery, method, requestBody string, opts Options) (string, error) {
	pairs := splitQueryPairs(rawQuery)

	if !strings.EqualFold(method, "GET") && method != "" {
		pairs = append(pairs, splitQueryPairs(requestBody)...)
		pairs = append(pairs, [2]string{"__wb_method", strings.ToUpper(method)})
	}

	filtered := pairs[:0]
	for _, kv := range pairs {
		key := strings.ToLower(kv[0])
		if _, blocked := opts.TrackingParamBlocklist[key]; blocked {
			continue
		}
		if opts.StripSessionIDs {
			if _, isSession := defaultSessionIDParams[key]; isSession {
				continue
			}
		}
		filtered = append(filtered, kv)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i][0] != filtered[j][0] {
			return filtered[i][0] < filtered[j][0]
		}
		return filtered[i][1] < filtered[j][1]
	})

	parts := make([]string, len(filtered))
	for i, kv := range filtered {
		if kv[1] == "" {
			parts[i] = kv[0] + "="
		} else {
			parts[i] = kv[0] + "=" + kv[1]
		}
	}
	return strings.Join(parts, "&"), nil
}

// splitQueryPairs splits a raw query/body string into ordered key-value
// pairs without using url.ParseQuery, which discards ordering and does not
// preserve empty values the way spec step 6 requires.
func splitQueryPairs(raw string) [][2]string {
	if raw == "" {
		return nil
	}
	segs := strings.Split(raw, "&")
	out := make([][2]string, 0, len(segs))
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		var k, v string
		if idx := strings.IndexByte(seg, '='); idx >= 0 {
			k, v = seg[:idx], seg[idx+1:]
		} else {
			k = seg
		}
		k, _ = url.QueryUnescape(k)
		v, _ = url.QueryUnescape(v)
		out = append(out, [2]string{k, v})
	}
	return out
}

// SurtToURL approximately inverts a SURT key back into a fetchable URL.
// The inverse is only defined for keys produced with StripWWW disabled and
// no path/query normalization losses; spec invariant 1 (round-trip) only
// claims idempotency for URLs where the inverse is defined.
func SurtToURL(key string) (string, error) {
	paren := strings.IndexByte(key, ')')
	if paren < 0 {
		return "", fmt.Errorf("surt: %w: %q has no ')' separator", ErrInvalidURL, key)
	}
	hostPart, rest := key[:paren], key[paren+1:]
	labels := strings.Split(hostPart, ",")
	reverse(labels)
	host := strings.Join(labels, ".")
	if rest == "" {
		rest = "/"
	}
	return "http://" + host + rest, nil
}

var ErrInvalidURL = invalidURLError{}

type invalidURLError struct{}

func (invalidURLError) Error() string { return "invalid URL" }

// ParseOptions builds Options from the recognized configuration map
// described in spec §4.1: {strip_www, lowercase_path, strip_session_ids,
// tracking_param_blocklist}.
func ParseOptions(m map[string]interface{}) Options {
	opts := Options{TrackingParamBlocklist: map[string]struct{}{}}
	if v, ok := m["strip_www"].(bool); ok {
		opts.StripWWW = v
	}
	if v, ok := m["lowercase_path"].(bool); ok {
		opts.LowercasePath = v
	}
	if v, ok := m["strip_session_ids"].(bool); ok {
		opts.StripSessionIDs = v
	}
	if v, ok := m["tracking_param_blocklist"].([]string); ok {
		for _, p := range v {
			opts.TrackingParamBlocklist[strings.ToLower(p)] = struct{}{}
		}
	}
	return opts
}

// FormatTimestamp14 pads or truncates a timestamp string to 14 digits, the
// way the query planner normalizes `from`/`to` (spec §4.4 step 3), filling
// missing trailing digits with pad.
func FormatTimestamp14(s string, pad byte) string {
	if len(s) >= 14 {
		return s[:14]
	}
	return s + strings.Repeat(string(pad), 14-len(s))
}

// ParseTimestamp14 validates a 14-digit timestamp is within the invariant
// range of spec §3.1.
func ParseTimestamp14(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid timestamp %q", ErrInvalidURL, s)
	}
	if n > 99999999999999 {
		return 0, fmt.Errorf("%w: timestamp %q out of range", ErrInvalidURL, s)
	}
	return n, nil
}
