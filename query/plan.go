package query

import (
	"strings"

	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/record"
	"github.com/outbackcdx/cdxserver/surt"
)

// plan is the resolved SURT-key scan geometry for one query (spec §4.4
// "SURT-key derivation per match type").
type plan struct {
	key       string // resolved surt(url) or surt(urlkey verbatim)
	toKey     string // RANGE only: surt(to_url), exclusive upper bound
	matchType MatchType

	// keep reports whether a decoded capture's URLKey is still within
	// this plan's match, distinguishing "stop scanning" (raw byte prefix
	// no longer holds, checked by the caller against the capture's
	// namespace-scoped byte prefix) from "keep this one" for DOMAIN,
	// where siblings like example2.com share example.com's raw prefix.
	keep func(urlkey string) bool
}

func hostURLForExtraction(u string) string {
	if strings.Contains(u, "://") {
		return u
	}
	return "http://" + u
}

func buildPlan(p *Params, opts surt.Options) (*plan, error) {
	switch p.MatchType {
	case MatchExact:
		key := p.URLKey
		if key == "" {
			k, err := surt.CanonicalizeRequest(p.URL, orDefault(p.Method, "GET"), p.RequestBody, opts)
			if err != nil {
				return nil, cmn.BadRequestf("invalid url %q: %v", p.URL, err)
			}
			key = k
		}
		return &plan{
			key:       key,
			matchType: MatchExact,
			keep:      func(urlkey string) bool { return urlkey == key },
		}, nil

	case MatchPrefix:
		key := p.URLKey
		if key == "" {
			k, err := surt.Canonicalize(p.URL, opts)
			if err != nil {
				return nil, cmn.BadRequestf("invalid url %q: %v", p.URL, err)
			}
			key = k
		}
		return &plan{
			key:       key,
			matchType: MatchPrefix,
			keep:      func(urlkey string) bool { return strings.HasPrefix(urlkey, key) },
		}, nil

	case MatchHost:
		host, err := surt.Host(hostURLForExtraction(p.URL), opts)
		if err != nil {
			return nil, cmn.BadRequestf("invalid url %q: %v", p.URL, err)
		}
		prefix := host + ")"
		return &plan{
			key:       prefix,
			matchType: MatchHost,
			keep:      func(urlkey string) bool { return strings.HasPrefix(urlkey, prefix) },
		}, nil

	case MatchDomain:
		host, err := surt.Host(hostURLForExtraction(p.URL), opts)
		if err != nil {
			return nil, cmn.BadRequestf("invalid url %q: %v", p.URL, err)
		}
		return &plan{
			key:       host,
			matchType: MatchDomain,
			keep: func(urlkey string) bool {
				return strings.HasPrefix(urlkey, host+",") || strings.HasPrefix(urlkey, host+")")
			},
		}, nil

	case MatchRange:
		fromKey, err := surt.Canonicalize(p.URL, opts)
		if err != nil {
			return nil, cmn.BadRequestf("invalid from url %q: %v", p.URL, err)
		}
		toKey, err := surt.Canonicalize(p.ToURL, opts)
		if err != nil {
			return nil, cmn.BadRequestf("invalid to url %q: %v", p.ToURL, err)
		}
		return &plan{
			key:       fromKey,
			toKey:     toKey,
			matchType: MatchRange,
			keep:      func(urlkey string) bool { return urlkey < toKey },
		}, nil
	}
	return nil, cmn.BadRequestf("unresolved matchType")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// scanStartKey is the raw byte key newCaptureIterator should position at.
func (pl *plan) scanStartKey(appendSeparator bool) []byte {
	base := record.CapturePrefixKey(pl.key)
	if appendSeparator {
		base = append(base, 0x00)
	}
	return base
}
