// Package query implements the Query Planner & Executor (spec §4.4):
// translating request parameters into an iterator pipeline over an Index.
package query

import (
	"strconv"
	"strings"

	"github.com/outbackcdx/cdxserver/cmn"
)

// MatchType selects how a url/urlkey parameter resolves to a scan range.
type MatchType int

const (
	MatchDefault MatchType = iota
	MatchExact
	MatchPrefix
	MatchHost
	MatchDomain
	MatchRange
)

func parseMatchType(s string) (MatchType, bool) {
	switch strings.ToUpper(s) {
	case "", "DEFAULT":
		return MatchDefault, true
	case "EXACT":
		return MatchExact, true
	case "PREFIX":
		return MatchPrefix, true
	case "HOST":
		return MatchHost, true
	case "DOMAIN":
		return MatchDomain, true
	case "RANGE":
		return MatchRange, true
	default:
		return MatchDefault, false
	}
}

// SortMode selects the result ordering strategy.
type SortMode int

const (
	SortDefault SortMode = iota
	SortClosest
	SortReverse
)

func parseSortMode(s string) (SortMode, bool) {
	switch strings.ToUpper(s) {
	case "", "DEFAULT":
		return SortDefault, true
	case "CLOSEST":
		return SortClosest, true
	case "REVERSE":
		return SortReverse, true
	default:
		return SortDefault, false
	}
}

// Output selects the response serialization (spec §4.4 Output).
type Output int

const (
	OutputCDX Output = iota
	OutputJSON
	OutputXML
)

func parseOutput(s string) (Output, bool) {
	switch strings.ToLower(s) {
	case "", "cdx":
		return OutputCDX, true
	case "json":
		return OutputJSON, true
	case "xml":
		return OutputXML, true
	default:
		return OutputCDX, false
	}
}

// Params is the parsed, validated form of the recognized query parameters
// (spec §4.4). Fields carry their post-parse, post-validation values;
// MatchType is always resolved to a concrete value (never MatchDefault)
// by the time Parse returns successfully.
type Params struct {
	URL    string
	URLKey string

	MatchType MatchType
	Sort      SortMode

	Closest string // 14-digit timestamp, empty if unset
	From    string // 14-digit, padded
	To      string // 14-digit, padded

	// ToURL is the upper bound for MatchRange: table §4.4 specifies RANGE
	// scans as surt(from_url)..surt(to_url), a pair of URLs rather than
	// the timestamp window From/To serve for EXACT matches.
	ToURL string

	Limit int

	Filters           []string
	CollapseField     string
	CollapseN         int
	CollapseToLast    bool
	HasCollapse       bool

	Fields            []string
	Output            Output
	OmitSelfRedirects bool

	AccessPoint string
	Method      string
	RequestBody string

	HeaderLine bool
}

// Parse validates raw query parameters per spec §4.4 "Parse & validate"
// and resolves MatchType to a concrete value. values mirrors
// net/url.Values: one or more raw strings per parameter name.
func Parse(values map[string][]string, maxNumResults int) (*Params, error) {
	get := func(name string) string {
		if v := values[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	has := func(name string) bool {
		_, ok := values[name]
		return ok
	}

	p := &Params{
		URL:         get("url"),
		URLKey:      get("urlkey"),
		Method:      get("method"),
		RequestBody: get("requestBody"),
		AccessPoint: get("accesspoint"),
		Filters:     values["filter"],
	}

	if (p.URL == "") == (p.URLKey == "") {
		return nil, cmn.BadRequestf("exactly one of url or urlkey must be given")
	}

	mt, ok := parseMatchType(get("matchType"))
	if !ok {
		return nil, cmn.BadRequestf("invalid matchType %q", get("matchType"))
	}

	if mt == MatchDefault {
		switch {
		case strings.HasSuffix(p.URL, "*"):
			mt = MatchPrefix
			p.URL = strings.TrimSuffix(p.URL, "*")
		case strings.HasPrefix(p.URL, "*."):
			mt = MatchDomain
			p.URL = strings.TrimPrefix(p.URL, "*.")
		default:
			mt = MatchExact
		}
	}
	p.MatchType = mt

	sortMode, ok := parseSortMode(get("sort"))
	if !ok {
		return nil, cmn.BadRequestf("invalid sort %q", get("sort"))
	}

	closest := get("closest")
	if sortMode == SortClosest && closest == "" {
		sortMode = SortDefault
	}
	if sortMode == SortClosest {
		if mt != MatchExact {
			return nil, cmn.BadRequestf("sort=closest requires matchType=exact")
		}
	}
	if sortMode == SortReverse && mt != MatchExact {
		return nil, cmn.BadRequestf("sort=reverse requires matchType=exact")
	}
	p.Sort = sortMode
	p.Closest = closest

	if mt == MatchRange {
		toURL := get("to")
		if toURL == "" {
			return nil, cmn.BadRequestf("matchType=range requires to")
		}
		p.ToURL = toURL
	} else {
		from, to := get("from"), get("to")
		if (from != "" || to != "") && mt != MatchExact {
			return nil, cmn.BadRequestf("from/to filtering is only supported with matchType=exact")
		}
		if (from != "" || to != "") && sortMode == SortClosest {
			return nil, cmn.BadRequestf("from/to filtering is not supported with sort=closest")
		}
		if from != "" {
			p.From = padTimestamp(from, '0')
		}
		if to != "" {
			p.To = padTimestamp(to, '9')
		}
	}

	limit := maxNumResults
	if l := get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return nil, cmn.BadRequestf("invalid limit %q", l)
		}
		if n > 0 && (maxNumResults == 0 || n < maxNumResults) {
			limit = n
		}
	}
	p.Limit = limit

	if has("collapseToFirst") {
		field, n, err := parseCollapseSpec(get("collapseToFirst"))
		if err != nil {
			return nil, err
		}
		p.HasCollapse, p.CollapseField, p.CollapseN = true, field, n
	} else if has("collapse") {
		field, n, err := parseCollapseSpec(get("collapse"))
		if err != nil {
			return nil, err
		}
		p.HasCollapse, p.CollapseField, p.CollapseN = true, field, n
	} else if has("collapseToLast") {
		field, n, err := parseCollapseSpec(get("collapseToLast"))
		if err != nil {
			return nil, err
		}
		p.HasCollapse, p.CollapseToLast, p.CollapseField, p.CollapseN = true, true, field, n
	}

	if fl := get("fl"); fl != "" {
		p.Fields = strings.Split(fl, ",")
	}

	out, ok := parseOutput(get("output"))
	if !ok {
		return nil, cmn.BadRequestf("invalid output %q", get("output"))
	}
	p.Output = out

	p.OmitSelfRedirects = get("omitSelfRedirects") == "1" || get("omitSelfRedirects") == "true"
	p.HeaderLine = true

	return p, nil
}

// parseCollapseSpec parses "<field>[:<N>]"; a bare field name with no
// colon means no truncation. An empty spec is BadRequest (spec §9 open
// question: "collapse without a field name" is not given a meaning).
func parseCollapseSpec(spec string) (field string, n int, err error) {
	if spec == "" {
		return "", 0, cmn.BadRequestf("collapse requires a field name")
	}
	parts := strings.SplitN(spec, ":", 2)
	field = parts[0]
	if field == "" {
		return "", 0, cmn.BadRequestf("collapse requires a field name")
	}
	if len(parts) == 2 {
		n, err = strconv.Atoi(parts[1])
		if err != nil || n < 0 {
			return "", 0, cmn.BadRequestf("invalid collapse length %q", parts[1])
		}
	}
	return field, n, nil
}

func padTimestamp(s string, pad byte) string {
	if len(s) >= 14 {
		return s[:14]
	}
	return s + strings.Repeat(string(pad), 14-len(s))
}
