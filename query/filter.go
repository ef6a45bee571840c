package query

import (
	"regexp"
	"strings"

	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/record"
)

// Predicate is a single-capture test, the unit both built-in filters and
// plugin filters produce (spec §9 Design Notes: "model as a trait
// {new_filter(params) -> Predicate<Capture>}").
type Predicate func(c *record.Capture) bool

// Filter is what a plugin registers: given the raw parameter map, it
// either declines (ok=false, meaning it found nothing for it to do) or
// returns a Predicate to fold into the AND chain.
type Filter interface {
	New(params map[string][]string) (pred Predicate, ok bool, err error)
}

// Registry holds plugin filters in registration order; built-ins always
// run first; plugin order is registry order, evaluated after built-ins
// (spec §4.4).
type Registry struct {
	plugins []Filter
}

func NewRegistry(plugins ...Filter) *Registry {
	return &Registry{plugins: plugins}
}

type fieldFilter struct {
	field   string
	negate  bool
	pattern *regexp.Regexp
}

// parseBuiltinFilters compiles the `[!]<field>:<regex>` grammar (spec
// §4.4). Evaluation is short-circuit AND across every compiled filter.
func parseBuiltinFilters(specs []string) ([]fieldFilter, error) {
	out := make([]fieldFilter, 0, len(specs))
	for _, spec := range specs {
		negate := strings.HasPrefix(spec, "!")
		if negate {
			spec = spec[1:]
		}
		idx := strings.IndexByte(spec, ':')
		if idx < 0 {
			return nil, cmn.BadRequestf("malformed filter %q: expected <field>:<regex>", spec)
		}
		field, pattern := spec[:idx], spec[idx+1:]
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, cmn.BadRequestf("invalid filter regex for field %q: %v", field, err)
		}
		out = append(out, fieldFilter{field: field, negate: negate, pattern: re})
	}
	return out, nil
}

func (f fieldFilter) match(c *record.Capture) bool {
	value, ok := c.Field(f.field)
	if !ok {
		value = ""
	}
	matched := f.pattern.MatchString(value)
	if f.negate {
		return !matched
	}
	return matched
}

// buildPredicate composes the built-in field filters and every plugin
// filter that opts in, for the given raw parameter map, into one AND
// chain evaluated short-circuit per spec §4.4.
func buildPredicate(specs []string, rawParams map[string][]string, reg *Registry) (Predicate, error) {
	builtins, err := parseBuiltinFilters(specs)
	if err != nil {
		return nil, err
	}

	var pluginPreds []Predicate
	if reg != nil {
		for _, plugin := range reg.plugins {
			pred, ok, err := plugin.New(rawParams)
			if err != nil {
				return nil, cmn.WrapError(cmn.KindBadRequest, err, "plugin filter")
			}
			if ok {
				pluginPreds = append(pluginPreds, pred)
			}
		}
	}

	if len(builtins) == 0 && len(pluginPreds) == 0 {
		return func(*record.Capture) bool { return true }, nil
	}

	return func(c *record.Capture) bool {
		for _, b := range builtins {
			if !b.match(c) {
				return false
			}
		}
		for _, p := range pluginPreds {
			if !p(c) {
				return false
			}
		}
		return true
	}, nil
}
