package access

import (
	"bytes"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/teris-io/shortid"

	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/index"
	"github.com/outbackcdx/cdxserver/surt"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	nsRule        = 0x03
	nsPolicy      = 0x04
	ruleRecordTag = 'r'
	rulePrefixTag = 'x' // secondary index: SURT prefix -> rule ID
)

var idGen *shortid.Shortid

func init() {
	idGen, _ = shortid.New(1, shortid.DefaultABC, 0xC0FFEE)
}

func newID() string {
	id, err := idGen.Generate()
	if err != nil {
		// shortid only fails on worker-id/seed misconfiguration, which
		// init() above fixes at process start; this path is unreachable
		// in practice but must still return something usable.
		return time.Now().UTC().Format("20060102T150405.000000000")
	}
	return id
}

// Store is Component E: the rule/policy store plus decision evaluator for
// one collection, persisted through that collection's Index so rule edits
// replicate over the same change feed as capture writes.
type Store struct {
	ix *index.Index
}

func NewStore(ix *index.Index) *Store { return &Store{ix: ix} }

func ruleKey(id string) []byte   { return append([]byte{nsRule, ruleRecordTag}, id...) }
func policyKey(id string) []byte { return append([]byte{nsPolicy}, id...) }

func rulePrefixIndexKey(surtPrefix, ruleID string) []byte {
	key := []byte{nsRule, rulePrefixTag}
	key = append(key, escapeZero(surtPrefix)...)
	key = append(key, 0x00)
	key = append(key, ruleID...)
	return key
}

// escapeZero mirrors record.codec's escaping so a SURT prefix containing a
// literal 0x00 can't be confused with the tag's 0x00 terminator.
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

// PutRule validates rule and persists it, assigning an ID if empty.
// Validation reports every violation found rather than short-circuiting
// on the first (spec §4.5).
func (s *Store) PutRule(r *Rule) (string, error) {
	if violations := s.validateRule(r); len(violations) > 0 {
		return "", cmn.NewError(cmn.KindConflict, "invalid rule: %v", violations)
	}

	if r.ID == "" {
		r.ID = newID()
		r.Created = time.Now().UTC()
	}
	r.Modified = time.Now().UTC()

	old, _ := s.Rule(r.ID)

	body, err := jsonAPI.Marshal(r)
	if err != nil {
		return "", cmn.WrapError(cmn.KindInternal, err, "marshalling rule")
	}

	b := s.ix.BeginUpdate()
	if old != nil {
		for _, p := range old.SURTs {
			if err := b.RawDelete(rulePrefixIndexKey(p, old.ID)); err != nil {
				return "", err
			}
		}
	}
	if err := b.RawPut(ruleKey(r.ID), body); err != nil {
		return "", err
	}
	prefixes := r.SURTs
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	for _, p := range prefixes {
		if err := b.RawPut(rulePrefixIndexKey(p, r.ID), []byte(r.ID)); err != nil {
			return "", err
		}
	}
	if _, err := b.Commit(); err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *Store) validateRule(r *Rule) []string {
	var violations []string
	for _, p := range r.SURTs {
		// A SURT prefix need not be a complete key, so the only structural
		// requirement is that it can't collide with the index's own
		// separator byte.
		if containsRawZero(p) {
			violations = append(violations, "surt prefix contains raw NUL byte: "+p)
		}
	}
	if !r.Period.valid() {
		violations = append(violations, "period start must be before end")
	}
	if !r.AccessPeriod.valid() {
		violations = append(violations, "accessPeriod start must be before end")
	}
	if r.PolicyID != "" {
		if _, err := s.Policy(r.PolicyID); err != nil {
			violations = append(violations, "references missing policy "+r.PolicyID)
		}
	}
	return violations
}

func containsRawZero(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			return true
		}
	}
	return false
}

func (s *Store) Rule(id string) (*Rule, error) {
	raw, ok, err := s.ix.RawGet(ruleKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cmn.NotFoundf("no such rule %q", id)
	}
	var r Rule
	if err := jsonAPI.Unmarshal(raw, &r); err != nil {
		return nil, cmn.WrapError(cmn.KindInternal, err, "decoding rule %q", id)
	}
	return &r, nil
}

func (s *Store) DeleteRule(id string) (bool, error) {
	r, err := s.Rule(id)
	if err != nil {
		return false, nil
	}
	b := s.ix.BeginUpdate()
	if err := b.RawDelete(ruleKey(id)); err != nil {
		return false, err
	}
	prefixes := r.SURTs
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	for _, p := range prefixes {
		if err := b.RawDelete(rulePrefixIndexKey(p, id)); err != nil {
			return false, err
		}
	}
	if _, err := b.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListRules() ([]*Rule, error) {
	var rules []*Rule
	err := s.ix.RawScanPrefix([]byte{nsRule, ruleRecordTag}, func(_, value []byte) bool {
		var r Rule
		if err := jsonAPI.Unmarshal(value, &r); err == nil {
			rules = append(rules, &r)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) PutPolicy(p *Policy) (string, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	body, err := jsonAPI.Marshal(p)
	if err != nil {
		return "", cmn.WrapError(cmn.KindInternal, err, "marshalling policy")
	}
	b := s.ix.BeginUpdate()
	if err := b.RawPut(policyKey(p.ID), body); err != nil {
		return "", err
	}
	if _, err := b.Commit(); err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *Store) Policy(id string) (*Policy, error) {
	raw, ok, err := s.ix.RawGet(policyKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cmn.NotFoundf("no such policy %q", id)
	}
	var p Policy
	if err := jsonAPI.Unmarshal(raw, &p); err != nil {
		return nil, cmn.WrapError(cmn.KindInternal, err, "decoding policy %q", id)
	}
	return &p, nil
}

func (s *Store) ListPolicies() ([]*Policy, error) {
	var policies []*Policy
	err := s.ix.RawScanPrefix([]byte{nsPolicy}, func(_, value []byte) bool {
		var p Policy
		if err := jsonAPI.Unmarshal(value, &p); err == nil {
			policies = append(policies, &p)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return policies, nil
}

// matchingRuleIDs implements spec §4.5 step 2: an ordered range scan over
// the SURT-prefix secondary index, collecting every rule whose prefix is
// a byte-prefix of key. Because the index is sorted by prefix bytes, every
// candidate prefix (p <= key lexicographically) is visited in one forward
// scan that stops the instant a stored prefix exceeds key.
func (s *Store) matchingRuleIDs(key string) ([]string, error) {
	var ids []string
	seen := map[string]struct{}{}
	nsPrefix := []byte{nsRule, rulePrefixTag}
	err := s.ix.RawScanPrefix(nsPrefix, func(k, v []byte) bool {
		body := k[len(nsPrefix):]
		sep := bytes.IndexByte(body, 0x00)
		if sep < 0 {
			return true
		}
		storedPrefix := string(body[:sep])
		if storedPrefix != "" && storedPrefix > key {
			return false
		}
		if storedPrefix == "" || (len(key) >= len(storedPrefix) && key[:len(storedPrefix)] == storedPrefix) {
			id := string(v)
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		return true
	})
	return ids, err
}

// CheckAccess implements the full Decision algorithm (spec §4.5).
func (s *Store) CheckAccess(accessPoint, rawURL string, captureTime, accessTime uint64, opts surt.Options) (*Decision, error) {
	key, err := surt.Canonicalize(rawURL, opts)
	if err != nil {
		return nil, cmn.BadRequestf("invalid url %q: %v", rawURL, err)
	}

	ids, err := s.matchingRuleIDs(key)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		rule       *Rule
		prefixLen  int
	}
	var candidates []candidate
	for _, id := range ids {
		r, err := s.Rule(id)
		if err != nil {
			continue
		}
		if !r.Period.Contains(captureTime) || !r.AccessPeriod.Contains(accessTime) {
			continue
		}
		pl := r.longestPrefixLen(key)
		if pl < 0 {
			continue
		}
		candidates = append(candidates, candidate{rule: r, prefixLen: pl})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rule.Pinned != b.rule.Pinned {
			return a.rule.Pinned // pinned first
		}
		if a.prefixLen != b.prefixLen {
			return a.prefixLen > b.prefixLen // longer prefix first
		}
		return a.rule.ID < b.rule.ID // deterministic tie-break
	})

	if len(candidates) == 0 {
		return &Decision{Allowed: true}, nil
	}

	top := candidates[0].rule
	decision := &Decision{RuleID: top.ID, PolicyID: top.PolicyID, PublicComment: top.PublicComment}
	if top.PolicyID == "" {
		decision.Allowed = true
		return decision, nil
	}
	policy, err := s.Policy(top.PolicyID)
	if err != nil {
		decision.Allowed = false
		return decision, nil
	}
	decision.Allowed = policy.AccessPoints[accessPoint]
	return decision, nil
}

// CheckAccessBulk evaluates CheckAccess for each query independently,
// preserving input order (spec §4.5).
type BulkQuery struct {
	AccessPoint string
	URL         string
	CaptureTime uint64
	AccessTime  uint64
}

func (s *Store) CheckAccessBulk(queries []BulkQuery, opts surt.Options) ([]*Decision, error) {
	out := make([]*Decision, len(queries))
	for i, q := range queries {
		d, err := s.CheckAccess(q.AccessPoint, q.URL, q.CaptureTime, q.AccessTime, opts)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
