package access

import (
	"testing"

	"github.com/outbackcdx/cdxserver/index"
	"github.com/outbackcdx/cdxserver/surt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ix, err := index.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return NewStore(ix)
}

func TestCheckAccessDefaultAllowWithNoRules(t *testing.T) {
	s := openTestStore(t)
	d, err := s.CheckAccess("public", "http://example.com/", 20200101000000, 20200101000000, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("expected default-allow when no rule matches")
	}
}

func TestCheckAccessLongestPrefixWins(t *testing.T) {
	s := openTestStore(t)

	restrictivePolicyID, err := s.PutPolicy(&Policy{Name: "closed", AccessPoints: map[string]bool{}})
	if err != nil {
		t.Fatal(err)
	}
	openPolicyID, err := s.PutPolicy(&Policy{Name: "open", AccessPoints: map[string]bool{"public": true}})
	if err != nil {
		t.Fatal(err)
	}

	// Broad rule blocks the whole domain; a more specific rule under it
	// reopens one path. The longer, more specific SURT prefix must win.
	if _, err := s.PutRule(&Rule{SURTs: []string{"com,example)/"}, PolicyID: restrictivePolicyID}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutRule(&Rule{SURTs: []string{"com,example)/public"}, PolicyID: openPolicyID}); err != nil {
		t.Fatal(err)
	}

	blocked, err := s.CheckAccess("public", "http://example.com/private", 20200101000000, 20200101000000, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if blocked.Allowed {
		t.Fatal("expected the broad restrictive rule to block an unrelated path")
	}

	allowed, err := s.CheckAccess("public", "http://example.com/public/file", 20200101000000, 20200101000000, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !allowed.Allowed {
		t.Fatal("expected the longer, more specific rule to override the broad one")
	}
}

func TestCheckAccessPinnedBeatsLongerPrefix(t *testing.T) {
	s := openTestStore(t)

	closedPolicyID, err := s.PutPolicy(&Policy{Name: "closed", AccessPoints: map[string]bool{}})
	if err != nil {
		t.Fatal(err)
	}

	// A shorter but pinned rule must win over a longer, unpinned one.
	if _, err := s.PutRule(&Rule{SURTs: []string{"com,example)/"}, Pinned: true, PolicyID: closedPolicyID}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutRule(&Rule{SURTs: []string{"com,example)/public"}}); err != nil {
		t.Fatal(err)
	}

	d, err := s.CheckAccess("public", "http://example.com/public/file", 20200101000000, 20200101000000, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("expected the pinned rule to take priority over the longer, unpinned rule")
	}
}

func TestCheckAccessRespectsCapturePeriod(t *testing.T) {
	s := openTestStore(t)

	closedPolicyID, err := s.PutPolicy(&Policy{Name: "closed", AccessPoints: map[string]bool{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutRule(&Rule{
		SURTs:    []string{"com,example)/"},
		Period:   TimeRange{Start: 20190101000000, End: 20200101000000},
		PolicyID: closedPolicyID,
	}); err != nil {
		t.Fatal(err)
	}

	inside, err := s.CheckAccess("public", "http://example.com/", 20190601000000, 20200601000000, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if inside.Allowed {
		t.Fatal("expected a capture inside the rule's period to be blocked")
	}

	outside, err := s.CheckAccess("public", "http://example.com/", 20210101000000, 20210601000000, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !outside.Allowed {
		t.Fatal("expected a capture outside the rule's period to fall through to default-allow")
	}
}

func TestPutRuleRejectsUnknownPolicy(t *testing.T) {
	s := openTestStore(t)
	_, err := s.PutRule(&Rule{SURTs: []string{"com,example)/"}, PolicyID: "does-not-exist"})
	if err == nil {
		t.Fatal("expected an error for a rule referencing a nonexistent policy")
	}
}

func TestDeleteRuleRemovesPrefixIndexEntries(t *testing.T) {
	s := openTestStore(t)
	id, err := s.PutRule(&Rule{SURTs: []string{"com,example)/"}})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.DeleteRule(id)
	if err != nil || !ok {
		t.Fatalf("DeleteRule = (%v, %v)", ok, err)
	}

	d, err := s.CheckAccess("public", "http://example.com/", 20200101000000, 20200101000000, surt.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("expected deleted rule to no longer affect access decisions")
	}

	rules, err := s.ListRules()
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected no rules after delete, got %d", len(rules))
	}
}
