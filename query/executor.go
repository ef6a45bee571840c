package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/sync/errgroup"

	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/index"
	"github.com/outbackcdx/cdxserver/record"
	"github.com/outbackcdx/cdxserver/surt"
)

// AccessChecker is the narrow interface the executor needs from
// Component E; capsrv wires an *access.Store adapter into it so query
// stays independent of the access package.
type AccessChecker interface {
	Allowed(accessPoint, url string, captureTime uint64) (bool, error)
}

// Result is the outcome of Execute: the final capture slice in output
// order, plus metadata the HTTP layer needs to render a response.
type Result struct {
	Captures        []*record.Capture
	ResolvedByAlias bool
	RequestedKey    string
	Truncated       bool
}

// Execute runs the full pipeline described in spec §4.4: alias
// resolution, scan, timestamp window, user filters, self-redirect
// omission, collapse, limit, with an optional access-control filter and
// a %20/+ retry workaround.
func Execute(ctx context.Context, ix *index.Index, p *Params, opts surt.Options, reg *Registry, rawParams map[string][]string, access AccessChecker, timeout time.Duration, cdxPlusWorkaround bool) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := execute(ctx, ix, p, opts, reg, rawParams, access)
	if err != nil {
		return nil, err
	}

	if len(res.Captures) == 0 && cdxPlusWorkaround && p.URL != "" && (strings.Contains(p.URL, "%20") || strings.Contains(p.URL, " ")) {
		retryP := *p
		retryP.URL = strings.ReplaceAll(strings.ReplaceAll(p.URL, "%20", "+"), " ", "+")
		retryRes, retryErr := execute(ctx, ix, &retryP, opts, reg, rawParams, access)
		if retryErr == nil {
			return retryRes, nil
		}
	}

	return res, nil
}

func execute(ctx context.Context, ix *index.Index, p *Params, opts surt.Options, reg *Registry, rawParams map[string][]string, access AccessChecker) (*Result, error) {
	pl, err := buildPlan(p, opts)
	if err != nil {
		return nil, err
	}

	requestedKey := pl.key
	resolvedByAlias := false
	if pl.matchType == MatchExact || pl.matchType == MatchPrefix {
		if target, found := ix.ResolveAlias(pl.key); found {
			resolvedByAlias = true
			pl = rebindPlanKey(pl, target)
		}
	}

	var captures []*record.Capture
	if p.Sort == SortClosest {
		captures, err = closestScan(ctx, ix, pl, p.Closest, p.Limit)
	} else {
		captures, err = rangeScan(ctx, ix, pl, p.Sort == SortReverse)
	}
	if err != nil {
		return nil, err
	}

	src := sliceSource(captures)
	src = filterSource(src, timestampWindowPredicate(p.From, p.To))

	userPred, err := buildPredicate(p.Filters, rawParams, reg)
	if err != nil {
		return nil, err
	}
	src = filterSource(src, userPred)

	if p.OmitSelfRedirects {
		cache := newRedirectKeyCache(opts)
		src = filterSource(src, func(c *record.Capture) bool {
			if c.RedirectURL == "" {
				return true
			}
			redirectKey, ok := cache.canonicalize(c.RedirectURL)
			if !ok {
				return true
			}
			return redirectKey != c.URLKey
		})
	}

	if access != nil && p.AccessPoint != "" {
		src = filterSource(src, func(c *record.Capture) bool {
			allowed, err := access.Allowed(p.AccessPoint, c.OriginalURL, c.Timestamp)
			if err != nil {
				return false
			}
			return allowed
		})
	}

	if p.HasCollapse {
		keyFn := collapseKeyFunc(p.CollapseField, p.CollapseN)
		if p.CollapseToLast {
			src = collapseToLastSource(src, keyFn)
		} else {
			src = collapseToFirstSource(src, keyFn)
		}
	}

	src = limitSource(src, p.Limit)

	var out []*record.Capture
	truncated := false
	for {
		select {
		case <-ctx.Done():
			truncated = true
		default:
		}
		if truncated {
			break
		}
		c, ok, err := src()
		if err != nil {
			return nil, cmn.WrapError(cmn.KindStorageError, err, "executing query")
		}
		if !ok {
			break
		}
		out = append(out, c)
	}

	return &Result{
		Captures:        out,
		ResolvedByAlias: resolvedByAlias,
		RequestedKey:    requestedKey,
		Truncated:       truncated,
	}, nil
}

// rebindPlanKey rebuilds scan bounds around a substituted (alias-resolved)
// key. Only called for MatchExact/MatchPrefix, the two match types whose
// keep/stopCondition closures are defined purely in terms of pl.key.
func rebindPlanKey(pl *plan, newKey string) *plan {
	if pl.matchType == MatchExact {
		return &plan{key: newKey, matchType: MatchExact, keep: func(uk string) bool { return uk == newKey }}
	}
	return &plan{key: newKey, matchType: MatchPrefix, keep: func(uk string) bool { return strings.HasPrefix(uk, newKey) }}
}

func timestampWindowPredicate(from, to string) Predicate {
	if from == "" && to == "" {
		return func(*record.Capture) bool { return true }
	}
	return func(c *record.Capture) bool {
		ts := fmt.Sprintf("%014d", c.Timestamp)
		if from != "" && ts < from {
			return false
		}
		if to != "" && ts > to {
			return false
		}
		return true
	}
}

func (pl *plan) stopCondition(urlkey string) bool {
	switch pl.matchType {
	case MatchExact:
		return urlkey != pl.key
	case MatchPrefix, MatchHost, MatchDomain:
		return !strings.HasPrefix(urlkey, pl.key)
	case MatchRange:
		return urlkey >= pl.toKey
	}
	return true
}

// rangeScan performs a single forward or reverse iteration bounded by the
// plan's scan geometry.
func rangeScan(ctx context.Context, ix *index.Index, pl *plan, reverse bool) ([]*record.Capture, error) {
	start := pl.scanStartKey(pl.matchType == MatchExact)
	var it *index.CaptureIterator
	if reverse {
		// position at the end of the exact-match range: smallest key
		// strictly greater than every key in the range sorts just past it
		endExclusive := append(append([]byte{}, start...), 0xFF)
		it = ix.CapturesAfterReverse(endExclusive)
	} else {
		it = ix.CapturesAfter(start)
	}
	defer it.Close()

	var out []*record.Capture
	for {
		select {
		case <-ctx.Done():
			return out, nil
		default:
		}
		c, ok := it.Next()
		if !ok {
			break
		}
		if pl.stopCondition(c.URLKey) {
			break
		}
		if !pl.keep(c.URLKey) {
			continue
		}
		out = append(out, c)
	}
	return out, it.Err()
}

// closestScan implements spec §4.4 "Closest-in-time": concurrent forward
// and reverse scans from the same anchor, merged by ascending |ts-closest|
// with ties broken by ascending timestamp. The two scans are primed
// concurrently via errgroup; the merge consuming their buffered output is
// inherently sequential (a single result stream).
func closestScan(ctx context.Context, ix *index.Index, pl *plan, closest string, limit int) ([]*record.Capture, error) {
	closestTs, err := surt.ParseTimestamp14(closest)
	if err != nil {
		return nil, cmn.BadRequestf("invalid closest timestamp %q: %v", closest, err)
	}

	anchor := record.EncodeCaptureKey(pl.key, closestTs, "", 0)

	var fwdIt, revIt *index.CaptureIterator
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		fwdIt = ix.CapturesAfter(anchor)
		return nil
	})
	g.Go(func() error {
		revIt = ix.CapturesAfterReverse(anchor)
		return nil
	})
	_ = g.Wait()
	defer fwdIt.Close()
	defer revIt.Close()

	fwd := &scanSide{it: fwdIt, key: pl.key}
	rev := &scanSide{it: revIt, key: pl.key}

	var out []*record.Capture
	seen := map[string]struct{}{}
	for limit <= 0 || len(out) < limit {
		select {
		case <-ctx.Done():
			return out, nil
		default:
		}
		fc, fok := fwd.peek()
		rc, rok := rev.peek()
		if !fok && !rok {
			break
		}

		var pick *record.Capture
		var pickSide *scanSide
		switch {
		case fok && !rok:
			pick, pickSide = fc, fwd
		case !fok && rok:
			pick, pickSide = rc, rev
		default:
			fd := absDiffU64(fc.Timestamp, closestTs)
			rd := absDiffU64(rc.Timestamp, closestTs)
			if fd < rd || (fd == rd && fc.Timestamp <= rc.Timestamp) {
				pick, pickSide = fc, fwd
			} else {
				pick, pickSide = rc, rev
			}
		}
		pickSide.pop()

		tuple := fmt.Sprintf("%d|%s|%d", pick.Timestamp, pick.Filename, pick.Offset)
		if _, dup := seen[tuple]; dup {
			continue
		}
		seen[tuple] = struct{}{}
		out = append(out, pick)
	}
	if err := fwd.it.Err(); err != nil {
		return nil, err
	}
	if err := rev.it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanSide struct {
	it       *index.CaptureIterator
	key      string
	buffered *record.Capture
	done     bool
}

func (s *scanSide) peek() (*record.Capture, bool) {
	if s.buffered != nil {
		return s.buffered, true
	}
	if s.done {
		return nil, false
	}
	c, ok := s.it.Next()
	if !ok || c.URLKey != s.key {
		s.done = true
		return nil, false
	}
	s.buffered = c
	return c, true
}

func (s *scanSide) pop() { s.buffered = nil }

func absDiffU64(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// redirectKeyCache memoizes surt.Canonicalize(redirectURL) by an xxhash
// fingerprint of the raw URL: omitSelfRedirects runs once per capture in
// the result stream, and long scans tend to see the same handful of
// redirect targets (a site's canonical homepage, a login page) over and
// over, so this turns most of them into a map lookup instead of a full
// canonicalization pass.
type redirectKeyCache struct {
	opts  surt.Options
	byKey map[uint64]redirectKeyEntry
}

type redirectKeyEntry struct {
	url string // the original URL that produced key, to guard against collisions
	key string
	ok  bool
}

func newRedirectKeyCache(opts surt.Options) *redirectKeyCache {
	return &redirectKeyCache{opts: opts, byKey: make(map[uint64]redirectKeyEntry)}
}

func (c *redirectKeyCache) canonicalize(rawURL string) (key string, ok bool) {
	h := xxhash.ChecksumString64(rawURL)
	if e, hit := c.byKey[h]; hit && e.url == rawURL {
		return e.key, e.ok
	}
	key, err := surt.Canonicalize(rawURL, c.opts)
	entry := redirectKeyEntry{url: rawURL, key: key, ok: err == nil}
	c.byKey[h] = entry
	return entry.key, entry.ok
}
