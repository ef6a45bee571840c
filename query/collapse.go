package query

import "github.com/outbackcdx/cdxserver/record"

// source is the pull-based unit the whole pipeline is built from: one
// capture at a time, ok=false at end of stream, err set on failure.
// Every stage wraps an upstream source and exposes itself as one.
type source func() (c *record.Capture, ok bool, err error)

func collapseKeyFunc(field string, n int) func(*record.Capture) string {
	return func(c *record.Capture) string {
		v, _ := c.Field(field)
		if n > 0 && len(v) > n {
			v = v[:n]
		}
		return v
	}
}

// collapseToFirstSource keeps the first capture of each run of equal
// collapse-key values — a pure streaming predicate, no buffering needed
// (spec §4.4 "Implemented as a streaming predicate").
func collapseToFirstSource(src source, keyFn func(*record.Capture) string) source {
	var lastKey string
	hasLast := false
	return func() (*record.Capture, bool, error) {
		for {
			c, ok, err := src()
			if err != nil || !ok {
				return nil, false, err
			}
			k := keyFn(c)
			if hasLast && k == lastKey {
				continue
			}
			hasLast, lastKey = true, k
			return c, true, nil
		}
	}
}

// collapseToLastSource keeps the last capture of each run, which cannot
// be a stateless predicate: it buffers exactly one capture and only
// emits it once the run's key changes or the stream ends (spec §4.4).
func collapseToLastSource(src source, keyFn func(*record.Capture) string) source {
	var buffered *record.Capture
	var bufferedKey string
	done := false
	return func() (*record.Capture, bool, error) {
		if done {
			return nil, false, nil
		}
		for {
			c, ok, err := src()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				done = true
				if buffered != nil {
					out := buffered
					buffered = nil
					return out, true, nil
				}
				return nil, false, nil
			}
			k := keyFn(c)
			if buffered == nil {
				buffered, bufferedKey = c, k
				continue
			}
			if k == bufferedKey {
				buffered = c // later capture in the same run supersedes the buffered one
				continue
			}
			out := buffered
			buffered, bufferedKey = c, k
			return out, true, nil
		}
	}
}

// filterSource applies pred, dropping non-matching captures.
func filterSource(src source, pred Predicate) source {
	return func() (*record.Capture, bool, error) {
		for {
			c, ok, err := src()
			if err != nil || !ok {
				return nil, false, err
			}
			if pred(c) {
				return c, true, nil
			}
		}
	}
}

// limitSource stops after n captures have been emitted; n<=0 means
// unlimited.
func limitSource(src source, n int) source {
	if n <= 0 {
		return src
	}
	count := 0
	return func() (*record.Capture, bool, error) {
		if count >= n {
			return nil, false, nil
		}
		c, ok, err := src()
		if err != nil || !ok {
			return nil, false, err
		}
		count++
		return c, true, nil
	}
}

func sliceSource(items []*record.Capture) source {
	i := 0
	return func() (*record.Capture, bool, error) {
		if i >= len(items) {
			return nil, false, nil
		}
		c := items[i]
		i++
		return c, true, nil
	}
}
