package capsrv

import (
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/outbackcdx/cdxserver/record"
)

// handleStats implements GET /<coll>/stats: a JSON view of the engine's
// properties plus estimated record count (spec §6.1).
func (s *Server) handleStats(ctx *fasthttp.RequestCtx, coll string) error {
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}
	count, err := ix.EstimatedRecordCount()
	if err != nil {
		return err
	}
	ctx.SetContentType("application/json; charset=utf-8")
	return jsonAPI.NewEncoder(ctx).Encode(map[string]interface{}{
		"name":                  coll,
		"estimatedRecordCount":  count,
		"latestSequenceNumber":  ix.LatestSequenceNumber(),
	})
}

// handleDumpCaptures implements GET /<coll>/captures?key=&limit=: a raw
// capture dump after key, for operator tooling and audits (spec §6.1).
func (s *Server) handleDumpCaptures(ctx *fasthttp.RequestCtx, coll string) error {
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}
	key := string(ctx.QueryArgs().Peek("key"))
	limit := queryInt(ctx, "limit", 1000)

	startKey := record.CapturePrefixKey(key)
	it := ix.CapturesAfter(startKey)
	defer it.Close()

	ctx.SetContentType("text/plain; charset=utf-8")
	n := 0
	for n < limit {
		c, ok := it.Next()
		if !ok {
			break
		}
		fmt.Fprintf(ctx, "%s %014d %s %s\n", c.URLKey, c.Timestamp, c.Filename, c.Digest)
		n++
	}
	return it.Err()
}

// handleDumpAliases implements GET /<coll>/aliases?key=&limit=.
func (s *Server) handleDumpAliases(ctx *fasthttp.RequestCtx, coll string) error {
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}
	key := string(ctx.QueryArgs().Peek("key"))
	limit := queryInt(ctx, "limit", 1000)

	it, err := ix.ListAliases(key)
	if err != nil {
		return err
	}
	defer it.Close()

	ctx.SetContentType("text/plain; charset=utf-8")
	n := 0
	for n < limit {
		a, ok := it.Next()
		if !ok {
			break
		}
		fmt.Fprintf(ctx, "%s -> %s\n", a.AliasSURT, a.TargetSURT)
		n++
	}
	return nil
}
