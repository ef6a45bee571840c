package capsrv

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/outbackcdx/cdxserver/access"
	"github.com/outbackcdx/cdxserver/query"
	"github.com/outbackcdx/cdxserver/surt"
)

// accessAdapter narrows an *access.Store down to the single method
// query.Execute needs, evaluating access at "now" the way a live replay
// request does (spec §4.5 access_period is checked against current
// access time, as opposed to the capture's own timestamp).
type accessAdapter struct {
	store *access.Store
	srv   *Server
}

func (a *accessAdapter) Allowed(accessPoint, url string, captureTime uint64) (bool, error) {
	now, err := surt.ParseTimestamp14(time.Now().UTC().Format("20060102150405"))
	if err != nil {
		return false, err
	}
	d, err := a.store.CheckAccess(accessPoint, url, captureTime, now, a.srv.SurtOpts)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// handleQueryOrStats implements GET /<coll>: a query if any recognized
// parameter is present, else the collection-stats HTML page (spec §6.1).
func (s *Server) handleQueryOrStats(ctx *fasthttp.RequestCtx, coll string) error {
	if len(ctx.QueryArgs().QueryString()) == 0 {
		return s.handleStatsHTML(ctx, coll)
	}

	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}

	maxResults := 10_000
	if s.Config != nil && s.Config.MaxNumResults > 0 {
		maxResults = s.Config.MaxNumResults
	}
	rawParams := queryValues(ctx)
	p, err := query.Parse(rawParams, maxResults)
	if err != nil {
		return err
	}

	var checker query.AccessChecker
	if s.Config != nil && s.Config.ExperimentalAccessControl && p.AccessPoint != "" {
		checker = &accessAdapter{store: s.accessStoreFor(coll, ix), srv: s}
	}

	timeout := 30 * time.Second
	cdxPlusWorkaround := false
	if s.Config != nil {
		if s.Config.QueryTimeout > 0 {
			timeout = s.Config.QueryTimeout
		}
		cdxPlusWorkaround = s.Config.CDXPlusWorkaround
	}

	res, err := query.Execute(ctx, ix, p, s.SurtOpts, s.Filters, rawParams, checker, timeout, cdxPlusWorkaround)
	if err != nil {
		return err
	}

	switch p.Output {
	case query.OutputJSON:
		ctx.SetContentType("application/json; charset=utf-8")
		return query.WriteJSON(ctx, p.Fields, res.Captures)
	case query.OutputXML:
		ctx.SetContentType("text/xml; charset=utf-8")
		return query.WriteXML(ctx, p.Fields, res.Captures)
	default:
		ctx.SetContentType("text/plain; charset=utf-8")
		return query.WriteCDX(ctx, p.Fields, p.HeaderLine, res.Captures)
	}
}

func (s *Server) handleStatsHTML(ctx *fasthttp.RequestCtx, coll string) error {
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}
	count, err := ix.EstimatedRecordCount()
	if err != nil {
		return err
	}
	ctx.SetContentType("text/html; charset=utf-8")
	fmt.Fprintf(ctx, "<html><body><h1>%s</h1><p>%d records</p><p>sequence %d</p></body></html>",
		coll, count, ix.LatestSequenceNumber())
	return nil
}
