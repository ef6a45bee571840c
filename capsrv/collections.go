package capsrv

import (
	"fmt"

	"github.com/valyala/fasthttp"
)

// handleListCollections implements GET /api/collections.
func (s *Server) handleListCollections(ctx *fasthttp.RequestCtx) error {
	names, err := s.DataStore.ListCollections()
	if err != nil {
		return err
	}
	ctx.SetContentType("application/json; charset=utf-8")
	return jsonAPI.NewEncoder(ctx).Encode(names)
}

// handleDashboard serves the bare-bones root dashboard (spec §6.1 GET /).
// The real dashboard HTML/JS is explicitly out of core (spec §1); this is
// just enough for an operator hitting "/" with a browser to see the node
// is alive and which collections it holds.
func (s *Server) handleDashboard(ctx *fasthttp.RequestCtx) error {
	names, err := s.DataStore.ListCollections()
	if err != nil {
		return err
	}
	ctx.SetContentType("text/html; charset=utf-8")
	fmt.Fprintf(ctx, "<html><body><h1>cdxserver</h1><ul>")
	for _, n := range names {
		fmt.Fprintf(ctx, "<li><a href=\"/%s/stats\">%s</a></li>", n, n)
	}
	fmt.Fprintf(ctx, "</ul></body></html>")
	return nil
}
