// Package capsrv hosts the HTTP routes of spec §6.1 on top of fasthttp.
// The framing itself (listening socket, routing table, CLI flags that
// choose a port) is the "external collaborator" spec §1 calls out of
// core; this package is the defined interface those collaborators talk
// to: plain functions from (collection name, parsed params) to a
// response, wired here into fasthttp.RequestHandler only so the daemon
// has something to actually listen with.
package capsrv

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/valyala/fasthttp"

	"github.com/outbackcdx/cdxserver/access"
	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/index"
	"github.com/outbackcdx/cdxserver/query"
	"github.com/outbackcdx/cdxserver/store"
	"github.com/outbackcdx/cdxserver/surt"
)

// Server wires the DataStore (G), Query Planner (D), and Access Control
// (E) components into fasthttp request handlers.
type Server struct {
	Config   *cmn.Config
	DataStore *store.DataStore
	SurtOpts  surt.Options
	Filters   *query.Registry

	accessMu     sync.Mutex
	accessStores map[string]*access.Store
}

// NewServer constructs a Server ready to Handle requests.
func NewServer(cfg *cmn.Config, ds *store.DataStore, opts surt.Options, filters *query.Registry) *Server {
	return &Server{
		Config:       cfg,
		DataStore:    ds,
		SurtOpts:     opts,
		Filters:      filters,
		accessStores: map[string]*access.Store{},
	}
}

// accessStoreFor returns the (lazily created) access.Store layered over
// ix, caching one per collection name the way store.DataStore caches
// index.Index handles.
func (s *Server) accessStoreFor(name string, ix *index.Index) *access.Store {
	s.accessMu.Lock()
	defer s.accessMu.Unlock()
	if as, ok := s.accessStores[name]; ok {
		return as
	}
	as := access.NewStore(ix)
	s.accessStores[name] = as
	return as
}

// Handle is the fasthttp.RequestHandler entrypoint. It never panics out to
// fasthttp: every handler below returns an error that Handle translates
// into a status code via cmn.Kind.HTTPStatus, matching spec §7's
// propagation rule that parse/validation errors surface as BadRequest
// immediately.
func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")

	err := s.route(ctx)
	if err != nil {
		writeError(ctx, err)
	}

	if glog.V(2) {
		glog.Infof("%s %s -> %d (%s)", ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start))
	}
}

func (s *Server) route(ctx *fasthttp.RequestCtx) error {
	path := strings.Trim(string(ctx.Path()), "/")
	segs := splitPath(path)
	method := string(ctx.Method())

	switch {
	case len(segs) == 0:
		return s.handleDashboard(ctx)
	case len(segs) == 1 && segs[0] == "" && method == "GET":
		return s.handleDashboard(ctx)
	case len(segs) == 2 && segs[0] == "api" && segs[1] == "collections" && method == "GET":
		return s.handleListCollections(ctx)
	}

	coll := segs[0]
	rest := segs[1:]

	switch {
	case len(rest) == 0 && method == "GET":
		return s.handleQueryOrStats(ctx, coll)
	case len(rest) == 0 && method == "POST":
		return s.handleIngest(ctx, coll)
	case len(rest) == 1 && rest[0] == "delete" && method == "POST":
		return s.handleDelete(ctx, coll)
	case len(rest) == 1 && rest[0] == "stats" && method == "GET":
		return s.handleStats(ctx, coll)
	case len(rest) == 1 && rest[0] == "captures" && method == "GET":
		return s.handleDumpCaptures(ctx, coll)
	case len(rest) == 1 && rest[0] == "aliases" && method == "GET":
		return s.handleDumpAliases(ctx, coll)
	case len(rest) == 1 && rest[0] == "changes" && method == "GET":
		return s.handleChanges(ctx, coll)
	case len(rest) == 1 && rest[0] == "sequence" && method == "GET":
		return s.handleSequence(ctx, coll)
	case len(rest) == 1 && rest[0] == "truncate_replication" && method == "POST":
		return s.handleTruncateReplication(ctx, coll)
	case len(rest) == 1 && rest[0] == "compact" && method == "POST":
		return s.handleCompact(ctx, coll)
	case len(rest) == 1 && rest[0] == "upgrade" && method == "POST":
		return s.handleUpgrade(ctx, coll)
	case len(rest) >= 2 && rest[0] == "access" && rest[1] == "rules":
		return s.handleAccessRules(ctx, coll, rest[2:], method)
	case len(rest) >= 2 && rest[0] == "access" && rest[1] == "policies":
		return s.handleAccessPolicies(ctx, coll, rest[2:], method)
	}

	return cmn.NotFoundf("no route for %s %s", method, ctx.Path())
}

// splitPath is the REST-item splitter spec's handlers key off of,
// mirroring the teacher's cmn.MatchRESTItems path-segment convention
// without pulling in its bucket/object-specific validation.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func writeError(ctx *fasthttp.RequestCtx, err error) {
	kind := cmn.KindOf(err)
	ctx.SetStatusCode(kind.HTTPStatus())
	ctx.SetContentType("text/plain; charset=utf-8")
	fmt.Fprintf(ctx, "%s: %v\n", kind, err)
	if kind == cmn.KindInternal || kind == cmn.KindStorageError {
		glog.Errorf("capsrv: %v", err)
	}
}

func (s *Server) requireWritable() error {
	if s.Config != nil && !s.Config.AcceptWrites {
		return cmn.Forbiddenf("this node is a read-only secondary")
	}
	return nil
}

// queryValues adapts fasthttp's Args to the map[string][]string shape
// query.Parse expects (net/url.Values-compatible).
func queryValues(ctx *fasthttp.RequestCtx) map[string][]string {
	out := map[string][]string{}
	ctx.QueryArgs().VisitAll(func(k, v []byte) {
		key := string(k)
		out[key] = append(out[key], string(v))
	})
	return out
}

func queryInt(ctx *fasthttp.RequestCtx, name string, def int) int {
	v := ctx.QueryArgs().Peek(name)
	if len(v) == 0 {
		return def
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return def
	}
	return n
}
