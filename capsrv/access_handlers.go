package capsrv

import (
	"github.com/valyala/fasthttp"

	"github.com/outbackcdx/cdxserver/access"
	"github.com/outbackcdx/cdxserver/cmn"
)

// handleAccessRules implements full CRUD over /<coll>/access/rules (spec
// §4.5, SPEC_FULL §4: the distilled spec.md only shows the GET row but
// §4.5's operation list requires create/update/delete too).
func (s *Server) handleAccessRules(ctx *fasthttp.RequestCtx, coll string, rest []string, method string) error {
	if !s.accessEnabled() {
		return cmn.NotFoundf("access control is not enabled")
	}
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}
	st := s.accessStoreFor(coll, ix)

	switch {
	case len(rest) == 0 && method == "GET":
		rules, err := st.ListRules()
		if err != nil {
			return err
		}
		ctx.SetContentType("application/json; charset=utf-8")
		return jsonAPI.NewEncoder(ctx).Encode(rules)

	case len(rest) == 0 && (method == "POST" || method == "PUT"):
		if err := s.requireWritable(); err != nil {
			return err
		}
		var r access.Rule
		if err := jsonAPI.Unmarshal(ctx.PostBody(), &r); err != nil {
			return cmn.BadRequestf("invalid rule JSON: %v", err)
		}
		id, err := st.PutRule(&r)
		if err != nil {
			return err
		}
		ctx.SetContentType("application/json; charset=utf-8")
		return jsonAPI.NewEncoder(ctx).Encode(map[string]string{"id": id})

	case len(rest) == 1 && method == "GET":
		r, err := st.Rule(rest[0])
		if err != nil {
			return err
		}
		ctx.SetContentType("application/json; charset=utf-8")
		return jsonAPI.NewEncoder(ctx).Encode(r)

	case len(rest) == 1 && method == "DELETE":
		if err := s.requireWritable(); err != nil {
			return err
		}
		ok, err := st.DeleteRule(rest[0])
		if err != nil {
			return err
		}
		if !ok {
			return cmn.NotFoundf("no such rule %q", rest[0])
		}
		ctx.SetStatusCode(204)
		return nil
	}
	return cmn.NotFoundf("no route for %s /access/rules/%v", method, rest)
}

// handleAccessPolicies implements /<coll>/access/policies (spec §4.5).
func (s *Server) handleAccessPolicies(ctx *fasthttp.RequestCtx, coll string, rest []string, method string) error {
	if !s.accessEnabled() {
		return cmn.NotFoundf("access control is not enabled")
	}
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}
	st := s.accessStoreFor(coll, ix)

	switch {
	case len(rest) == 0 && method == "GET":
		policies, err := st.ListPolicies()
		if err != nil {
			return err
		}
		ctx.SetContentType("application/json; charset=utf-8")
		return jsonAPI.NewEncoder(ctx).Encode(policies)

	case len(rest) == 0 && (method == "POST" || method == "PUT"):
		if err := s.requireWritable(); err != nil {
			return err
		}
		var p access.Policy
		if err := jsonAPI.Unmarshal(ctx.PostBody(), &p); err != nil {
			return cmn.BadRequestf("invalid policy JSON: %v", err)
		}
		id, err := st.PutPolicy(&p)
		if err != nil {
			return err
		}
		ctx.SetContentType("application/json; charset=utf-8")
		return jsonAPI.NewEncoder(ctx).Encode(map[string]string{"id": id})

	case len(rest) == 1 && method == "GET":
		p, err := st.Policy(rest[0])
		if err != nil {
			return err
		}
		ctx.SetContentType("application/json; charset=utf-8")
		return jsonAPI.NewEncoder(ctx).Encode(p)
	}
	return cmn.NotFoundf("no route for %s /access/policies/%v", method, rest)
}

func (s *Server) accessEnabled() bool {
	return s.Config == nil || s.Config.ExperimentalAccessControl
}
