package capsrv

import (
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"

	"github.com/outbackcdx/cdxserver/cmn"
)

// requireBearerToken validates the Authorization: Bearer <jwt> header
// against Config.ReplicationSecret (HS256), the scheme spec §4.6
// describes loosely as "a secondary authenticating to a primary's
// /changes feed" and which SPEC_FULL §2 assigns to golang-jwt/jwt.
// When no secret is configured the feed is open, matching today's
// OutbackCDX behavior of relying on network-level trust between primary
// and secondary.
func (s *Server) requireBearerToken(ctx *fasthttp.RequestCtx) error {
	if s.Config == nil || s.Config.ReplicationSecret == "" {
		return nil
	}
	auth := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return cmn.Forbiddenf("missing bearer token")
	}
	raw := strings.TrimPrefix(auth, prefix)

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, cmn.Forbiddenf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.Config.ReplicationSecret), nil
	})
	if err != nil || !token.Valid {
		return cmn.Forbiddenf("invalid bearer token: %v", err)
	}
	return nil
}
