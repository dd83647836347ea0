package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
)

// Headers set by the auth gateway in front of the API.
const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorName = "X-Actor-Name"
	HeaderActorRole = "X-Actor-Role"
)

var httpRoles = map[string]struct{}{
	auditcontext.RoleAdmin:    {},
	auditcontext.RoleManager:  {},
	auditcontext.RoleEmployee: {},
}

// ActorRequired resolves the calling staff member from the gateway headers
// and stores it on the request context. The system role is internal only.
func ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := auditcontext.Actor{
			ID:   c.GetHeader(HeaderActorID),
			Name: c.GetHeader(HeaderActorName),
			Role: c.GetHeader(HeaderActorRole),
		}.Normalize()
		if !actor.Valid() {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if _, ok := httpRoles[actor.Role]; !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Request = c.Request.WithContext(auditcontext.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		actor, ok := auditcontext.ActorFromContext(ctx)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(ctx, actor, strings.TrimSpace(object), strings.TrimSpace(action)); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
