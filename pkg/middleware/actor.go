package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Actor identifies the authenticated caller. Authentication itself happens
// upstream; the platform only consumes the asserted id and role.
type Actor struct {
	ID   string
	Role string
}

const (
	RoleCustomer = "customer"
	RolePainter  = "painter"
	RoleAdmin    = "admin"
)

const actorKey = "actor"

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

// RequireActor rejects requests that carry no authenticated identity.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerActorID)
		role := c.GetHeader(headerActorRole)
		if id == "" || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHORIZED", "message": "missing caller identity"},
			})
			return
		}

		c.Set(actorKey, Actor{ID: id, Role: role})
		c.Next()
	}
}

// RequireRole additionally demands a specific role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok || actor.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"code": "FORBIDDEN", "message": "insufficient role"},
			})
			return
		}
		c.Next()
	}
}

func ActorFrom(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := v.(Actor)
	return actor, ok
}
