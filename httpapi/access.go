package httpapi

import (
	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/middleware"
	"github.com/gin-gonic/gin"
)

const userKey = "gogate.user"

// RequireAccess admits the request when the engine allows the current user
// for one of roles, or for any role when none are given. A pending step-up
// saves the request path as the resume intent before answering 403.
func RequireAccess(engine *goGate.Engine, roles ...goGate.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if engine == nil {
			abortDecision(c, goGate.DecisionLoading)
			return
		}
		decision, user := engine.AuthorizeSnapshot(roles...)
		switch decision {
		case goGate.DecisionAllowed:
			c.Set(userKey, user)
			c.Next()
			return
		case goGate.DecisionMFARequired:
			if err := engine.SaveIntent(c.Request.Context(), c.Request.URL.Path); err != nil {
				_ = c.Error(err)
			}
		}
		abortDecision(c, decision)
	}
}

// CurrentUser returns the user RequireAccess admitted.
func CurrentUser(c *gin.Context) (*goGate.ResolvedUser, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*goGate.ResolvedUser)
	return u, ok && u != nil
}

func abortDecision(c *gin.Context, d goGate.Decision) {
	if d == goGate.DecisionLoading {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(middleware.StatusFor(d), errorBody{Code: string(d)})
}
