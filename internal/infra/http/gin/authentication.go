package ginserver

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"marketplace/internal/app/services/auth"
	domainauth "marketplace/internal/domain/auth"
	domainuser "marketplace/internal/domain/user"
)

const principalContextKey = "marketplace.principal"

type principal struct {
	ID        string
	Email     string
	Name      string
	Avatar    string
	Roles     []string
	Token     string
	IsOnline  bool
	LastSeen  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuthMiddleware resolves a bearer token into a principal. Requests without a
// valid token pass through anonymously; requireAuth rejects them where needed.
type AuthMiddleware struct {
	Service *auth.Service
	Logger  *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" || m.Service == nil {
		c.Next()
		return
	}
	resolved, err := m.Service.ResolveToken(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, domainauth.ErrSessionNotFound) && m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	user := resolved.User
	setPrincipal(c, principal{
		ID:        string(user.ID),
		Email:     user.Email,
		Name:      user.Name,
		Avatar:    user.Avatar,
		Roles:     mapRoles(user.Roles),
		Token:     token,
		IsOnline:  user.IsOnline,
		LastSeen:  user.LastSeen,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	})
	c.Next()
}

func requireAuth(c *gin.Context) {
	if _, ok := currentPrincipal(c); !ok {
		respondUnauthenticated(c)
		c.Abort()
		return
	}
	c.Next()
}

func mapRoles(roles []domainuser.Role) []string {
	result := make([]string, 0, len(roles))
	for _, r := range roles {
		result = append(result, string(r))
	}
	return result
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

// actorID is only called behind requireAuth.
func actorID(c *gin.Context) string {
	p, _ := currentPrincipal(c)
	return p.ID
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
