package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/shared/auth"
	"studyguide-backend/internal/shared/server/respond"
)

const (
	identityKey = "identity"
	userIDKey   = "userId"
	isGuestKey  = "isGuest"

	// GuestPrefix namespaces anonymous owner ids so they never collide with
	// provider-issued subjects.
	GuestPrefix = "guest:"

	maxGuestIDBytes = 64
)

var (
	errNoIdentity  = errors.New("missing identity")
	errBadBearer   = errors.New("missing or invalid token")
	errBadGuestKey = errors.New("invalid guest id")
)

// Identity is the caller as resolved by Auth. Guests only carry UserID.
type Identity struct {
	UserID  string
	Email   string
	Name    string
	Picture string
	Guest   bool
}

// Auth resolves the caller from a bearer JWT or, failing that, the
// X-Guest-Id header. Every owner-scoped route sits behind it.
func Auth(env string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		if strings.Contains(c.Request.URL.Path, "/auth/google/") {
			c.Next()
			return
		}

		var (
			id  Identity
			err error
		)
		if header := strings.TrimSpace(c.GetHeader("Authorization")); header != "" {
			id, err = bearerIdentity(header)
		} else {
			id, err = guestIdentity(c)
		}
		if err != nil {
			message := err.Error()
			if errors.Is(err, errNoIdentity) {
				message = "Missing identity"
			}
			respond.Error(c, http.StatusUnauthorized, "unauthorized", message, nil)
			return
		}

		SetIdentity(c, id)
		c.Next()
	}
}

func bearerIdentity(header string) (Identity, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return Identity{}, errBadBearer
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	if token == "" {
		return Identity{}, errBadBearer
	}
	claims, err := auth.VerifyJWT(token)
	if err != nil {
		return Identity{}, errBadBearer
	}
	return Identity{
		UserID:  claims.Sub,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

func guestIdentity(c *gin.Context) (Identity, error) {
	guestID := strings.TrimSpace(c.GetHeader("X-Guest-Id"))
	if guestID == "" && c.Request.Method == http.MethodGet {
		// EventSource cannot set headers
		guestID = strings.TrimSpace(c.Query("guestId"))
	}
	if guestID == "" {
		return Identity{}, errNoIdentity
	}
	if !validToken(guestID, maxGuestIDBytes) || strings.Contains(guestID, ":") {
		return Identity{}, errBadGuestKey
	}
	return Identity{UserID: GuestPrefix + guestID, Guest: true}, nil
}

// SetIdentity stores id on the request. The flat userId/isGuest keys are kept
// for the error envelope and the access log.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
	c.Set(userIDKey, id.UserID)
	c.Set(isGuestKey, id.Guest)
}

// IdentityFrom returns the caller set by Auth, or the zero Identity.
func IdentityFrom(c *gin.Context) Identity {
	if c == nil {
		return Identity{}
	}
	if id, ok := c.Get(identityKey); ok {
		if identity, ok := id.(Identity); ok {
			return identity
		}
	}
	return Identity{UserID: c.GetString(userIDKey), Guest: c.GetBool(isGuestKey)}
}

// UserIDFromContext is the owner key every repository is scoped by.
func UserIDFromContext(c *gin.Context) string {
	return IdentityFrom(c).UserID
}

// IsGuest reports whether the caller authenticated with a guest id only.
func IsGuest(c *gin.Context) bool {
	return IdentityFrom(c).Guest
}
