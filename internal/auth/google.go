package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	sharedauth "studyguide-backend/internal/shared/auth"
	"studyguide-backend/internal/shared/server/respond"
	"studyguide-backend/internal/shared/telemetry"
	"studyguide-backend/internal/users"
)

const (
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	defaultStateTTL    = 5 * time.Minute
	maxUserInfoBytes   = 64 << 10
)

var errNoRedirect = errors.New("ui redirect url not configured")

// UserUpserter records the identity behind a successful login.
type UserUpserter interface {
	UpsertFromAuth(ctx context.Context, user users.User) (users.User, error)
}

// GoogleConfig is the OAuth client registration plus where to send the
// browser once a token has been minted.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	UIRedirect   string
}

func (c GoogleConfig) complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != ""
}

// GoogleService signs users in with Google and hands the UI a JWT. A guest
// that starts a login carries its guest id through the round trip so the UI
// can claim the guest's study data afterwards.
type GoogleService struct {
	cfg         GoogleConfig
	oauth       *oauth2.Config
	states      StateStore
	users       UserUpserter
	stateTTL    time.Duration
	userInfoURL string
}

// NewGoogleService wires the OAuth flow. A nil states uses an in-process store.
func NewGoogleService(cfg GoogleConfig, userStore UserUpserter, states StateStore) *GoogleService {
	if states == nil {
		states = NewMemoryStates()
	}
	return &GoogleService{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		states:      states,
		users:       userStore,
		stateTTL:    defaultStateTTL,
		userInfoURL: defaultUserInfoURL,
	}
}

func (s *GoogleService) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auth/google/start", s.start)
	rg.GET("/auth/google/callback", s.callback)
}

func (s *GoogleService) start(c *gin.Context) {
	if !s.cfg.complete() {
		respond.Error(c, http.StatusInternalServerError, "auth_not_configured", "Google auth not configured", nil)
		return
	}

	ls := LoginState{ExpiresAt: time.Now().Add(s.stateTTL)}
	if guestID, err := uuid.Parse(c.Query("guestId")); err == nil {
		ls.GuestID = guestID.String()
	}
	state := uuid.NewString()
	if err := s.states.Put(c.Request.Context(), state, ls); err != nil {
		telemetry.Error("auth.state_store_failed", map[string]any{"error": err.Error()})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start login", nil)
		return
	}
	c.Redirect(http.StatusFound, s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline))
}

func (s *GoogleService) callback(c *gin.Context) {
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "missing state or code", nil)
		return
	}
	ctx := c.Request.Context()

	ls, ok, err := s.states.Take(ctx, state)
	if err != nil {
		telemetry.Error("auth.state_store_failed", map[string]any{"error": err.Error()})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to verify login", nil)
		return
	}
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "invalid or expired state", nil)
		return
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		telemetry.Warn("auth.exchange_failed", map[string]any{"error": err.Error()})
		respond.Error(c, http.StatusBadRequest, "invalid_request", "failed to exchange code", nil)
		return
	}
	profile, err := s.fetchProfile(ctx, token)
	if err != nil {
		telemetry.Warn("auth.profile_failed", map[string]any{"error": err.Error()})
		respond.Error(c, http.StatusBadGateway, "auth_failed", "failed to fetch user profile", nil)
		return
	}

	user := profile.user()
	if s.users != nil {
		// login still succeeds; ownership keys off the token subject
		stored, err := s.users.UpsertFromAuth(ctx, user)
		if err != nil {
			telemetry.Warn("auth.user_upsert_failed", map[string]any{"user_id": user.ID, "error": err.Error()})
		} else {
			// the stored row keeps a name or picture this login omitted
			user = stored
		}
	}

	jwt, err := sharedauth.SignJWT(sharedauth.Claims{
		Sub:     user.ID,
		Email:   user.Email,
		Name:    user.FullName,
		Picture: user.PictureURL,
	})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to issue token", nil)
		return
	}
	target, err := uiRedirect(s.cfg.UIRedirect, jwt, ls.GuestID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to redirect", nil)
		return
	}
	telemetry.Info("auth.login", map[string]any{"user_id": user.ID, "had_guest": ls.GuestID != ""})
	c.Redirect(http.StatusFound, target)
}

type googleProfile struct {
	Sub     string `json:"sub"`
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (p googleProfile) user() users.User {
	return users.User{
		ID:         "google:" + p.Sub,
		Email:      p.Email,
		FullName:   p.Name,
		PictureURL: p.Picture,
		Provider:   users.ProviderGoogle,
	}
}

func (s *GoogleService) fetchProfile(ctx context.Context, token *oauth2.Token) (googleProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return googleProfile{}, err
	}
	resp, err := s.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return googleProfile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return googleProfile{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var p googleProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&p); err != nil {
		return googleProfile{}, err
	}
	// v2 userinfo answers with "id"
	if p.Sub == "" {
		p.Sub = p.ID
	}
	if p.Sub == "" {
		return googleProfile{}, errors.New("profile has no subject")
	}
	return p, nil
}

func uiRedirect(rawURL, token, guestID string) (string, error) {
	if rawURL == "" {
		return "", errNoRedirect
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	if guestID != "" {
		q.Set("claimGuest", guestID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
