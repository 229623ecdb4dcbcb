package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	sharedauth "studyguide-backend/internal/shared/auth"
	redisstore "studyguide-backend/internal/shared/storage/redis"
	"studyguide-backend/internal/users"
)

type recordingUsers struct {
	got []users.User
}

func (r *recordingUsers) UpsertFromAuth(_ context.Context, u users.User) (users.User, error) {
	r.got = append(r.got, u)
	return u, nil
}

func newGoogleProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42","email":"ada@example.test","name":"Ada","picture":"https://img/ada.png"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, provider *httptest.Server, rec *recordingUsers) (*GoogleService, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "test-secret")

	svc := NewGoogleService(GoogleConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://api.test/api/v1/auth/google/callback",
		UIRedirect:   "http://ui.test/auth/done?from=google",
	}, rec, nil)
	if provider != nil {
		svc.oauth.Endpoint = oauth2.Endpoint{AuthURL: provider.URL + "/auth", TokenURL: provider.URL + "/token"}
		svc.userInfoURL = provider.URL + "/userinfo"
	}
	r := gin.New()
	svc.RegisterRoutes(r.Group("/api/v1"))
	return svc, r
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestLoginRoundTripCarriesGuest(t *testing.T) {
	rec := &recordingUsers{}
	_, r := newTestService(t, newGoogleProvider(t), rec)
	guestID := "0b6c3c1e-2f43-4b59-9d3c-5f0f1f0e8a11"

	w := get(r, "/api/v1/auth/google/start?guestId="+guestID)
	if w.Code != http.StatusFound {
		t.Fatalf("start: expected 302, got %d", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatalf("missing state in %s", loc)
	}

	w = get(r, "/api/v1/auth/google/callback?state="+url.QueryEscape(state)+"&code=abc")
	if w.Code != http.StatusFound {
		t.Fatalf("callback: expected 302, got %d: %s", w.Code, w.Body.String())
	}
	done, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if done.Host != "ui.test" || done.Query().Get("from") != "google" {
		t.Fatalf("unexpected redirect %s", done)
	}
	if done.Query().Get("claimGuest") != guestID {
		t.Fatalf("expected claimGuest=%s in %s", guestID, done)
	}
	claims, err := sharedauth.VerifyJWT(done.Query().Get("token"))
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.Sub != "google:42" || claims.Email != "ada@example.test" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(rec.got) != 1 || rec.got[0].ID != "google:42" || rec.got[0].PictureURL != "https://img/ada.png" {
		t.Fatalf("unexpected upserts %+v", rec.got)
	}

	// states are single use
	w = get(r, "/api/v1/auth/google/callback?state="+url.QueryEscape(state)+"&code=abc")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replay: expected 400, got %d", w.Code)
	}
}

func TestStartIgnoresMalformedGuest(t *testing.T) {
	svc, r := newTestService(t, nil, nil)
	w := get(r, "/api/v1/auth/google/start?guestId=../../etc")
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	loc, _ := url.Parse(w.Header().Get("Location"))
	ls, ok, err := svc.states.Take(context.Background(), loc.Query().Get("state"))
	if err != nil || !ok {
		t.Fatalf("expected stored state, ok=%v err=%v", ok, err)
	}
	if ls.GuestID != "" {
		t.Fatalf("malformed guest id kept: %q", ls.GuestID)
	}
}

func TestStartRequiresConfiguration(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewGoogleService(GoogleConfig{ClientID: "only-id"}, nil, nil)
	r := gin.New()
	svc.RegisterRoutes(r.Group(""))
	if w := get(r, "/auth/google/start"); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestCallbackRejectsBadRequests(t *testing.T) {
	_, r := newTestService(t, nil, nil)
	cases := map[string]string{
		"missing code":  "/api/v1/auth/google/callback?state=s",
		"missing state": "/api/v1/auth/google/callback?code=c",
		"unknown state": "/api/v1/auth/google/callback?state=nope&code=c",
	}
	for name, target := range cases {
		if w := get(r, target); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
		}
	}
}

func TestMemoryStatesExpire(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemoryStates()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_ = m.Put(ctx, "old", LoginState{ExpiresAt: now.Add(time.Minute)})
	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Take(ctx, "old"); ok {
		t.Fatal("expired state redeemed")
	}

	_ = m.Put(ctx, "stale", LoginState{ExpiresAt: now.Add(-time.Second)})
	if _, ok := m.items["stale"]; !ok {
		t.Fatal("put should not drop the entry it just stored")
	}
	_ = m.Put(ctx, "fresh", LoginState{ExpiresAt: now.Add(time.Minute)})
	if _, ok := m.items["stale"]; ok {
		t.Fatal("expected stale entry swept")
	}
}

func TestRedisStatesSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisstore.Connect("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	states := RedisStates{Client: client}
	ctx := context.Background()
	if err := states.Put(ctx, "abc", LoginState{GuestID: "g", ExpiresAt: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL(stateKeyPrefix + "abc"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}
	ls, ok, err := states.Take(ctx, "abc")
	if err != nil || !ok || ls.GuestID != "g" {
		t.Fatalf("take: %+v ok=%v err=%v", ls, ok, err)
	}
	if _, ok, _ := states.Take(ctx, "abc"); ok {
		t.Fatal("state redeemed twice")
	}
}
