package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tokyoquest/cmd/directory"
	"tokyoquest/cmd/internal/gate"
	"tokyoquest/cmd/internal/ratelimit"
	"tokyoquest/cmd/internal/session"
)

type stubDirectory struct {
	staff map[string]bool
}

func (d *stubDirectory) GetUser(_ context.Context, id string) (directory.User, error) {
	if !d.staff[id] {
		return directory.User{}, directory.ErrNotFound
	}
	return directory.User{ID: id, Staff: true}, nil
}

func (d *stubDirectory) IsStaff(_ context.Context, id string) (bool, error) {
	return d.staff[id], nil
}

func newTestHandler(t *testing.T, cookies bool) (*http.ServeMux, *session.Service) {
	t.Helper()

	scfg := session.DefaultConfig()
	scfg.SigningSecret = "0123456789abcdef0123456789abcdef"
	mgr, err := session.NewHS256Manager(scfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}
	svc := session.NewService(scfg, session.NewRegistry(scfg, nil), mgr)

	fp, err := ratelimit.NewFingerprinter("test-key")
	if err != nil {
		t.Fatalf("NewFingerprinter: %v", err)
	}

	dir := &stubDirectory{staff: map[string]bool{"admin-1": true}}
	g, err := gate.New(nil, gate.Options{Sessions: svc, Directory: dir, Fingerprint: fp})
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	cfg := Config{
		MaxBodyBytes:   1 << 20,
		CookieEnabled:  cookies,
		CookieName:     "questguard_session",
		CookiePath:     "/",
		CookieSameSite: http.SameSiteLaxMode,
	}
	h, err := NewHandler(nil, cfg, svc, g, dir)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return mux, svc
}

func doJSON(mux *http.ServeMux, method, path, body, bearer string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.RemoteAddr = "203.0.113.7:1000"
	r.Header.Set("User-Agent", "test-agent")
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, r)
	return rr
}

func callbackToken(t *testing.T, mux *http.ServeMux, userID string) (token, sessionID string) {
	t.Helper()
	rr := doJSON(mux, http.MethodPost, "/auth/callback", `{"user_id":"`+userID+`","email":"`+userID+`@example.com"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("callback status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp callbackResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.Token == "" || resp.Session.SessionID == "" {
		t.Fatalf("incomplete session payload: %+v", resp.Session)
	}
	return resp.Session.Token, resp.Session.SessionID
}

func TestCallback_IssuesSession(t *testing.T) {
	mux, svc := newTestHandler(t, false)

	token, _ := callbackToken(t, mux, "user-a")

	claims, err := svc.Peek(token, time.Now().UTC())
	if err != nil {
		t.Fatalf("issued credential does not verify: %v", err)
	}
	if claims.UserID != "user-a" {
		t.Fatalf("claims = %+v", claims)
	}
	if svc.Registry().Len() != 1 {
		t.Fatalf("registry len = %d, want 1", svc.Registry().Len())
	}
}

func TestCallback_ReplacesExistingSessions(t *testing.T) {
	mux, svc := newTestHandler(t, false)

	first, _ := callbackToken(t, mux, "user-a")
	second, _ := callbackToken(t, mux, "user-a")
	if first == second {
		t.Fatalf("re-login reissued the same credential")
	}
	if svc.Registry().Len() != 1 {
		t.Fatalf("registry len = %d, want 1 after re-login", svc.Registry().Len())
	}
}

func TestCallback_InvalidBody(t *testing.T) {
	mux, _ := newTestHandler(t, false)

	for _, body := range []string{"", "{", `{"unknown_field":1}`, `{"email":"a@example.com"}`} {
		rr := doJSON(mux, http.MethodPost, "/auth/callback", body, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestCallback_MethodNotAllowed(t *testing.T) {
	mux, _ := newTestHandler(t, false)
	rr := doJSON(mux, http.MethodGet, "/auth/callback", "", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestRefresh_ReissuesCredential(t *testing.T) {
	mux, _ := newTestHandler(t, false)
	token, sid := callbackToken(t, mux, "user-a")

	rr := doJSON(mux, http.MethodPost, "/auth/refresh", "", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp refreshResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.Token == "" {
		t.Fatalf("refresh returned no credential")
	}
	if resp.Session.SessionID != sid || resp.Rotated {
		t.Fatalf("unexpected rotation right after login: %+v", resp)
	}
}

func TestRefresh_MissingCredential(t *testing.T) {
	mux, _ := newTestHandler(t, false)
	rr := doJSON(mux, http.MethodPost, "/auth/refresh", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestLogout_InvalidatesAndClears(t *testing.T) {
	mux, svc := newTestHandler(t, true)
	token, _ := callbackTokenCookieMode(t, mux, "user-a")

	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	r.Header.Set("User-Agent", "test-agent")
	r.AddCookie(&http.Cookie{Name: "questguard_session", Value: token})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, r)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if svc.Registry().Len() != 0 {
		t.Fatalf("registry len = %d after logout", svc.Registry().Len())
	}

	cleared := false
	for _, c := range rr.Result().Cookies() {
		if c.Name == "questguard_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("session cookie not cleared")
	}
}

// callbackTokenCookieMode logs in with the cookie transport enabled and
// returns the credential from the Set-Cookie header.
func callbackTokenCookieMode(t *testing.T, mux *http.ServeMux, userID string) (token, sessionID string) {
	t.Helper()
	rr := doJSON(mux, http.MethodPost, "/auth/callback", `{"user_id":"`+userID+`"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("callback status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp callbackResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.Token != "" {
		t.Fatalf("credential leaked into the body in cookie mode")
	}

	for _, c := range rr.Result().Cookies() {
		if c.Name == "questguard_session" && c.Value != "" {
			return c.Value, resp.Session.SessionID
		}
	}
	t.Fatalf("no session cookie set")
	return "", ""
}

func TestLogoutAll_RemovesEverySession(t *testing.T) {
	mux, svc := newTestHandler(t, false)

	// Per-user cap keeps 3; callback replaces, so establish extra
	// sessions directly.
	token, _ := callbackToken(t, mux, "user-a")
	svc.Registry().Add(context.Background(), time.Now().UTC(), session.Record{
		SessionID: "sid-x", TokenID: "tok-x", UserID: "user-a",
	})

	rr := doJSON(mux, http.MethodPost, "/auth/logout_all", "", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["invalidated"] != 2 {
		t.Fatalf("invalidated = %d, want 2", resp["invalidated"])
	}
	if svc.Registry().Len() != 0 {
		t.Fatalf("registry len = %d", svc.Registry().Len())
	}
}

func TestMe_ReturnsIdentity(t *testing.T) {
	mux, _ := newTestHandler(t, false)
	token, sid := callbackToken(t, mux, "admin-1")

	rr := doJSON(mux, http.MethodGet, "/auth/me", "", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp meResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserID != "admin-1" || resp.SessionID != sid || !resp.Staff {
		t.Fatalf("me = %+v", resp)
	}
}

func TestMe_RequiresSession(t *testing.T) {
	mux, _ := newTestHandler(t, false)
	rr := doJSON(mux, http.MethodGet, "/auth/me", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestAdminSessions_StaffOnly(t *testing.T) {
	mux, _ := newTestHandler(t, false)

	userToken, _ := callbackToken(t, mux, "user-a")
	if rr := doJSON(mux, http.MethodGet, "/admin/sessions", "", userToken); rr.Code != http.StatusForbidden {
		t.Fatalf("non-staff status = %d, want 403", rr.Code)
	}

	adminToken, _ := callbackToken(t, mux, "admin-1")
	rr := doJSON(mux, http.MethodGet, "/admin/sessions", "", adminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("staff status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp adminSessionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Sessions.TotalSessions != 2 {
		t.Fatalf("total sessions = %d, want 2", resp.Sessions.TotalSessions)
	}
	if _, ok := resp.RateLimit[ratelimit.ClassAdmin]; !ok {
		t.Fatalf("rate limit stats missing admin class")
	}
}
