package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tokyoquest/cmd/directory"
	"tokyoquest/cmd/internal/ratelimit"
	"tokyoquest/cmd/internal/session"
)

type stubDirectory struct {
	staff map[string]bool
	err   error
}

func (d *stubDirectory) GetUser(_ context.Context, id string) (directory.User, error) {
	if d.err != nil {
		return directory.User{}, d.err
	}
	return directory.User{ID: id, Staff: d.staff[id]}, nil
}

func (d *stubDirectory) IsStaff(_ context.Context, id string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.staff[id], nil
}

func newTestGate(t *testing.T, dir directory.Directory, limiters map[ratelimit.Class]*ratelimit.Limiter) (*Gate, *session.Service) {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.SigningSecret = "0123456789abcdef0123456789abcdef"
	mgr, err := session.NewHS256Manager(cfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}
	svc := session.NewService(cfg, session.NewRegistry(cfg, nil), mgr)

	fp, err := ratelimit.NewFingerprinter("test-key")
	if err != nil {
		t.Fatalf("NewFingerprinter: %v", err)
	}

	g, err := New(nil, Options{
		Sessions:    svc,
		Directory:   dir,
		Fingerprint: fp,
		Limiters:    limiters,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, svc
}

func establish(t *testing.T, svc *session.Service, userID, ip string) session.Issued {
	t.Helper()
	issued, err := svc.EstablishSession(context.Background(), time.Now().UTC(), session.Identity{
		UserID:    userID,
		Email:     userID + "@example.com",
		IP:        ip,
		UserAgent: "test-agent",
	})
	if err != nil {
		t.Fatalf("EstablishSession: %v", err)
	}
	return issued
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%q)", err, rr.Body.String())
	}
	return body.Error.Code
}

func TestProtect_MissingCredential(t *testing.T) {
	g, _ := newTestGate(t, nil, nil)

	rr := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	g.Protect(ratelimit.ClassGeneral, okHandler()).ServeHTTP(rr, r)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if errorCode(t, rr) != "unauthorized" {
		t.Fatalf("code = %q", errorCode(t, rr))
	}
}

func TestProtect_BearerCredentialReachesHandler(t *testing.T) {
	g, svc := newTestGate(t, nil, nil)
	issued := establish(t, svc, "user-a", "203.0.113.7")

	var got session.Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFrom(r.Context())
		if !ok {
			t.Fatalf("claims missing from context")
		}
		got = c
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	r.Header.Set("Authorization", "Bearer "+issued.Credential)
	r.Header.Set("User-Agent", "test-agent")
	g.Protect(ratelimit.ClassGeneral, next).ServeHTTP(rr, r)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "user-a" || got.SessionID != issued.Claims.SessionID {
		t.Fatalf("claims = %+v", got)
	}
}

func TestProtect_CookieCredential(t *testing.T) {
	g, svc := newTestGate(t, nil, nil)
	issued := establish(t, svc, "user-a", "203.0.113.7")

	rr := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	r.AddCookie(&http.Cookie{Name: "questguard_session", Value: issued.Credential})
	g.Protect(ratelimit.ClassGeneral, okHandler()).ServeHTTP(rr, r)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestProtect_GarbageCredential(t *testing.T) {
	g, _ := newTestGate(t, nil, nil)

	rr := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	r.Header.Set("Authorization", "Bearer garbage")
	g.Protect(ratelimit.ClassGeneral, okHandler()).ServeHTTP(rr, r)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestProtect_IPMismatchRejects(t *testing.T) {
	g, svc := newTestGate(t, nil, nil)
	issued := establish(t, svc, "user-a", "203.0.113.7")

	rr := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.9:1000"
	r.Header.Set("Authorization", "Bearer "+issued.Credential)
	g.Protect(ratelimit.ClassGeneral, okHandler()).ServeHTTP(rr, r)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestThrottle_RateLimitReturns429(t *testing.T) {
	limiters := map[ratelimit.Class]*ratelimit.Limiter{
		ratelimit.ClassAuth: ratelimit.New(ratelimit.Config{
			Class:         ratelimit.ClassAuth,
			MaxRequests:   2,
			Window:        time.Minute,
			BlockDuration: 5 * time.Minute,
		}),
	}
	g, _ := newTestGate(t, nil, limiters)
	h := g.Throttle(ratelimit.ClassAuth, okHandler())

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		r := httptest.NewRequest("POST", "/auth/callback", nil)
		r.RemoteAddr = "203.0.113.7:1000"
		h.ServeHTTP(rr, r)
		if rr.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d", i+1, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/auth/callback", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	h.ServeHTTP(rr, r)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
	if errorCode(t, rr) != "rate_limited" {
		t.Fatalf("code = %q", errorCode(t, rr))
	}
}

func TestThrottle_SeparateClientsSeparateBudgets(t *testing.T) {
	limiters := map[ratelimit.Class]*ratelimit.Limiter{
		ratelimit.ClassAuth: ratelimit.New(ratelimit.Config{
			Class:         ratelimit.ClassAuth,
			MaxRequests:   1,
			Window:        time.Minute,
			BlockDuration: 5 * time.Minute,
		}),
	}
	g, _ := newTestGate(t, nil, limiters)
	h := g.Throttle(ratelimit.ClassAuth, okHandler())

	first := httptest.NewRequest("POST", "/", nil)
	first.RemoteAddr = "203.0.113.7:1000"
	h.ServeHTTP(httptest.NewRecorder(), first)

	blocked := httptest.NewRecorder()
	again := httptest.NewRequest("POST", "/", nil)
	again.RemoteAddr = "203.0.113.7:2000" // same IP, port is not part of the fingerprint
	h.ServeHTTP(blocked, again)
	if blocked.Code != http.StatusTooManyRequests {
		t.Fatalf("same client: status = %d, want 429", blocked.Code)
	}

	other := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "198.51.100.9:1000"
	h.ServeHTTP(other, r)
	if other.Code != http.StatusOK {
		t.Fatalf("other client: status = %d, want 200", other.Code)
	}
}

func TestProtectStaff_AllowsStaff(t *testing.T) {
	dir := &stubDirectory{staff: map[string]bool{"admin-1": true}}
	g, svc := newTestGate(t, dir, nil)
	issued := establish(t, svc, "admin-1", "203.0.113.7")

	rr := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/admin/sessions", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	r.Header.Set("Authorization", "Bearer "+issued.Credential)
	g.ProtectStaff(ratelimit.ClassAdmin, okHandler()).ServeHTTP(rr, r)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestProtectStaff_RejectsNonStaff(t *testing.T) {
	dir := &stubDirectory{staff: map[string]bool{}}
	g, svc := newTestGate(t, dir, nil)
	issued := establish(t, svc, "user-a", "203.0.113.7")

	rr := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/admin/sessions", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	r.Header.Set("Authorization", "Bearer "+issued.Credential)
	g.ProtectStaff(ratelimit.ClassAdmin, okHandler()).ServeHTTP(rr, r)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestLimiter_ConcurrentLazyCreation(t *testing.T) {
	// Nil Options.Limiters is documented as valid, so first-use creation
	// races from concurrent request handlers must be serialized.
	g, _ := newTestGate(t, nil, nil)

	classes := []ratelimit.Class{
		ratelimit.ClassGeneral, ratelimit.ClassAuth, ratelimit.ClassAdmin, ratelimit.ClassUpload,
	}

	var wg sync.WaitGroup
	got := make([][]*ratelimit.Limiter, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ls := make([]*ratelimit.Limiter, len(classes))
			for j, class := range classes {
				ls[j] = g.Limiter(class)
			}
			got[i] = ls
		}(i)
	}
	wg.Wait()

	for j, class := range classes {
		want := g.Limiter(class)
		if want == nil {
			t.Fatalf("class %q: nil limiter", class)
		}
		for i := range got {
			if got[i][j] != want {
				t.Fatalf("class %q: goroutine %d got a different limiter instance", class, i)
			}
		}
	}
}

func TestRejectionMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{session.ErrTokenExpired, "token expired"},
		{session.ErrSessionInactive, "session expired due to inactivity"},
		{session.ErrIPMismatch, "session invalidated"},
		{errors.New("anything else"), "invalid token"},
	}
	for _, tt := range tests {
		if got := RejectionMessage(tt.err); got != tt.want {
			t.Errorf("RejectionMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestProtectStaff_DirectoryFailureIs503(t *testing.T) {
	dir := &stubDirectory{err: errors.New("connection refused")}
	g, svc := newTestGate(t, dir, nil)
	issued := establish(t, svc, "user-a", "203.0.113.7")

	rr := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/admin/sessions", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	r.Header.Set("Authorization", "Bearer "+issued.Credential)
	g.ProtectStaff(ratelimit.ClassAdmin, okHandler()).ServeHTTP(rr, r)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if errorCode(t, rr) != "server_busy" {
		t.Fatalf("code = %q", errorCode(t, rr))
	}
}
