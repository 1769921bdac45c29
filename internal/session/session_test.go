package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// callback replays the cookies set on rec into a new request.
func callback(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/auth/github?code=x", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestBeginVerify(t *testing.T) {
	s := New("cookie-password-cookie-password-cookie-pw", 0)
	rec := httptest.NewRecorder()

	state, err := s.Begin(rec, httptest.NewRequest(http.MethodGet, "/auth/github", nil), "shop.example.com", "github")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Verify(callback(rec), "shop.example.com", "github", state); err != nil {
		t.Fatalf("verify: %v", err)
	}

	mismatches := []struct {
		name                  string
		host, provider, nonce string
	}{
		{"wrong state", "shop.example.com", "github", "forged"},
		{"wrong provider", "shop.example.com", "google", state},
		{"wrong host", "evil.example.com", "github", state},
	}
	for _, m := range mismatches {
		if err := s.Verify(callback(rec), m.host, m.provider, m.nonce); !errors.Is(err, ErrStateMismatch) {
			t.Errorf("%s: want ErrStateMismatch, got %v", m.name, err)
		}
	}
}

func TestVerify_RejectsForeignAndExpired(t *testing.T) {
	s := New("one", time.Minute)
	rec := httptest.NewRecorder()
	state, err := s.Begin(rec, httptest.NewRequest(http.MethodGet, "/auth/github", nil), "h", "github")
	if err != nil {
		t.Fatal(err)
	}

	other := New("two", time.Minute)
	if err := other.Verify(callback(rec), "h", "github", state); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("foreign key accepted: %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := s.Verify(callback(rec), "h", "github", state); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expired state accepted: %v", err)
	}

	if err := s.Verify(httptest.NewRequest(http.MethodGet, "/auth/github", nil), "h", "github", state); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("missing cookie accepted: %v", err)
	}
}

func TestClear(t *testing.T) {
	rec := httptest.NewRecorder()
	New("k", 0).Clear(rec)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("cookies = %+v", cookies)
	}
}
