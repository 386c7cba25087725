package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PulseBoard/internal/service/ratelimit"
	xhttp "PulseBoard/pkg/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newEcho(limiter *ratelimit.Limiter) *echo.Echo {
	e := echo.New()
	e.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, UserID(c))
	}, UserIdentity(limiter))
	return e
}

func TestUserIdentitySources(t *testing.T) {
	e := newEcho(nil)
	cases := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"header", "/whoami", "alice", "alice"},
		{"header wins over query", "/whoami?userId=bob", "alice", "alice"},
		{"query", "/whoami?userId=bob", "", "bob"},
		{"trimmed", "/whoami", "  carol ", "carol"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		if tc.header != "" {
			req.Header.Set(xhttp.HeaderUserID, tc.header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Body.String() != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, rec.Body.String(), tc.want)
		}
		if got := rec.Header().Get(xhttp.HeaderUserID); got != tc.want {
			t.Fatalf("%s: response header %q", tc.name, got)
		}
	}
}

func TestUserIdentityGeneratesID(t *testing.T) {
	e := newEcho(nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	id := rec.Header().Get(xhttp.HeaderUserID)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("generated id %q is not a uuid: %v", id, err)
	}
	if rec.Body.String() != id {
		t.Fatalf("handler saw %q, header says %q", rec.Body.String(), id)
	}
}

func TestUserIdentityRateLimitsPerUser(t *testing.T) {
	e := newEcho(ratelimit.New(time.Hour, 2))
	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(xhttp.HeaderUserID, user)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("alice"); code != http.StatusOK {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	if code := do("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("third request: %d", code)
	}
	if code := do("bob"); code != http.StatusOK {
		t.Fatalf("other users keep their own budget: %d", code)
	}
}
