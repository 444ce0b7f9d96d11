package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func sessionRouter(seen *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Session(SessionOptions{MaxAge: 3600}))
	r.GET("/s", func(c *gin.Context) {
		*seen = SessionID(c)
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestSession_IssuesWhenAbsent(t *testing.T) {
	var seen string
	r := sessionRouter(&seen)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/s", nil))

	if seen == "" || w.Header().Get(SessionHeader) != seen {
		t.Fatalf("issued id = %q, header = %q", seen, w.Header().Get(SessionHeader))
	}
	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == SessionCookie {
			cookie = ck
		}
	}
	if cookie == nil || cookie.Value != seen || !cookie.HttpOnly || cookie.MaxAge != 3600 {
		t.Fatalf("cookie = %+v", cookie)
	}
}

func TestSession_HeaderBeatsCookie(t *testing.T) {
	var seen string
	r := sessionRouter(&seen)

	req := httptest.NewRequest(http.MethodGet, "/s", nil)
	req.Header.Set(SessionHeader, "header-session-1")
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-session-1"})
	r.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "header-session-1" {
		t.Fatalf("session = %q; want header value", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/s", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-session-1"})
	r.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "cookie-session-1" {
		t.Fatalf("session = %q; want cookie value", seen)
	}
}

func TestSession_RejectsMalformedIDs(t *testing.T) {
	var seen string
	r := sessionRouter(&seen)

	for _, bad := range []string{"short", "has space in it", "users:13800001111"} {
		req := httptest.NewRequest(http.MethodGet, "/s", nil)
		req.Header.Set(SessionHeader, bad)
		r.ServeHTTP(httptest.NewRecorder(), req)
		if seen == bad || seen == "" {
			t.Fatalf("malformed id %q should be replaced, got %q", bad, seen)
		}
	}
}

func TestSessionID_EmptyWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := SessionID(c); got != "" {
		t.Fatalf("SessionID = %q; want empty", got)
	}
}
