package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// serveThrough sends req through chain and then h, mounted at any GET path.
func serveThrough(req *http.Request, h gin.HandlerFunc, chain ...gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(chain...)
	r.GET("/*any", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(path string) *http.Request { return httptest.NewRequest(http.MethodGet, path, nil) }

func TestRequestID(t *testing.T) {
	var seen string
	h := func(c *gin.Context) {
		seen = asString(c.Value(requestIDKey))
		c.Status(http.StatusNoContent)
	}

	cases := []struct {
		name   string
		header string
		keep   bool
	}{
		{"issued when absent", "", false},
		{"client value reused", "rid-from-gateway", true},
		{"oversized value replaced", strings.Repeat("r", maxIDLength+1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := get("/users/profile")
			if tc.header != "" {
				req.Header.Set("x-request-id", tc.header)
			}
			w := serveThrough(req, h, RequestID())

			got := w.Header().Get(requestIDHeader)
			if got == "" || got != seen {
				t.Fatalf("header %q, context %q", got, seen)
			}
			if (got == tc.header) != tc.keep {
				t.Fatalf("got %q for client value %q", got, tc.header)
			}
			if len(got) > maxIDLength {
				t.Fatalf("id too long: %d", len(got))
			}
		})
	}
}

func TestRecovery_WritesEnvelopeAndLogsStack(t *testing.T) {
	logs := withCapturedLogger(t)

	w := serveThrough(get("/boom"),
		func(*gin.Context) { panic("cache client exploded") },
		RequestID(), RedactingLogger(RedactOptions{}), Recovery(),
	)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	if body.Code != "internal_error" || body.RequestID == "" || body.RequestID != w.Header().Get(requestIDHeader) {
		t.Fatalf("body = %+v", body)
	}
	out := logs.String()
	for _, want := range []string{`"panic":"cache client exploded"`, `"stack":`, `"message":"panic recovered"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log lacks %s:\n%s", want, out)
		}
	}
}

func TestRecovery_AfterWriteKeepsPartialBody(t *testing.T) {
	_ = withCapturedLogger(t)

	w := serveThrough(get("/late"), func(c *gin.Context) {
		c.String(http.StatusOK, "[")
		panic("mid-stream")
	}, RequestID(), Recovery())

	if w.Body.String() != "[" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestLoggerFrom(t *testing.T) {
	logs := withCapturedLogger(t)

	// Without RedactingLogger the global logger is used, so no request fields.
	serveThrough(get("/plain"), func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("global")
	}, RequestID())
	if out := logs.String(); !strings.Contains(out, `"message":"global"`) || strings.Contains(out, "request_id") {
		t.Fatalf("fallback log = %s", out)
	}

	logs.Reset()
	serveThrough(get("/scoped"), func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("scoped")
	}, RequestID(), RedactingLogger(RedactOptions{}))
	if out := logs.String(); !strings.Contains(out, `"message":"scoped"`) || !strings.Contains(out, "request_id") {
		t.Fatalf("scoped log = %s", out)
	}
}

func TestAsString(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want string
	}{{"rid", "rid"}, {42, ""}, {nil, ""}} {
		if got := asString(tc.in); got != tc.want {
			t.Errorf("asString(%v) = %q", tc.in, got)
		}
	}
}
