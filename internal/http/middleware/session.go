package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// SessionHeader carries the session id for API clients.
	SessionHeader = "X-Session-ID"
	// SessionCookie carries the session id for browsers.
	SessionCookie = "sid"
	// sessionIDKey is the Gin context key of the session id.
	sessionIDKey = "sessionID"
)

// sessionIDRE bounds what a client may choose as session id; the value ends
// up in cache keys and log lines.
var sessionIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// SessionOptions configures the session cookie.
type SessionOptions struct {
	// MaxAge of the cookie in seconds; 0 makes it a browser-session cookie.
	MaxAge int
	// Secure marks the cookie HTTPS-only.
	Secure bool
}

// Session resolves the session id from the X-Session-ID header, then the
// "sid" cookie, and issues a UUID when neither holds a usable value. The id
// is stored in the Gin context, echoed in X-Session-ID and (re)set as the
// "sid" cookie.
func Session(opts SessionOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := c.GetHeader(SessionHeader)
		if !sessionIDRE.MatchString(sid) {
			sid, _ = c.Cookie(SessionCookie)
		}
		if !sessionIDRE.MatchString(sid) {
			sid = uuid.NewString()
		}
		c.Set(sessionIDKey, sid)
		c.Writer.Header().Set(SessionHeader, sid)
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, sid, opts.MaxAge, "/", "", opts.Secure, true)
		c.Next()
	}
}

// SessionID returns the id attached by Session, or "".
func SessionID(c *gin.Context) string {
	return asString(c.Value(sessionIDKey))
}
