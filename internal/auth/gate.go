package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
)

// hourLayout formats the UTC hour that keys the rotating derived token.
const hourLayout = "2006-01-02T15"

// Gate validates bearer tokens for privileged operations.
//
// A presented token is accepted when it equals the shared secret, or when it
// equals the hourly derived token HMAC-SHA256(secret, currentUTCHour). The
// derived form lets external feeders rotate credentials without distributing
// the raw secret; it hard-expires at the hour boundary with no grace overlap.
//
// An empty secret puts the gate in open mode: every token, including an
// absent one, is accepted. Open mode disables all access control and is
// logged loudly at construction.
type Gate struct {
	secret string
	now    func() time.Time
}

// NewGate builds a Gate for the shared secret. An empty secret enables open
// mode.
func NewGate(secret string) *Gate {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		slog.Warn("auth: NO SHARED SECRET CONFIGURED, gate is in open mode and every push will be accepted")
	}
	return &Gate{secret: secret, now: time.Now}
}

// Open reports whether the gate accepts everything.
func (g *Gate) Open() bool { return g.secret == "" }

// Validate reports whether token grants privileged access.
func (g *Gate) Validate(token string) bool {
	if g.Open() {
		return true
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.secret)) == 1 {
		return true
	}
	derived := g.DerivedToken(g.now())
	return subtle.ConstantTimeCompare([]byte(token), []byte(derived)) == 1
}

// DerivedToken returns the rotating token valid during the UTC hour
// containing t.
func (g *Gate) DerivedToken(t time.Time) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write([]byte(t.UTC().Format(hourLayout)))
	return hex.EncodeToString(mac.Sum(nil))
}

// WithClock overrides the gate clock, enabling deterministic unit tests.
func (g *Gate) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	g.now = clock
}
