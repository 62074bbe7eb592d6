// Package guest keeps the free-credit allotment of unregistered visitors in
// a browser cookie. The cookie is advisory: it is readable and editable by
// the client and is not shared between concurrent requests.
package guest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jobboard/aicredits/internal/models"
)

const (
	// CookieName is the cookie holding a guest's remaining credits
	CookieName = "guest_credits"

	// CookieMaxAge is how long the cookie survives without activity
	CookieMaxAge = 7 * 24 * time.Hour

	// DefaultAllotment is what a guest starts with
	DefaultAllotment models.Credits = 50
)

// Tracker reads and writes the guest credit cookie
type Tracker struct {
	allotment models.Credits
	secure    bool
}

// NewTracker creates a tracker. allotment <= 0 uses DefaultAllotment.
// secure marks the cookie Secure for HTTPS deployments.
func NewTracker(allotment models.Credits, secure bool) *Tracker {
	if allotment <= 0 {
		allotment = DefaultAllotment
	}
	return &Tracker{allotment: allotment, secure: secure}
}

// Allotment returns the starting credit amount for a new guest
func (t *Tracker) Allotment() models.Credits {
	return t.allotment
}

// Remaining returns the guest's remaining credits. A missing or unparsable
// cookie counts as a fresh allotment; a negative value counts as zero.
func (t *Tracker) Remaining(r *http.Request) models.Credits {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return t.allotment
	}

	n, err := strconv.ParseInt(c.Value, 10, 64)
	if err != nil {
		return t.allotment
	}
	if n < 0 {
		return 0
	}
	return models.Credits(n)
}

// SetRemaining writes the guest's remaining credits, restarting the expiry.
// A value set earlier in the same response is replaced.
func (t *Tracker) SetRemaining(w http.ResponseWriter, remaining models.Credits) {
	if remaining < 0 {
		remaining = 0
	}
	dropSetCookie(w.Header(), CookieName)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    strconv.FormatInt(int64(remaining), 10),
		Path:     "/",
		MaxAge:   int(CookieMaxAge.Seconds()),
		HttpOnly: false, // the frontend displays the count
		Secure:   t.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func dropSetCookie(h http.Header, name string) {
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, name+"=") {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
}
