package identity

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AnonCookieName    = "carebridge_anon_id"
	SessionHeaderName = "X-Carebridge-Session-ID"

	deviceCookieTTL = 30 * 24 * time.Hour
)

var (
	deviceIDPattern  = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	chatSessionRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

func newDeviceID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return "anon_" + strings.ReplaceAll(id.String(), "-", ""), nil
}

func isValidAnonID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// displayName is the name shown for an applicant who never gave one.
func displayName(userID string) string {
	if len(userID) > 13 {
		return "guest-" + userID[len(userID)-8:]
	}
	return "guest"
}

func deviceCookie(id string, now time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieTTL.Seconds()),
		Expires:  now.Add(deviceCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	}
}

// deviceID returns the id carried by the request cookie, or a new one.
// The cookie is written back either way so its expiry slides.
func deviceID(w http.ResponseWriter, r *http.Request, now time.Time, secure bool) (id string, issued bool, err error) {
	if c, cerr := r.Cookie(AnonCookieName); cerr == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		if id, err = newDeviceID(); err != nil {
			return "", false, err
		}
		issued = true
	}
	http.SetCookie(w, deviceCookie(id, now, secure))
	return id, issued, nil
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !chatSessionRegex.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func chatSessionID(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}
