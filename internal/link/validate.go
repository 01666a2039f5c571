package link

import (
	"errors"
	"net/url"
	"strings"
	"unicode"
)

var (
	ErrInvalidShortCode   = errors.New("short code must be 1-64 characters without slashes or spaces")
	ErrReservedShortCode  = errors.New("short code is reserved")
	ErrInvalidDestination = errors.New("destination must be an absolute http or https URL")
	ErrInvalidWindow      = errors.New("activeFrom must not be after activeUntil")
	ErrInvalidSplash      = errors.New("splash design or delay is invalid")
)

const maxShortCodeLen = 64

// DefaultReserved are path segments the HTTP server routes itself.
var DefaultReserved = []string{
	"api", "all", "health", "metrics", "verify-password",
	"favicon.ico", "robots.txt", "static", "assets",
}

// Reserved is a case-insensitive set of short codes nobody may claim.
type Reserved map[string]struct{}

func NewReserved(words ...string) Reserved {
	r := make(Reserved, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			r[w] = struct{}{}
		}
	}
	return r
}

func (r Reserved) Contains(code string) bool {
	_, ok := r[strings.ToLower(code)]
	return ok
}

func ValidateShortCode(code string, reserved Reserved) error {
	if code == "" || len(code) > maxShortCodeLen {
		return ErrInvalidShortCode
	}
	for _, c := range code {
		if c == '/' || c == '?' || c == '#' || unicode.IsSpace(c) || !unicode.IsPrint(c) {
			return ErrInvalidShortCode
		}
	}
	if reserved.Contains(code) {
		return ErrReservedShortCode
	}
	return nil
}

func ValidateDestination(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ErrInvalidDestination
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidDestination
	}
	return nil
}
