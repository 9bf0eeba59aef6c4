package config

import (
	"strings"
	"time"

	"github.com/therenotomorrow/ex"
)

// BuildExpiry is the validity date baked into the binary, set with
// -ldflags "-X github.com/torosent/dgramfire/internal/config.BuildExpiry=2026-12-31".
// Empty means the build never expires.
var BuildExpiry string

const (
	ErrExpired       = ex.Error("build has expired")
	ErrInvalidExpiry = ex.Error("invalid expiry date")
)

const dateLayout = "2006-01-02"

// ParseExpiry parses an RFC3339 timestamp or a YYYY-MM-DD date. A bare date
// expires at the end of that day in UTC. Empty input yields the zero time.
func ParseExpiry(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, ErrInvalidExpiry.Reason(value)
	}
	return t.Add(24*time.Hour - time.Nanosecond), nil
}

// CheckExpiry returns ErrExpired when expiresAt is set and now is past it.
func CheckExpiry(now, expiresAt time.Time) error {
	if expiresAt.IsZero() || !now.After(expiresAt) {
		return nil
	}
	return ErrExpired.Reason("valid until " + expiresAt.UTC().Format(time.RFC3339))
}

// ExpiresAt returns the effective expiry: the earlier of BuildExpiry and
// Expires. A run-time value cannot extend the build's validity.
func (c Config) ExpiresAt() (time.Time, error) {
	build, err := ParseExpiry(BuildExpiry)
	if err != nil {
		return time.Time{}, err
	}
	flag, err := ParseExpiry(c.Expires)
	if err != nil {
		return time.Time{}, err
	}
	switch {
	case build.IsZero():
		return flag, nil
	case flag.IsZero(), build.Before(flag):
		return build, nil
	default:
		return flag, nil
	}
}
