// Package token reads claims out of ledger session tokens without verifying them.
package token

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dvloznov/ledgerx-smoke/internal/jsonkeys"
)

// DefaultUserID is used whenever the token does not carry a usable user_id.
const DefaultUserID int64 = 1

// Info is what the smoke run learns from a session token.
type Info struct {
	UserID    int64
	Decoded   bool
	ExpiresAt *time.Time
}

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Inspect decodes the payload segment of a JWT-shaped token.
// It never fails: anything it cannot read leaves UserID at DefaultUserID.
func Inspect(tok string) Info {
	info := Info{UserID: DefaultUserID}

	parts := strings.Split(tok, ".")
	if len(parts) < 2 {
		return info
	}

	raw, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return info
	}

	payload, err := jsonkeys.Decode(string(raw))
	if err != nil {
		return info
	}
	if id, ok := payload.Int("user_id"); ok && id != 0 {
		info.UserID = id
		info.Decoded = true
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(raw, &claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			t := exp.Time
			info.ExpiresAt = &t
		}
	}

	return info
}

// UserID is shorthand for Inspect(tok).UserID.
func UserID(tok string) int64 {
	return Inspect(tok).UserID
}
