package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// AMREntry records one authentication method used for the session.
type AMREntry struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
}

// ProviderClaims is the access-token payload issued by the identity backend.
type ProviderClaims struct {
	Email        string         `json:"email,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	Role         string         `json:"role,omitempty"`
	AAL          string         `json:"aal,omitempty"`
	AMR          []AMREntry     `json:"amr,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// HasMethod reports whether the session was authenticated with method.
func (c *ProviderClaims) HasMethod(method string) bool {
	for _, entry := range c.AMR {
		if entry.Method == method {
			return true
		}
	}
	return false
}
