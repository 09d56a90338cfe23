package authkit

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ExpirySkew is subtracted from a token's expiry when deciding it is
	// expired for request purposes, absorbing clock drift and request
	// latency.
	ExpirySkew = 30 * time.Second

	// RefreshLead is how far ahead of expiry the proactive refresh timer
	// fires.
	RefreshLead = 60 * time.Second
)

// AccessClaims are the facts decoded from an access token. They are derived
// transiently and never persisted on their own.
type AccessClaims struct {
	jwt.RegisteredClaims
	Roles        []string            `json:"roles,omitempty"`
	OrgRoles     map[string][]string `json:"orgRoles,omitempty"`
	TokenVersion int                 `json:"tokenVersion,omitempty"`
}

// DecodeAccessClaims turns an access token into claims without verifying the
// signature; the backend is the verifier, the client only reads. Malformed or
// empty input returns nil, never an error.
func DecodeAccessClaims(accessToken string) *AccessClaims {
	if accessToken == "" {
		return nil
	}

	claims := &AccessClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil
	}

	return claims
}

// UserID returns the numeric subject, or 0 when absent or non-numeric.
func (c *AccessClaims) UserID() int64 {
	if c == nil {
		return 0
	}
	id, err := strconv.ParseInt(c.RegisteredClaims.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Expires returns the expiration time, zero when the claim is absent.
func (c *AccessClaims) Expires() time.Time {
	if c == nil || c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

// IssuedAt returns the issued-at time, zero when the claim is absent.
func (c *AccessClaims) IssuedAt() time.Time {
	if c == nil || c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

// ExpiredAt reports whether the token counts as expired at now, applying the
// skew buffer. Expiry is advisory: a token without an exp claim never
// expires client-side.
func (c *AccessClaims) ExpiredAt(now time.Time) bool {
	exp := c.Expires()
	if exp.IsZero() {
		return false
	}
	return !now.Before(exp.Add(-ExpirySkew))
}

// RefreshDeadline returns when the proactive refresh should fire. ok is
// false when the token carries no expiry.
func (c *AccessClaims) RefreshDeadline() (time.Time, bool) {
	exp := c.Expires()
	if exp.IsZero() {
		return time.Time{}, false
	}
	return exp.Add(-RefreshLead), true
}

// RolesForOrg returns the roles granted within one organization.
func (c *AccessClaims) RolesForOrg(orgID int64) []string {
	if c == nil || c.OrgRoles == nil {
		return nil
	}
	return c.OrgRoles[strconv.FormatInt(orgID, 10)]
}

// HasGlobalRole reports whether the platform-wide role list carries role.
func (c *AccessClaims) HasGlobalRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// OrganizationIDs lists the organizations the claims grant roles in.
func (c *AccessClaims) OrganizationIDs() []int64 {
	if c == nil {
		return nil
	}
	ids := make([]int64, 0, len(c.OrgRoles))
	for key := range c.OrgRoles {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
