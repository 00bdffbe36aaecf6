// Package security adapts the teacher's delegation-capability-token,
// circuit-breaker, and task-screening vocabulary (security.go) from the
// original's agent-to-agent permission/trust model onto ACS's
// TaskDelegation hand-off. None of this is part of the core coordination
// protocol (spec §3/§4); it's an optional WorkerHandler decorator a host can
// wrap around its own handler to gate acceptance (SPEC_FULL.md §12).
package security

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/sign"
)

// Caveat is a single restriction in a token's attenuation chain, carried
// over from security.go's Caveat unchanged.
type Caveat struct {
	Type  string `json:"type"` // "scope", "operation", "time", "budget"
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DCT (Delegation Capability Token) scopes what a worker may do with a
// delegated task, with each sub-delegation along a worker chain narrowing
// the permission set monotonically (security.go's DCT/Attenuate).
type DCT struct {
	TokenID   string    `json:"token_id"`
	GranterID string    `json:"granter_id"`
	BearerID  string    `json:"bearer_id"`
	Resource  string    `json:"resource"`
	Caveats   []Caveat  `json:"caveats"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`

	// PublicKey/Signature bind the token's identity fields to a one-time
	// signing keypair minted alongside it (nacl/sign), so a holder can prove
	// a token wasn't forged or altered in transit without a shared secret.
	PublicKey [32]byte `json:"public_key"`
	Signature []byte   `json:"signature"`
}

// canonical returns the byte sequence MintDCT signs and VerifySignature
// re-checks: every field a tamper would need to alter to forge a wider
// grant, excluding Revoked (a token's own holder never re-signs a
// revocation — revocation is checked separately in ValidateAccess).
func (d *DCT) canonical() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%d", d.TokenID, d.GranterID, d.BearerID, d.Resource, d.ExpiresAt.UnixNano()))
}

// VerifySignature reports whether the token's signature matches its
// identity fields under its own embedded public key.
func (d *DCT) VerifySignature() bool {
	opened, ok := sign.Open(nil, d.Signature, &d.PublicKey)
	if !ok {
		return false
	}
	return string(opened) == string(d.canonical())
}

// MintDCT creates a fresh token for a captain delegating resource to bearer,
// signed with a freshly generated keypair (security.go's DCT/MintDCT,
// extended with the signing spec §12 calls for).
func MintDCT(granterID, bearerID, resource string, ttl time.Duration, caveats ...Caveat) *DCT {
	now := time.Now()
	d := &DCT{
		TokenID:   fmt.Sprintf("dct_%s_%s_%d", granterID, bearerID, now.UnixNano()),
		GranterID: granterID,
		BearerID:  bearerID,
		Resource:  resource,
		Caveats:   caveats,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	pub, priv, err := sign.GenerateKey(rand.Reader)
	if err == nil {
		d.PublicKey = *pub
		d.Signature = sign.Sign(nil, d.canonical(), priv)
	}
	return d
}

// Attenuate creates a child token for a further hand-off (A delegates to B,
// B attenuates before handing to C), inheriting every parent caveat plus
// whatever new ones are added.
func (d *DCT) Attenuate(newBearerID string, additionalCaveats ...Caveat) (*DCT, error) {
	if d.Revoked {
		return nil, fmt.Errorf("cannot attenuate revoked token %s", d.TokenID)
	}
	if time.Now().After(d.ExpiresAt) {
		return nil, fmt.Errorf("cannot attenuate expired token %s", d.TokenID)
	}

	allCaveats := make([]Caveat, len(d.Caveats)+len(additionalCaveats))
	copy(allCaveats, d.Caveats)
	copy(allCaveats[len(d.Caveats):], additionalCaveats)

	return MintDCT(d.BearerID, newBearerID, d.Resource, time.Until(d.ExpiresAt), allCaveats...), nil
}

// ValidateAccess checks whether the token permits operation within scope.
func (d *DCT) ValidateAccess(operation, scope string) error {
	if d.Revoked {
		return fmt.Errorf("token revoked")
	}
	if time.Now().After(d.ExpiresAt) {
		return fmt.Errorf("token expired")
	}
	if !d.VerifySignature() {
		return fmt.Errorf("token signature invalid for %s", d.TokenID)
	}

	for _, c := range d.Caveats {
		switch c.Type {
		case "operation":
			if !strings.Contains(c.Value, operation) {
				return fmt.Errorf("operation %q not permitted (allowed: %s)", operation, c.Value)
			}
		case "scope":
			if !strings.HasPrefix(scope, c.Value) {
				return fmt.Errorf("scope %q outside permitted boundary %q", scope, c.Value)
			}
		}
	}
	return nil
}
