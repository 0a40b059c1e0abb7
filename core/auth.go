package core

import "strings"

// CanonicalMessageHeader is the first line of every signed request message
const CanonicalMessageHeader = "Medoxie Withings API Access"

// Identity is the (wallet, profile) pair a request claims to act as
type Identity struct {
	Address   string // 0x-prefixed wallet address, lowercase
	ProfileID string // Lens profile (account) id, lowercase
}

// NewIdentity normalizes address and profile id to lowercase
func NewIdentity(address, profileID string) Identity {
	return Identity{
		Address:   strings.ToLower(address),
		ProfileID: strings.ToLower(profileID),
	}
}

// UserID returns the store namespacing key derived from the identity.
// Tokens are isolated per profile, never per wallet.
func (i Identity) UserID() string {
	return i.ProfileID
}

// SignedEnvelope holds the raw, caller-supplied authentication values
type SignedEnvelope struct {
	Address        string
	ProfileID      string
	Timestamp      string // decimal milliseconds since epoch
	EncodedMessage string // base64 of the canonical message
	Signature      string // 0x-prefixed hex
}

// Complete reports whether every envelope field is non-empty
func (e SignedEnvelope) Complete() bool {
	return e.Address != "" &&
		e.ProfileID != "" &&
		e.Timestamp != "" &&
		e.EncodedMessage != "" &&
		e.Signature != ""
}

// VerifiedAuth is the result of a successful signed-request verification
type VerifiedAuth struct {
	Address   string // recovered signer, lowercase
	ProfileID string // lowercase
	Timestamp int64  // milliseconds since epoch
	Path      string
}

// Identity returns the verified identity
func (v VerifiedAuth) Identity() Identity {
	return Identity{Address: v.Address, ProfileID: v.ProfileID}
}

// CanonicalMessage builds the exact string a client must sign.
// Address and profile id are lowercased; timestamp and path are used verbatim.
func CanonicalMessage(address, profileID, timestamp, path string) string {
	return strings.Join([]string{
		CanonicalMessageHeader,
		"address: " + strings.ToLower(address),
		"profileId: " + strings.ToLower(profileID),
		"timestamp: " + timestamp,
		"path: " + path,
	}, "\n")
}
