// Package identity holds the value types shared by the identity resolution pipeline:
// identity keys, certificates extracted from overlay outputs, and the resolved display
// identity handed to the presentation layer.
package identity

import (
	"strings"
	"time"
)

// FallbackCertificateType is assumed when a certificate payload carries no type.
const FallbackCertificateType = "vdDWvftf1H+5+ZprUw123kjHlywH+v20aPQTuXgMpNc="

// UnknownCertifier is used when a certificate payload does not name its certifier.
const UnknownCertifier = "unknown"

// DefaultDisplayName is shown when no identity could be resolved for a key.
const DefaultDisplayName = "Unknown Artist"

// NameFields lists certificate field names that may carry a display name, in priority order.
var NameFields = []string{"userName", "name", "displayName", "handle"}

// AvatarFields lists certificate field names that may carry an avatar URL, in priority order.
// SocialCert uses "icon" for X profile pictures.
var AvatarFields = []string{"profilePhoto", "icon", "avatar", "profilePicture", "image"}

// Key is an opaque public identity key (hex-encoded compressed public key in practice).
type Key = string

// Certificate is a certificate payload decoded from a locking script.
type Certificate struct {
	Subject      Key
	Certifier    string
	Type         string
	SerialNumber string

	// Fields maps field names to either plaintext or base64 ciphertext.
	Fields map[string]string

	// DecryptedFields maps field names to plaintext values published alongside the certificate.
	DecryptedFields map[string]string

	// Keyring maps field names to wrapped revelation keys (base64).
	Keyring map[string]string
}

// HasFields reports whether the certificate carries at least one field.
func (c *Certificate) HasFields() bool {
	return c != nil && (len(c.Fields) > 0 || len(c.DecryptedFields) > 0)
}

// PlaintextField returns a published plaintext value for name, if any.
func (c *Certificate) PlaintextField(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.DecryptedFields[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ResolvedIdentity is the display projection of a certificate.
type ResolvedIdentity struct {
	IdentityKey     Key     `json:"identityKey"`
	Name            string  `json:"name"`
	AvatarURL       *string `json:"avatarURL"`
	Certifier       string  `json:"certifier"`
	CertificateType string  `json:"certificateType"`
}

// Equal reports whether all fields of r and o match.
func (r ResolvedIdentity) Equal(o ResolvedIdentity) bool {
	if r.IdentityKey != o.IdentityKey || r.Name != o.Name ||
		r.Certifier != o.Certifier || r.CertificateType != o.CertificateType {
		return false
	}
	if r.AvatarURL == nil || o.AvatarURL == nil {
		return r.AvatarURL == nil && o.AvatarURL == nil
	}
	return *r.AvatarURL == *o.AvatarURL
}

// CachedIdentity is a ResolvedIdentity stamped with the time it was cached.
type CachedIdentity struct {
	ResolvedIdentity
	CachedAt time.Time `json:"cachedAt"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// AbbreviateKey shortens an identity key for display, e.g. "02abcd...ef01".
func AbbreviateKey(key Key, prefixLength, suffixLength int) string {
	if len(key) <= prefixLength+suffixLength+3 {
		return key
	}
	return key[:prefixLength] + "..." + key[len(key)-suffixLength:]
}

// Default returns the generic display used when resolution fails.
func Default(key Key) ResolvedIdentity {
	return ResolvedIdentity{
		IdentityKey: key,
		Name:        DefaultDisplayName,
	}
}

// NormalizeQuery lower-cases and trims a search query.
func NormalizeQuery(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
