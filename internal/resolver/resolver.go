// Package resolver turns identity keys into display identities. It checks the local
// cache first, then queries the overlay, parses candidate certificates, decrypts their
// display fields and caches what it finds. Failing to find an identity is a normal
// outcome and is reported as a miss, never as an error.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/MatthewCalhoun/AutoTunez/internal/certificate"
	"github.com/MatthewCalhoun/AutoTunez/internal/fielddecrypt"
	"github.com/MatthewCalhoun/AutoTunez/internal/identity"
	"github.com/MatthewCalhoun/AutoTunez/internal/identitycache"
	"github.com/MatthewCalhoun/AutoTunez/internal/overlay"
)

// MinSearchLength is the shortest trimmed query SearchByDisplayName acts on.
const MinSearchLength = 2

// ErrMissingCollaborator is returned by New when a required dependency is absent.
var ErrMissingCollaborator = errors.New("missing required collaborator")

// Overlay finds certificate-bearing outputs.
type Overlay interface {
	QueryByIdentityKey(ctx context.Context, key identity.Key) []overlay.RawOutput
	QueryByNamePrefix(ctx context.Context, text string) []overlay.RawOutput
}

// Parser extracts certificates from outputs.
type Parser interface {
	ParseCertificateFromOutput(beef []byte, outputIndex uint32, expectedSubject identity.Key) (*identity.Certificate, bool)
	ParseCertificateForSearch(beef []byte, outputIndex uint32, query string) (*identity.Certificate, bool)
}

// Decryptor recovers plaintext certificate fields.
type Decryptor interface {
	DecryptField(ctx context.Context, ciphertext, fieldName, serialNumber, certifier string) (string, bool)
	RevealField(ctx context.Context, cert *identity.Certificate, fieldName string) (string, bool)
}

// Cache stores resolved identities.
type Cache interface {
	Get(key identity.Key) (identity.CachedIdentity, bool)
	Put(id identity.ResolvedIdentity) error
	SearchByNameSubstring(text string) []identity.ResolvedIdentity
}

// Directory is a secondary, application-level identity source.
type Directory interface {
	Lookup(ctx context.Context, key identity.Key) (identity.ResolvedIdentity, bool)
	Search(ctx context.Context, text string) []identity.ResolvedIdentity
}

// Options holds the collaborators of a Resolver.
type Options struct {
	Overlay   Overlay
	Parser    Parser
	Decryptor Decryptor
	Cache     Cache

	// Directory is optional. It backs empty searches and, with ResolveViaAPI,
	// identity lookups the overlay could not answer.
	Directory     Directory
	ResolveViaAPI bool

	Logger *slog.Logger
}

var (
	_ Overlay   = (*overlay.Client)(nil)
	_ Parser    = (*certificate.Parser)(nil)
	_ Decryptor = (*fielddecrypt.Decryptor)(nil)
	_ Cache     = (*identitycache.Cache)(nil)
	_ Directory = (*overlay.SecondaryAPI)(nil)
)

// Resolver resolves identity keys. It is safe for concurrent use; concurrent lookups
// of the same key are not coalesced.
type Resolver struct {
	overlay       Overlay
	parser        Parser
	decryptor     Decryptor
	cache         Cache
	directory     Directory
	resolveViaAPI bool
	logger        *slog.Logger
}

// New creates a Resolver.
func New(opts Options) (*Resolver, error) {
	switch {
	case opts.Overlay == nil:
		return nil, fmt.Errorf("%w: overlay client", ErrMissingCollaborator)
	case opts.Parser == nil:
		return nil, fmt.Errorf("%w: certificate parser", ErrMissingCollaborator)
	case opts.Decryptor == nil:
		return nil, fmt.Errorf("%w: field decryptor", ErrMissingCollaborator)
	case opts.Cache == nil:
		return nil, fmt.Errorf("%w: identity cache", ErrMissingCollaborator)
	}
	if opts.ResolveViaAPI && opts.Directory == nil {
		return nil, fmt.Errorf("%w: identity API required for API resolution", ErrMissingCollaborator)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	return &Resolver{
		overlay:       opts.Overlay,
		parser:        opts.Parser,
		decryptor:     opts.Decryptor,
		cache:         opts.Cache,
		directory:     opts.Directory,
		resolveViaAPI: opts.ResolveViaAPI,
		logger:        logger,
	}, nil
}

// ResolveByIdentityKey returns the display identity for key. The boolean is false when
// no identity could be found.
func (r *Resolver) ResolveByIdentityKey(ctx context.Context, key identity.Key) (identity.ResolvedIdentity, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return identity.ResolvedIdentity{}, false
	}

	if cached, ok := r.cache.Get(key); ok {
		return cached.ResolvedIdentity, true
	}

	for _, out := range r.overlay.QueryByIdentityKey(ctx, key) {
		cert, ok := r.parser.ParseCertificateFromOutput(out.Beef, out.OutputIndex, key)
		if !ok || !cert.HasFields() {
			continue
		}
		id, ok := r.project(ctx, cert)
		if !ok {
			r.logger.Debug("Certificate has no readable name", "identityKey", key, "certifier", cert.Certifier)
			continue
		}
		r.store(id)
		r.logger.Info("Resolved identity", "identityKey", key, "name", id.Name, "host", out.Host)
		return id, true
	}

	if r.resolveViaAPI && r.directory != nil {
		if id, ok := r.directory.Lookup(ctx, key); ok {
			r.store(id)
			r.logger.Info("Resolved identity via API", "identityKey", key, "name", id.Name)
			return id, true
		}
	}

	r.logger.Debug("No identity found", "identityKey", key)
	return identity.ResolvedIdentity{}, false
}

// SearchByDisplayName returns identities whose display name contains text. Queries
// shorter than MinSearchLength return an empty result without any I/O.
func (r *Resolver) SearchByDisplayName(ctx context.Context, text string) []identity.ResolvedIdentity {
	q := strings.TrimSpace(text)
	if utf8.RuneCountInString(q) < MinSearchLength {
		return []identity.ResolvedIdentity{}
	}

	if hits := r.cache.SearchByNameSubstring(q); len(hits) > 0 {
		return hits
	}

	results := []identity.ResolvedIdentity{}
	seen := make(map[identity.Key]struct{})
	for _, out := range r.overlay.QueryByNamePrefix(ctx, q) {
		cert, ok := r.parser.ParseCertificateForSearch(out.Beef, out.OutputIndex, q)
		if !ok {
			continue
		}
		if _, dup := seen[cert.Subject]; dup {
			continue
		}
		id, ok := r.project(ctx, cert)
		if !ok {
			continue
		}
		seen[cert.Subject] = struct{}{}
		r.store(id)
		results = append(results, id)
	}
	if len(results) > 0 || r.directory == nil {
		return results
	}

	for _, id := range r.directory.Search(ctx, q) {
		if _, dup := seen[id.IdentityKey]; dup {
			continue
		}
		seen[id.IdentityKey] = struct{}{}
		results = append(results, id)
	}
	return results
}

// project builds the display identity of cert. It fails when no name field resolves.
func (r *Resolver) project(ctx context.Context, cert *identity.Certificate) (identity.ResolvedIdentity, bool) {
	name, ok := r.firstField(ctx, cert, identity.NameFields)
	if !ok {
		return identity.ResolvedIdentity{}, false
	}
	avatar, _ := r.firstField(ctx, cert, identity.AvatarFields)

	return identity.ResolvedIdentity{
		IdentityKey:     cert.Subject,
		Name:            name,
		AvatarURL:       identity.StringPtr(avatar),
		Certifier:       cert.Certifier,
		CertificateType: cert.Type,
	}, true
}

func (r *Resolver) firstField(ctx context.Context, cert *identity.Certificate, names []string) (string, bool) {
	for _, name := range names {
		if v, ok := r.resolveField(ctx, cert, name); ok {
			return v, true
		}
	}
	return "", false
}

// resolveField tries, in order: published plaintext, direct decryption, keyring
// indirection, and finally the raw value unless the field has a keyring entry or looks
// like ciphertext.
func (r *Resolver) resolveField(ctx context.Context, cert *identity.Certificate, name string) (string, bool) {
	if v, ok := cert.PlaintextField(name); ok {
		return nonEmpty(v)
	}

	value := strings.TrimSpace(cert.Fields[name])
	if value == "" {
		return "", false
	}
	if v, ok := r.decryptor.DecryptField(ctx, value, name, cert.SerialNumber, cert.Certifier); ok {
		if v, ok := nonEmpty(v); ok {
			return v, true
		}
	}
	if v, ok := r.decryptor.RevealField(ctx, cert, name); ok {
		if v, ok := nonEmpty(v); ok {
			return v, true
		}
	}
	if _, wrapped := cert.Keyring[name]; wrapped || fielddecrypt.LooksEncrypted(value) {
		r.logger.Debug("Could not decrypt certificate field", "field", name, "subject", cert.Subject)
		return "", false
	}
	return value, true
}

func (r *Resolver) store(id identity.ResolvedIdentity) {
	if err := r.cache.Put(id); err != nil {
		r.logger.Warn("Failed to cache identity", "identityKey", id.IdentityKey, "error", err)
	}
}

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}
