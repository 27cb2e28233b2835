package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/bsv-blockchain/go-sdk/util"

	"github.com/MatthewCalhoun/AutoTunez/internal/identity"
)

const (
	// APICertifier marks identities that came from the secondary API.
	APICertifier = "api"
	// APICertificateType marks identities that came from the secondary API.
	APICertificateType = "cached"
)

// SecondaryAPI is an application-level identity directory used when the overlay has
// nothing to say.
type SecondaryAPI struct {
	baseURL    string
	httpClient util.HTTPClient
	logger     *slog.Logger
}

// NewSecondaryAPI creates a client for the directory at baseURL.
func NewSecondaryAPI(baseURL string, httpClient util.HTTPClient, logger *slog.Logger) *SecondaryAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return &SecondaryAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type apiIdentity struct {
	IdentityKey    string `json:"identityKey"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture"`
}

func (a apiIdentity) resolved(key string) (identity.ResolvedIdentity, bool) {
	if a.Username == "" && a.ProfilePicture == "" {
		return identity.ResolvedIdentity{}, false
	}
	if a.IdentityKey != "" {
		key = a.IdentityKey
	}
	name := a.Username
	if name == "" {
		name = "Unknown"
	}
	return identity.ResolvedIdentity{
		IdentityKey:     key,
		Name:            name,
		AvatarURL:       identity.StringPtr(a.ProfilePicture),
		Certifier:       APICertifier,
		CertificateType: APICertificateType,
	}, true
}

// Lookup fetches the identity registered for key.
func (a *SecondaryAPI) Lookup(ctx context.Context, key string) (identity.ResolvedIdentity, bool) {
	if a == nil || a.baseURL == "" || key == "" {
		return identity.ResolvedIdentity{}, false
	}
	var body apiIdentity
	if err := a.get(ctx, "/identity?identityKey="+url.QueryEscape(key), &body); err != nil {
		a.logger.Warn("Identity API lookup failed", "identityKey", key, "error", err)
		return identity.ResolvedIdentity{}, false
	}
	return body.resolved(key)
}

// Search returns the identities whose name matches text.
func (a *SecondaryAPI) Search(ctx context.Context, text string) []identity.ResolvedIdentity {
	if a == nil || a.baseURL == "" {
		return nil
	}
	var body struct {
		Results []apiIdentity `json:"results"`
	}
	if err := a.get(ctx, "/identity/search?query="+url.QueryEscape(text), &body); err != nil {
		a.logger.Warn("Identity API search failed", "query", text, "error", err)
		return nil
	}

	var out []identity.ResolvedIdentity
	for _, r := range body.Results {
		if r.IdentityKey == "" {
			continue
		}
		if id, ok := r.resolved(r.IdentityKey); ok {
			out = append(out, id)
		}
	}
	return out
}

func (a *SecondaryAPI) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &util.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}
