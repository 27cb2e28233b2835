// Package overlay queries identity lookup services on the overlay network.
//
// Hosts are tried in their configured order. The first host that answers with a
// well-formed output list is treated as authoritative, even when the list is empty,
// and no further hosts are queried.
package overlay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/util"
)

// IdentityService is the lookup service holding identity certificates.
const IdentityService = "ls_identity"

// DefaultTimeout bounds a single host request.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps the body read from a host.
const maxResponseBytes = 16 << 20

// MainnetHosts are the default identity overlay hosts, in priority order.
var MainnetHosts = []string{
	"https://overlay-us-1.bsvb.tech",
	"https://overlay-eu-1.bsvb.tech",
	"https://overlay-ap-1.bsvb.tech",
}

// TestnetHosts are the default hosts on testnet.
var TestnetHosts = lookup.DEFAULT_TESTNET_SLAP_TRACKERS

var errHostRejected = errors.New("host returned an error status")

// RawOutput is a certificate-bearing output returned by a host.
type RawOutput struct {
	Beef        []byte
	OutputIndex uint32
	Host        string
}

// Config configures a Client.
type Config struct {
	Hosts      []string
	Service    string
	Certifiers []string
	Timeout    time.Duration
	HTTPClient util.HTTPClient
	Logger     *slog.Logger
}

// Client queries identity lookup hosts.
type Client struct {
	hosts      []string
	service    string
	certifiers []string
	httpClient util.HTTPClient
	logger     *slog.Logger
}

// NewClient creates a Client. Empty fields take their defaults.
func NewClient(cfg Config) *Client {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = MainnetHosts
	}
	if cfg.Service == "" {
		cfg.Service = IdentityService
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	hosts := make([]string, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		if h = strings.TrimRight(strings.TrimSpace(h), "/"); h != "" {
			hosts = append(hosts, h)
		}
	}

	return &Client{
		hosts:      hosts,
		service:    cfg.Service,
		certifiers: cfg.Certifiers,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Hosts returns the hosts in query order.
func (c *Client) Hosts() []string {
	return append([]string(nil), c.hosts...)
}

type identityQuery struct {
	IdentityKey string   `json:"identityKey"`
	Certifiers  []string `json:"certifiers"`
}

type attributeQuery struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	Certifiers []string          `json:"certifiers"`
}

// QueryByIdentityKey returns outputs that may hold certificates for key.
func (c *Client) QueryByIdentityKey(ctx context.Context, key string) []RawOutput {
	variants := []any{identityQuery{IdentityKey: key, Certifiers: []string{}}}
	if len(c.certifiers) > 0 {
		variants = append(variants, identityQuery{IdentityKey: key, Certifiers: c.certifiers})
	}
	return c.query(ctx, variants)
}

// QueryByNamePrefix returns outputs that may hold certificates whose attributes match text.
func (c *Client) QueryByNamePrefix(ctx context.Context, text string) []RawOutput {
	text = strings.TrimSpace(text)
	variants := []any{attributeQuery{Attributes: map[string]string{"any": text}, Certifiers: []string{}}}
	if len(c.certifiers) > 0 {
		variants = append(variants,
			attributeQuery{Attributes: map[string]string{"any": text}, Certifiers: c.certifiers},
			attributeQuery{Certifiers: c.certifiers},
		)
	}
	return c.query(ctx, variants)
}

// query runs the variants against each host in order. Within a host the variants are
// tried until one yields outputs; a host that answered at least once ends the search.
func (c *Client) query(ctx context.Context, variants []any) []RawOutput {
	for _, host := range c.hosts {
		answered := false
		for _, v := range variants {
			if err := ctx.Err(); err != nil {
				c.logger.Debug("Overlay query cancelled", "error", err)
				return nil
			}
			outputs, err := c.lookup(ctx, host, v)
			if err != nil {
				c.logger.Warn("Overlay query failed", "host", host, "error", err)
				continue
			}
			answered = true
			if len(outputs) > 0 {
				c.logger.Debug("Overlay host returned outputs", "host", host, "count", len(outputs))
				return outputs
			}
		}
		if answered {
			c.logger.Debug("Overlay host answered with no outputs", "host", host)
			return nil
		}
	}
	return nil
}

// answer is a lookup response. It mirrors lookup.LookupAnswer but also exposes the
// error envelope hosts use and accepts BEEF in any of the encodings seen in the wild.
type answer struct {
	Type    lookup.AnswerType `json:"type"`
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Outputs []struct {
		Beef        beefBytes `json:"beef"`
		OutputIndex uint32    `json:"outputIndex"`
	} `json:"outputs"`
}

func (c *Client) lookup(ctx context.Context, host string, query any) ([]RawOutput, error) {
	q, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	body, err := json.Marshal(&lookup.LookupQuestion{Service: c.service, Query: q})
	if err != nil {
		return nil, fmt.Errorf("failed to encode question: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/lookup", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var a answer
	if err := json.Unmarshal(data, &a); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &util.HTTPError{StatusCode: resp.StatusCode, Err: errors.New("lookup failed")}
		}
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if a.Status == "error" {
		return nil, fmt.Errorf("%w: %s", errHostRejected, a.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &util.HTTPError{StatusCode: resp.StatusCode, Err: errors.New("lookup failed")}
	}
	if a.Type != lookup.AnswerTypeOutputList {
		return nil, fmt.Errorf("unexpected answer type %q", a.Type)
	}

	outputs := make([]RawOutput, 0, len(a.Outputs))
	for _, o := range a.Outputs {
		if len(o.Beef) == 0 {
			continue
		}
		outputs = append(outputs, RawOutput{Beef: o.Beef, OutputIndex: o.OutputIndex, Host: host})
	}
	return outputs, nil
}

// beefBytes decodes BEEF sent as a JSON number array, a base64 string or a hex string.
// Undecodable values leave it empty so one bad output does not spoil the answer.
type beefBytes []byte

func (b *beefBytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '[' {
		var nums []int
		if err := json.Unmarshal(data, &nums); err != nil {
			return nil
		}
		out := make([]byte, len(nums))
		for i, n := range nums {
			if n < 0 || n > 255 {
				return nil
			}
			out[i] = byte(n)
		}
		*b = out
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if raw, err := hex.DecodeString(s); err == nil {
		*b = raw
		return nil
	}
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		*b = raw
	}
	return nil
}
