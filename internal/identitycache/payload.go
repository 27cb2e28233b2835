package identitycache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MatthewCalhoun/AutoTunez/internal/identity"
)

type envelope struct {
	Version int                                      `json:"version"`
	Entries map[identity.Key]identity.CachedIdentity `json:"entries"`
}

// storedEntry accepts cachedAt as RFC 3339 text or as Unix milliseconds.
type storedEntry struct {
	IdentityKey     string          `json:"identityKey"`
	Name            string          `json:"name"`
	AvatarURL       *string         `json:"avatarURL"`
	Certifier       string          `json:"certifier"`
	CertificateType string          `json:"certificateType"`
	CachedAt        json.RawMessage `json:"cachedAt"`
}

func (s storedEntry) cached(key identity.Key) (identity.CachedIdentity, error) {
	if s.IdentityKey != "" {
		key = s.IdentityKey
	}
	if key == "" {
		return identity.CachedIdentity{}, errors.New("entry without identity key")
	}
	var avatar *string
	if s.AvatarURL != nil {
		avatar = identity.StringPtr(*s.AvatarURL)
	}
	at, err := parseCachedAt(s.CachedAt)
	if err != nil {
		return identity.CachedIdentity{}, err
	}
	return identity.CachedIdentity{
		ResolvedIdentity: identity.ResolvedIdentity{
			IdentityKey:     key,
			Name:            s.Name,
			AvatarURL:       avatar,
			Certifier:       s.Certifier,
			CertificateType: s.CertificateType,
		},
		CachedAt: at,
	}, nil
}

func parseCachedAt(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return time.Time{}, fmt.Errorf("invalid cachedAt: %w", err)
		}
		return t.UTC(), nil
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("invalid cachedAt: %w", err)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

// decodePayload reads the current envelope and both legacy shapes.
func decodePayload(data []byte) (map[identity.Key]identity.CachedIdentity, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}

	raw := make(map[identity.Key]storedEntry)
	switch data[0] {
	case '[':
		var pairs []json.RawMessage
		if err := json.Unmarshal(data, &pairs); err != nil {
			return nil, fmt.Errorf("invalid pair list: %w", err)
		}
		for _, p := range pairs {
			var pair []json.RawMessage
			if err := json.Unmarshal(p, &pair); err != nil || len(pair) != 2 {
				return nil, errors.New("invalid key/value pair")
			}
			var key string
			if err := json.Unmarshal(pair[0], &key); err != nil {
				return nil, fmt.Errorf("invalid pair key: %w", err)
			}
			var e storedEntry
			if err := json.Unmarshal(pair[1], &e); err != nil {
				return nil, fmt.Errorf("invalid pair value: %w", err)
			}
			raw[key] = e
		}
	case '{':
		var top map[string]json.RawMessage
		if err := json.Unmarshal(data, &top); err != nil {
			return nil, fmt.Errorf("invalid object: %w", err)
		}
		body := data
		if _, hasVersion := top["version"]; hasVersion {
			entries, ok := top["entries"]
			if !ok {
				return nil, errors.New("versioned payload without entries")
			}
			body = entries
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("invalid entries: %w", err)
		}
	default:
		return nil, errors.New("unrecognized payload")
	}

	out := make(map[identity.Key]identity.CachedIdentity, len(raw))
	for key, e := range raw {
		c, err := e.cached(key)
		if err != nil {
			return nil, err
		}
		if c.Name == "" {
			continue
		}
		out[c.IdentityKey] = c
	}
	return out, nil
}
