// Package certificate extracts identity certificates from overlay outputs. A certificate
// token is a locking script in which one of the pushed data chunks is the certificate's
// JSON document; the parser walks every chunk and keeps the first one that decodes to a
// certificate for the requested subject (or, in search mode, the requested name).
package certificate

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/MatthewCalhoun/AutoTunez/internal/identity"
)

// minChunkLength is the smallest data push considered as a certificate document.
const minChunkLength = 11

// payload is the JSON shape of a certificate document.
type payload struct {
	Type                    string         `json:"type"`
	Subject                 string         `json:"subject"`
	Certifier               string         `json:"certifier"`
	SerialNumber            string         `json:"serialNumber"`
	Fields                  map[string]any `json:"fields"`
	DecryptedFields         map[string]any `json:"decryptedFields"`
	Keyring                 map[string]any `json:"keyring"`
	PubliclyRevealedKeyring map[string]any `json:"publiclyRevealedKeyring"`
	MasterKeyring           map[string]any `json:"masterKeyring"`
}

// Parser decodes certificate payloads from BEEF envelopes.
// It never fails: anything malformed is logged at debug level and skipped.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser. A nil logger falls back to a stdout text logger.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return &Parser{logger: logger}
}

// ParseCertificateFromOutput returns the certificate in the given output whose subject is
// exactly expectedSubject.
func (p *Parser) ParseCertificateFromOutput(beef []byte, outputIndex uint32, expectedSubject identity.Key) (*identity.Certificate, bool) {
	if expectedSubject == "" {
		return nil, false
	}
	return p.parse(beef, outputIndex, func(doc *payload) bool {
		return doc.Subject == expectedSubject
	})
}

// ParseCertificateForSearch returns the certificate in the given output whose display name
// contains query, compared case-insensitively.
func (p *Parser) ParseCertificateForSearch(beef []byte, outputIndex uint32, query string) (*identity.Certificate, bool) {
	needle := identity.NormalizeQuery(query)
	if needle == "" {
		return nil, false
	}
	return p.parse(beef, outputIndex, func(doc *payload) bool {
		if doc.Subject == "" {
			return false
		}
		for _, source := range []map[string]any{doc.DecryptedFields, doc.Fields} {
			for _, name := range identity.NameFields {
				if v, ok := source[name].(string); ok && strings.Contains(strings.ToLower(v), needle) {
					return true
				}
			}
		}
		return false
	})
}

func (p *Parser) parse(beef []byte, outputIndex uint32, match func(*payload) bool) (*identity.Certificate, bool) {
	scripts, err := lockingScripts(beef, outputIndex)
	if err != nil {
		p.logger.Debug("Skipping output with unreadable envelope", "outputIndex", outputIndex, "error", err)
		return nil, false
	}

	for _, s := range scripts {
		chunks, err := s.Chunks()
		if err != nil {
			p.logger.Debug("Skipping unparseable locking script", "outputIndex", outputIndex, "error", err)
			continue
		}
		for _, chunk := range chunks {
			if len(chunk.Data) < minChunkLength || !utf8.Valid(chunk.Data) {
				continue
			}
			if !bytes.HasPrefix(chunk.Data, []byte("{")) {
				continue
			}
			var doc payload
			if err := json.Unmarshal(chunk.Data, &doc); err != nil {
				continue
			}
			if !match(&doc) {
				continue
			}
			return doc.certificate(), true
		}
	}
	return nil, false
}

func (d *payload) certificate() *identity.Certificate {
	cert := &identity.Certificate{
		Subject:         d.Subject,
		Certifier:       d.Certifier,
		Type:            d.Type,
		SerialNumber:    d.SerialNumber,
		DecryptedFields: stringMap(d.DecryptedFields),
	}
	if cert.Certifier == "" {
		cert.Certifier = identity.UnknownCertifier
	}
	if cert.Type == "" {
		cert.Type = identity.FallbackCertificateType
	}

	switch {
	case d.Fields != nil:
		cert.Fields = stringMap(d.Fields)
	case d.DecryptedFields != nil:
		cert.Fields = stringMap(d.DecryptedFields)
	default:
		cert.Fields = map[string]string{}
	}

	for _, keyring := range []map[string]any{d.Keyring, d.PubliclyRevealedKeyring, d.MasterKeyring} {
		if len(keyring) > 0 {
			cert.Keyring = stringMap(keyring)
			break
		}
	}
	return cert
}

// stringMap keeps the string-valued entries of m.
func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
