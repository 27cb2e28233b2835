// Package fielddecrypt decrypts certificate field values. Certificate issuers have used
// several key-identifier formats and IV lengths over time, so every operation walks an
// ordered list of alternatives and reports only whether one of them worked.
package fielddecrypt

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	aesgcm "github.com/bsv-blockchain/go-sdk/primitives/aesgcm"
	"github.com/bsv-blockchain/go-sdk/wallet"

	"github.com/MatthewCalhoun/AutoTunez/internal/identity"
)

const tagLength = 16

// walletIVLength is the IV length the wallet's symmetric encryption writes.
const walletIVLength = 32

// DefaultIVLengths are the IV prefix lengths tried, in order, by DecryptWithKey.
var DefaultIVLengths = []int{32, 16, 12}

// Decrypter is the decryption capability of a wallet. *wallet.ProtoWallet satisfies it.
type Decrypter interface {
	Decrypt(ctx context.Context, args wallet.DecryptArgs, originator string) (*wallet.DecryptResult, error)
}

// Decryptor resolves certificate field ciphertext to plaintext.
type Decryptor struct {
	wallet     Decrypter
	originator string
	logger     *slog.Logger

	IVLengths            []int
	Strategies           []KeyDerivationStrategy
	RevelationStrategies []KeyDerivationStrategy
}

// New creates a Decryptor using w for key derivation.
func New(w Decrypter, originator string, logger *slog.Logger) *Decryptor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return &Decryptor{
		wallet:               w,
		originator:           originator,
		logger:               logger,
		IVLengths:            DefaultIVLengths,
		Strategies:           DefaultStrategies,
		RevelationStrategies: RevelationStrategies,
	}
}

// DecryptWithKey decrypts IV || ciphertext || tag with a raw AES-GCM key, trying each
// candidate IV length until one authenticates and yields valid UTF-8.
func (d *Decryptor) DecryptWithKey(ciphertext, key []byte) (string, bool) {
	if len(key) == 0 {
		return "", false
	}
	for _, ivLen := range d.IVLengths {
		if len(ciphertext) < ivLen+tagLength {
			continue
		}
		plaintext, err := openAESGCM(ciphertext, key, ivLen)
		if err != nil {
			continue
		}
		if !utf8.Valid(plaintext) {
			continue
		}
		return string(plaintext), true
	}
	return "", false
}

func openAESGCM(message, key []byte, ivLen int) (plaintext []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			plaintext, err = nil, fmt.Errorf("aes-gcm panic: %v", r)
		}
	}()
	iv := message[:ivLen]
	body := message[ivLen : len(message)-tagLength]
	tag := message[len(message)-tagLength:]
	return aesgcm.AESGCMDecrypt(body, key, iv, []byte{}, tag)
}

// DecryptField decrypts a base64 field value directly through the wallet, using the
// certifier as counterparty and each key-identifier strategy in turn.
func (d *Decryptor) DecryptField(ctx context.Context, ciphertext, fieldName, serialNumber, certifier string) (string, bool) {
	raw, ok := decodeBase64(ciphertext)
	if !ok {
		return "", false
	}
	p := Params{FieldName: fieldName, SerialNumber: serialNumber, Certifier: certifier}
	plaintext, ok := d.walletDecrypt(ctx, raw, p, d.Strategies)
	if !ok || !utf8.Valid(plaintext) {
		return "", false
	}
	return string(plaintext), true
}

// UnwrapRevelationKey decrypts a keyring entry into raw symmetric key material.
func (d *Decryptor) UnwrapRevelationKey(ctx context.Context, wrapped, fieldName string, cert *identity.Certificate) ([]byte, bool) {
	if cert == nil {
		return nil, false
	}
	raw, ok := decodeBase64(wrapped)
	if !ok {
		return nil, false
	}
	p := Params{
		FieldName:    fieldName,
		SerialNumber: cert.SerialNumber,
		Certifier:    cert.Certifier,
		Subject:      cert.Subject,
	}
	return d.walletDecrypt(ctx, raw, p, d.RevelationStrategies)
}

// RevealField decrypts a field through the certificate's keyring: the keyring entry is
// unwrapped into a field key which then opens the field ciphertext.
func (d *Decryptor) RevealField(ctx context.Context, cert *identity.Certificate, fieldName string) (string, bool) {
	if cert == nil {
		return "", false
	}
	wrapped, ok := cert.Keyring[fieldName]
	if !ok || wrapped == "" {
		return "", false
	}
	ciphertext, ok := decodeBase64(cert.Fields[fieldName])
	if !ok {
		return "", false
	}
	key, ok := d.UnwrapRevelationKey(ctx, wrapped, fieldName, cert)
	if !ok {
		return "", false
	}
	return d.DecryptWithKey(ciphertext, key)
}

func (d *Decryptor) walletDecrypt(ctx context.Context, ciphertext []byte, p Params, strategies []KeyDerivationStrategy) ([]byte, bool) {
	if d.wallet == nil {
		return nil, false
	}
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, false
		}
		args, err := s.encryptionArgs(p)
		if err != nil {
			d.logger.Debug("Skipping key derivation strategy", "field", p.FieldName, "strategy", s.String(), "error", err)
			continue
		}
		res, err := d.wallet.Decrypt(ctx, wallet.DecryptArgs{EncryptionArgs: args, Ciphertext: ciphertext}, d.originator)
		if err != nil || res == nil {
			d.logger.Debug("Field decryption attempt failed", "field", p.FieldName, "strategy", s.String(), "error", err)
			continue
		}
		return res.Plaintext, true
	}
	return nil, false
}

// LooksEncrypted reports whether value is plausibly wallet ciphertext rather than
// plaintext: padded standard base64 long enough to carry an IV, a tag and a payload.
func LooksEncrypted(value string) bool {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	return err == nil && len(raw) > walletIVLength+tagLength
}

func decodeBase64(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) > 0 {
			return b, true
		}
	}
	return nil, false
}
