package fielddecrypt

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/auth/certificates"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/wallet"
)

// KeyID selects how the key identifier for a field is formed.
type KeyID int

const (
	// KeyIDFieldName uses the bare field name.
	KeyIDFieldName KeyID = iota
	// KeyIDSerialAndField uses "<serialNumber> <fieldName>".
	KeyIDSerialAndField
)

// Party selects which certificate party acts as the cryptographic counterparty.
type Party int

const (
	PartyCertifier Party = iota
	PartySubject
)

// KeyDerivationStrategy is one historical way a certificate issuer derived field keys.
type KeyDerivationStrategy struct {
	KeyID        KeyID
	Counterparty Party
}

func (s KeyDerivationStrategy) String() string {
	id := "field"
	if s.KeyID == KeyIDSerialAndField {
		id = "serial+field"
	}
	party := "certifier"
	if s.Counterparty == PartySubject {
		party = "subject"
	}
	return id + "/" + party
}

// DefaultStrategies is tried, in order, for direct field decryption.
var DefaultStrategies = []KeyDerivationStrategy{
	{KeyID: KeyIDFieldName, Counterparty: PartyCertifier},
	{KeyID: KeyIDSerialAndField, Counterparty: PartyCertifier},
}

// RevelationStrategies is tried, in order, when unwrapping a keyring entry.
// Publicly revealed keyrings are encrypted by the subject.
var RevelationStrategies = []KeyDerivationStrategy{
	{KeyID: KeyIDFieldName, Counterparty: PartyCertifier},
	{KeyID: KeyIDSerialAndField, Counterparty: PartyCertifier},
	{KeyID: KeyIDSerialAndField, Counterparty: PartySubject},
}

// Params identifies the certificate a field belongs to.
type Params struct {
	FieldName    string
	SerialNumber string
	Certifier    string
	Subject      string
}

// encryptionArgs builds the wallet arguments for strategy s. It fails when the strategy
// needs a value the certificate does not carry.
func (s KeyDerivationStrategy) encryptionArgs(p Params) (wallet.EncryptionArgs, error) {
	serial := ""
	if s.KeyID == KeyIDSerialAndField {
		if p.SerialNumber == "" {
			return wallet.EncryptionArgs{}, fmt.Errorf("strategy %s requires a serial number", s)
		}
		serial = p.SerialNumber
	}
	protocol, keyID := certificates.GetCertificateEncryptionDetails(p.FieldName, serial)

	party := p.Certifier
	if s.Counterparty == PartySubject {
		party = p.Subject
	}
	pub, err := ec.PublicKeyFromString(party)
	if err != nil {
		return wallet.EncryptionArgs{}, fmt.Errorf("invalid counterparty %q: %w", party, err)
	}

	return wallet.EncryptionArgs{
		ProtocolID: protocol,
		KeyID:      keyID,
		Counterparty: wallet.Counterparty{
			Type:         wallet.CounterpartyTypeOther,
			Counterparty: pub,
		},
	}, nil
}
