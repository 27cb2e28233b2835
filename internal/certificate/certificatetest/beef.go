// Package certificatetest builds BEEF envelopes carrying certificate tokens for tests.
package certificatetest

import (
	"encoding/json"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/pushdrop"
)

// Document is the JSON body of a certificate token.
type Document struct {
	Type                    string            `json:"type,omitempty"`
	Subject                 string            `json:"subject,omitempty"`
	Certifier               string            `json:"certifier,omitempty"`
	SerialNumber            string            `json:"serialNumber,omitempty"`
	Fields                  map[string]string `json:"fields,omitempty"`
	DecryptedFields         map[string]string `json:"decryptedFields,omitempty"`
	Keyring                 map[string]string `json:"keyring,omitempty"`
	PubliclyRevealedKeyring map[string]string `json:"publiclyRevealedKeyring,omitempty"`
}

// PushDropScript returns a lock-before PushDrop script whose first field is data.
func PushDropScript(t testing.TB, data ...[]byte) *script.Script {
	t.Helper()
	key, err := ec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to create key: %v", err)
	}
	pub := key.PubKey().Compressed()
	chunks := []*script.ScriptChunk{
		{Op: byte(len(pub)), Data: pub},
		{Op: script.OpCHECKSIG},
	}
	for _, d := range data {
		chunks = append(chunks, pushdrop.CreateMinimallyEncodedScriptChunk(d))
	}
	for left := len(data); left > 0; left -= 2 {
		if left > 1 {
			chunks = append(chunks, &script.ScriptChunk{Op: script.Op2DROP})
		} else {
			chunks = append(chunks, &script.ScriptChunk{Op: script.OpDROP})
		}
	}
	s, err := script.NewScriptFromScriptOps(chunks)
	if err != nil {
		t.Fatalf("failed to build script: %v", err)
	}
	return s
}

// DocumentBytes marshals a certificate document.
func DocumentBytes(t testing.TB, doc Document) []byte {
	t.Helper()
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal document: %v", err)
	}
	return b
}

// BEEF returns a V1 BEEF envelope with one output per script.
func BEEF(t testing.TB, scripts ...*script.Script) []byte {
	t.Helper()
	tx := transaction.NewTransaction()
	for _, s := range scripts {
		tx.Outputs = append(tx.Outputs, &transaction.TransactionOutput{
			Satoshis:      1,
			LockingScript: s,
		})
	}
	beef, err := tx.BEEF()
	if err != nil {
		t.Fatalf("failed to encode BEEF: %v", err)
	}
	return beef
}

// CertificateBEEF returns a BEEF envelope whose output 0 carries doc.
func CertificateBEEF(t testing.TB, doc Document) []byte {
	t.Helper()
	return BEEF(t, PushDropScript(t, DocumentBytes(t, doc)))
}
