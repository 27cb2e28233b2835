package certificate

import (
	"fmt"
	"sort"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// lockingScripts decodes a BEEF envelope and returns the locking script at outputIndex of
// every candidate transaction. V1 and Atomic BEEF designate a single subject transaction;
// for V2 envelopes each tip (a transaction no other transaction in the envelope spends)
// is a candidate.
func lockingScripts(beef []byte, outputIndex uint32) (scripts []*script.Script, err error) {
	defer func() {
		if r := recover(); r != nil {
			scripts, err = nil, fmt.Errorf("malformed envelope: %v", r)
		}
	}()

	txs, err := candidateTransactions(beef)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if int(outputIndex) >= len(tx.Outputs) {
			continue
		}
		out := tx.Outputs[outputIndex]
		if out == nil || out.LockingScript == nil || len(*out.LockingScript) == 0 {
			continue
		}
		scripts = append(scripts, out.LockingScript)
	}
	return scripts, nil
}

func candidateTransactions(beef []byte) ([]*transaction.Transaction, error) {
	if tx, err := transaction.NewTransactionFromBEEF(beef); err == nil && tx != nil {
		return []*transaction.Transaction{tx}, nil
	}

	b, tx, _, err := transaction.ParseBeef(beef)
	if err != nil {
		return nil, fmt.Errorf("failed to parse BEEF: %w", err)
	}
	if tx != nil {
		return []*transaction.Transaction{tx}, nil
	}
	if b == nil {
		return nil, fmt.Errorf("empty BEEF")
	}

	spent := make(map[chainhash.Hash]struct{})
	for _, btx := range b.Transactions {
		if btx == nil || btx.Transaction == nil {
			continue
		}
		for _, in := range btx.Transaction.Inputs {
			if in.SourceTXID != nil {
				spent[*in.SourceTXID] = struct{}{}
			}
		}
	}

	type tip struct {
		txid string
		tx   *transaction.Transaction
	}
	var tips []tip
	for txid, btx := range b.Transactions {
		if btx == nil || btx.Transaction == nil {
			continue
		}
		if _, ok := spent[txid]; ok {
			continue
		}
		tips = append(tips, tip{txid: txid.String(), tx: btx.Transaction})
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].txid < tips[j].txid })

	txs := make([]*transaction.Transaction, 0, len(tips))
	for _, t := range tips {
		txs = append(txs, t.tx)
	}
	return txs, nil
}
