package discovery

import (
	"github.com/quartermast-wallet/quartermast/internal/indexer"
	"github.com/quartermast-wallet/quartermast/internal/storage"
)

// Classify determines how a transaction relates to an account given the
// account's owned address set:
//
//   - no owned input spent: funds arrived, the transaction is received
//   - every output pays an owned address: an internal transfer, self
//   - otherwise: funds left the account, sent
func Classify(tx *indexer.Transaction, owned map[string]bool) string {
	anyInputMine := false
	for i := range tx.Inputs {
		if owned[tx.Inputs[i].Address()] {
			anyInputMine = true
			break
		}
	}
	if !anyInputMine {
		return storage.TxTypeReceived
	}

	allOutputsMine := true
	for i := range tx.Outputs {
		if !owned[tx.Outputs[i].Address()] {
			allOutputsMine = false
			break
		}
	}
	if allOutputsMine {
		return storage.TxTypeSelf
	}
	return storage.TxTypeSent
}

// BuildTransaction converts a fetched transaction into its stored form for
// one account, classifying it and computing its displayed value:
//
//   - received: the sum of outputs paying owned addresses
//   - sent: the sum of outputs paying outside addresses, fee excluded
//   - self: zero, only the fee moves
func BuildTransaction(accountID string, tx *indexer.Transaction, owned, change map[string]bool) *storage.Transaction {
	txType := Classify(tx, owned)

	var value int64
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		mine := owned[out.Address()]
		switch txType {
		case storage.TxTypeReceived:
			if mine {
				value += int64(out.Value)
			}
		case storage.TxTypeSent:
			if !mine {
				value += int64(out.Value)
			}
		}
	}

	st := &storage.Transaction{
		Account:     accountID,
		Txid:        tx.Txid,
		Type:        txType,
		Value:       value,
		Fee:         int64(tx.Fee),
		Size:        tx.Size,
		BlockHeight: tx.BlockHeight,
		BlockTime:   tx.BlockTime,
	}
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		st.Inputs = append(st.Inputs, &storage.TxIn{
			Index:   i,
			Address: in.Address(),
			Value:   int64(in.Value),
			Mine:    owned[in.Address()],
		})
	}
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		st.Outputs = append(st.Outputs, &storage.TxOut{
			Index:   int(out.N),
			Address: out.Address(),
			Value:   int64(out.Value),
			Mine:    owned[out.Address()],
			Change:  change[out.Address()],
		})
	}
	return st
}

// ComputeBalance sums an account's transactions into its confirmed balance:
// received value flows in, sent value plus its fee flows out, and self
// transfers cost only their fee.
func ComputeBalance(txs []*storage.Transaction) int64 {
	var balance int64
	for _, tx := range txs {
		switch tx.Type {
		case storage.TxTypeReceived:
			balance += tx.Value
		case storage.TxTypeSent:
			balance -= tx.Value + tx.Fee
		case storage.TxTypeSelf:
			balance -= tx.Fee
		}
	}
	return balance
}

// TotalReceived sums the value ever paid to one address across a
// transaction set.
func TotalReceived(txs []*storage.Transaction, address string) int64 {
	var total int64
	for _, tx := range txs {
		for _, out := range tx.Outputs {
			if out.Address == address {
				total += out.Value
			}
		}
	}
	return total
}
