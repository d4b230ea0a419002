package core

import (
	"PerpPool/internal/ledger"
	"PerpPool/internal/state"
	"encoding/binary"
	"sort"
)

// digest serializes the parts of the state a command touched, in a fixed
// order, for the hash chain. Two engines that applied the same commands
// produce the same digest.
func (e *Engine) digest(res *Result) []byte {
	buf := make([]byte, 0, 256)

	// ledger accounts moved by the batch, by path
	if res.Batch != nil {
		keys := make(map[string]ledger.AccountKey, 2*len(res.Batch.Journals))
		for _, j := range res.Batch.Journals {
			keys[j.DebitAccount.AccountPath()] = j.DebitAccount
			keys[j.CreditAccount.AccountPath()] = j.CreditAccount
		}
		paths := make([]string, 0, len(keys))
		for p := range keys {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			buf = appendString(buf, p)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(e.balances.GetBalance(keys[p])))
		}
	}

	for _, acct := range res.Accounts {
		buf = append(buf, acct[:]...)
		if e.margins.Has(acct) {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = binary.LittleEndian.AppendUint64(buf, e.margins.Get(acct))
		for _, pos := range e.positions.AccountPositions(acct) {
			buf = append(buf, pos.CanonicalBytes()...)
		}
	}

	for _, asset := range res.Assets {
		buf = e.appendAsset(buf, asset)
	}
	return buf
}

func (e *Engine) appendAsset(buf []byte, asset state.AssetID) []byte {
	buf = appendString(buf, string(asset))
	p := e.params.Get(asset)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.InitialIMRatio))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.LiquidationRatio))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.TransactionFee))
	if baseline, ok := e.baselines.Baseline(asset); ok {
		raw := baseline.Raw().Bytes32()
		buf = append(buf, 1)
		buf = append(buf, raw[:]...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}
