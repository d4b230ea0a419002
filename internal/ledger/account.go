package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeSystemCustody // pool custodial account holding posted collateral
	SubTypeSystemFees    // fee sink (treasury)

	// External sub-types
	SubTypeExternalEndowment // boundary account funding wallets
)

// TreasuryName names the fee sink system account.
const TreasuryName = "treasury"

// AccountKey is the in-memory key for balance tracking. All accounts hold
// the pool's single native currency.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, name bytes for system accounts
	SubType  AccountSubType
}

// NewUserAccountKey creates a key for a participant wallet
func NewUserAccountKey(account uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: account,
		SubType:  SubTypeWallet,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
	}
}

// CustodyAccount is the pool custodial account for a pool id.
func CustodyAccount(poolID string) AccountKey {
	return NewSystemAccountKey(poolID, SubTypeSystemCustody)
}

// FeeSinkAccount is the treasury receiving transaction fees.
func FeeSinkAccount() AccountKey {
	return NewSystemAccountKey(TreasuryName, SubTypeSystemFees)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s", uid.String(), k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", systemName(k.EntityID), k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

func systemName(id [16]byte) string {
	n := 0
	for n < len(id) && id[n] != 0 {
		n++
	}
	return string(id[:n])
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeSystemCustody:
		return "custody"
	case SubTypeSystemFees:
		return "fees"
	case SubTypeExternalEndowment:
		return "endowment"
	default:
		return "unknown"
	}
}
