package domain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Category classifies a log by the kind of contract that emitted it.
type Category string

const (
	CategoryAdmin     Category = "admin"
	CategoryCommunity Category = "community"
	CategoryProtocol  Category = "protocol"
)

// ParsedEvent is a log decoded against the schema of its category.
type ParsedEvent struct {
	Category Category
	Name     string
	Args     map[string]any
	Log      types.Log
}

// Version returns the version stamp of the source log.
func (e *ParsedEvent) Version() Version {
	return VersionOf(e.Log)
}

// Address returns an address argument.
func (e *ParsedEvent) Address(name string) (common.Address, bool) {
	v, ok := e.Args[name].(common.Address)
	return v, ok
}

// Addresses returns an address[] argument.
func (e *ParsedEvent) Addresses(name string) ([]common.Address, bool) {
	v, ok := e.Args[name].([]common.Address)
	return v, ok
}

// BigInt returns a uint/int argument wider than 64 bits.
func (e *ParsedEvent) BigInt(name string) (*big.Int, bool) {
	v, ok := e.Args[name].(*big.Int)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// NormalizeAddress is the canonical storage form of an address.
func NormalizeAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// RegistryEntry maps a community contract to its internal identifiers.
type RegistryEntry struct {
	Address     common.Address
	CommunityID int64
	Public      bool
}
