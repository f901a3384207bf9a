// Package evm binds the engine to Ethereum-family chains: a send_eth
// command, secret-key and web-wallet signers, address helpers and the
// addon-typed values they exchange. All chain I/O goes through the RPC
// interface the host injects; a nil RPC runs fully offline, which the test
// suites rely on.
package evm

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/recinq/quill/internal/addon"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/value"
)

// Addon-typed opaque value identifiers this namespace owns.
const (
	TypeAddress     = "evm::address"
	TypeTransaction = "evm::transaction"
	TypeInitCode    = "evm::init_code"
)

// RPC is the chain surface the addon needs; the engine core never opens a
// connection itself.
type RPC interface {
	PendingNonceAt(address string) (uint64, error)
	SendRawTransaction(signedTx []byte) (txHash string, err error)
	TransactionConfirmed(txHash string) (bool, error)
	ChainID() (uint64, error)
}

type Addon struct {
	rpc       RPC
	networkID string
	chainID   uint64
}

func New(rpc RPC, networkID string, chainID uint64) *Addon {
	return &Addon{rpc: rpc, networkID: networkID, chainID: chainID}
}

func (a *Addon) Namespace() string { return "evm" }

func (a *Addon) TypeIDs() []string {
	return []string{TypeAddress, TypeTransaction, TypeInitCode}
}

func (a *Addon) Functions() []addon.FunctionSpecification {
	return []addon.FunctionSpecification{
		{
			Name:          "address",
			Documentation: "Parses a 0x-prefixed hex string into an address value.",
			Run:           addressFn,
		},
		{
			Name:          "chain_id",
			Documentation: "Returns the chain id for a named network.",
			Run:           chainIDFn,
		},
	}
}

func addressFn(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	if len(args) != 1 {
		return nil, diag.Errorf(diag.ClassEvaluation, "evm::address expects 1 argument, got %d", len(args))
	}
	raw, ok := args[0].AsString()
	if !ok {
		return nil, diag.Errorf(diag.ClassTyping, "evm::address expects a string, got %s", args[0].Kind())
	}
	if !common.IsHexAddress(raw) {
		return nil, diag.Errorf(diag.ClassEvaluation, "invalid address %q", raw)
	}
	return value.Addon(TypeAddress, common.HexToAddress(raw).Bytes()), nil
}

var namedChains = map[string]int64{
	"mainnet": 1,
	"sepolia": 11155111,
	"holesky": 17000,
	"base":    8453,
}

func chainIDFn(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	if len(args) != 1 {
		return nil, diag.Errorf(diag.ClassEvaluation, "evm::chain_id expects 1 argument, got %d", len(args))
	}
	name, ok := args[0].AsString()
	if !ok {
		return nil, diag.Errorf(diag.ClassTyping, "evm::chain_id expects a string, got %s", args[0].Kind())
	}
	id, known := namedChains[name]
	if !known {
		return nil, diag.Errorf(diag.ClassEvaluation, "unknown network %q", name)
	}
	return value.Integer(id), nil
}

// addressString renders either a string or an evm::address value.
func addressString(v *value.Value) (string, bool) {
	if s, ok := v.AsString(); ok {
		if !common.IsHexAddress(s) {
			return "", false
		}
		return common.HexToAddress(s).Hex(), true
	}
	if id, payload, ok := v.AsAddon(); ok && id == TypeAddress {
		return common.BytesToAddress(payload).Hex(), true
	}
	return "", false
}
