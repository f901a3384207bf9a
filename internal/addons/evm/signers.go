package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/value"
)

func (a *Addon) Signers() []*construct.SignerSpecification {
	return []*construct.SignerSpecification{
		a.secretKeySigner(),
		a.webWalletSigner(),
	}
}

// secretKeySigner signs in-process from a hex-encoded private key. It never
// surfaces action items; supervised runs use it for throwaway devnets.
func (a *Addon) secretKeySigner() *construct.SignerSpecification {
	spec := &construct.SignerSpecification{
		Name:    "EVM Secret Key Signer",
		Matcher: "secret_key",
		Inputs: []construct.CommandInput{
			{Name: "secret_key", Typing: value.StringType(), Sensitive: true},
			{Name: "nonce", Typing: value.IntegerType(), Optional: true},
		},
		Outputs: []construct.CommandOutput{
			{Name: "address", Typing: value.StringType()},
			{Name: "public_key", Typing: value.StringType()},
		},
	}
	spec.Runner = construct.SignerRunner{
		CheckActivability: func(
			constructDid did.ConstructDid, instanceName string, _ *construct.SignerSpecification,
			values *value.ValueStore, signersState *construct.SignersState,
			_ map[did.ConstructDid]*construct.SignerInstance,
			_ []*frontend.ActionItemRequest, _ []frontend.ActionItemResponse,
			_ *construct.SupervisionContext, _ bool, _ bool,
		) (*construct.SignersState, *frontend.Actions, *diag.Diagnostic) {
			raw, err := values.ExpectString("secret_key")
			if err != nil {
				return signersState, frontend.NoActions(), diag.FromError(err)
			}
			if _, keyErr := parseSecretKey(raw); keyErr != nil {
				return signersState, frontend.NoActions(), keyErr
			}
			return signersState, frontend.NoActions(), nil
		},
		PerformActivation: func(
			_ context.Context, constructDid did.ConstructDid, _ *construct.SignerSpecification,
			values *value.ValueStore, signersState *construct.SignersState,
			_ map[did.ConstructDid]*construct.SignerInstance,
			_ chan<- frontend.BlockEvent,
		) (*construct.SignersState, *construct.CommandExecutionResult, *diag.Diagnostic) {
			raw, err := values.ExpectString("secret_key")
			if err != nil {
				return signersState, nil, diag.FromError(err)
			}
			key, keyErr := parseSecretKey(raw)
			if keyErr != nil {
				return signersState, nil, keyErr
			}
			address := crypto.PubkeyToAddress(key.PublicKey).Hex()
			publicKey := hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey))

			state := signersState.GetSignerState(constructDid)
			state.InsertValue("address", value.String(address))
			state.InsertValue("secret_key", value.String(raw))

			result := construct.NewCommandExecutionResult()
			result.Outputs.Set("address", value.String(address))
			result.Outputs.Set("public_key", value.String(publicKey))
			return signersState, result, nil
		},
		CheckSignability: func(
			callerDid did.ConstructDid, _ string, _ string, _ *value.Value,
			_ *construct.SignerSpecification, _ *value.ValueStore,
			signerState *construct.SignerState,
			_ map[did.ConstructDid]*construct.SignerInstance,
			_ *construct.SupervisionContext,
		) (*construct.SignerState, *frontend.Actions, *diag.Diagnostic) {
			// in-process keys sign during execution; nothing to surface
			return signerState, frontend.NoActions(), nil
		},
		Sign: func(
			callerDid did.ConstructDid, _ string, payload *value.Value,
			_ *construct.SignerSpecification, _ *value.ValueStore,
			signerState *construct.SignerState,
		) (*construct.SignerState, *construct.CommandExecutionResult, *diag.Diagnostic) {
			rawKey, ok := signerState.GetValue("secret_key")
			if !ok {
				return signerState, nil, diag.Errorf(diag.ClassAddon, "signer %s has no key material", signerState.Name)
			}
			keyHex, _ := rawKey.AsString()
			key, keyErr := parseSecretKey(keyHex)
			if keyErr != nil {
				return signerState, nil, keyErr
			}
			tx, chainID, txDiag := transactionFromPayload(payload)
			if txDiag != nil {
				return signerState, nil, txDiag
			}
			signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
			if err != nil {
				return signerState, nil, diag.Errorf(diag.ClassAddon, "failed to sign transaction: %v", err)
			}
			encoded, err := signed.MarshalBinary()
			if err != nil {
				return signerState, nil, diag.Errorf(diag.ClassAddon, "failed to encode transaction: %v", err)
			}
			result := construct.NewCommandExecutionResult()
			result.Outputs.Set(construct.SignedTransactionBytes, value.String(hexutil.Encode(encoded)))
			signerState.InsertScopedValue(callerDid.String(), construct.SignedTransactionBytes,
				value.String(hexutil.Encode(encoded)))
			return signerState, result, nil
		},
	}
	return spec
}

// webWalletSigner delegates all key material to an external wallet across
// the supervision boundary: activation asks for the public key, signing
// asks for signed transaction bytes.
func (a *Addon) webWalletSigner() *construct.SignerSpecification {
	spec := &construct.SignerSpecification{
		Name:                "EVM Web Wallet Signer",
		Matcher:             "web_wallet",
		RequiresInteraction: true,
		Inputs: []construct.CommandInput{
			{Name: "expected_address", Typing: value.StringType(), Optional: true},
		},
		Outputs: []construct.CommandOutput{
			{Name: "address", Typing: value.StringType()},
			{Name: "public_key", Typing: value.StringType()},
		},
	}
	spec.Runner = construct.SignerRunner{
		CheckActivability: func(
			constructDid did.ConstructDid, instanceName string, _ *construct.SignerSpecification,
			values *value.ValueStore, signersState *construct.SignersState,
			_ map[did.ConstructDid]*construct.SignerInstance,
			requests []*frontend.ActionItemRequest, responses []frontend.ActionItemResponse,
			_ *construct.SupervisionContext, _ bool, instantiated bool,
		) (*construct.SignersState, *frontend.Actions, *diag.Diagnostic) {
			state := signersState.GetSignerState(constructDid)

			for _, response := range responses {
				payload, ok := response.Payload.(*frontend.ProvidePublicKeyResponse)
				if !ok {
					continue
				}
				address, addrDiag := addressFromPublicKey(payload.PublicKey)
				if addrDiag != nil {
					return signersState, frontend.NoActions(), addrDiag
				}
				if expected, hasExpectation := values.GetString("expected_address"); hasExpectation {
					if !strings.EqualFold(expected, address) {
						return signersState, frontend.NoActions(), diag.Errorf(diag.ClassAddon,
							"connected wallet %s does not match expected address %s", address, expected)
					}
				}
				state.InsertValue("public_key", value.String(payload.PublicKey))
				state.InsertValue("address", value.String(address))
			}

			if _, connected := state.GetValue("public_key"); connected || instantiated {
				actions := frontend.NoActions()
				for _, request := range requests {
					actions.PushActionItemUpdate(frontend.UpdateFromID(request.ID).
						SetStatus(frontend.StatusSuccessMsg("Wallet connected")))
				}
				return signersState, actions, nil
			}

			item := a.publicKeyRequest(constructDid, instanceName)
			return signersState, frontend.GroupOfItems("Connect wallet "+instanceName, item), nil
		},
		PerformActivation: func(
			_ context.Context, constructDid did.ConstructDid, _ *construct.SignerSpecification,
			_ *value.ValueStore, signersState *construct.SignersState,
			_ map[did.ConstructDid]*construct.SignerInstance,
			_ chan<- frontend.BlockEvent,
		) (*construct.SignersState, *construct.CommandExecutionResult, *diag.Diagnostic) {
			state := signersState.GetSignerState(constructDid)
			address, connected := state.GetValue("address")
			if !connected {
				return signersState, nil, diag.Errorf(diag.ClassAddon, "wallet was never connected")
			}
			publicKey, _ := state.GetValue("public_key")
			result := construct.NewCommandExecutionResult()
			result.Outputs.Set("address", address)
			result.Outputs.Set("public_key", publicKey)
			return signersState, result, nil
		},
		CheckSignability: func(
			callerDid did.ConstructDid, title string, description string, payload *value.Value,
			_ *construct.SignerSpecification, _ *value.ValueStore,
			signerState *construct.SignerState,
			_ map[did.ConstructDid]*construct.SignerInstance,
			_ *construct.SupervisionContext,
		) (*construct.SignerState, *frontend.Actions, *diag.Diagnostic) {
			consumer := callerDid.String()
			if _, signed := signerState.GetScopedValue(consumer, construct.SignedTransactionBytes); signed {
				return signerState, frontend.NoActions(), nil
			}
			skippable := signerState.GetScopedBool(consumer, construct.SignatureSkippable)
			item := frontend.NewActionItemRequest(
				callerDid,
				title,
				description,
				frontend.StatusTodoV(),
				&frontend.ProvideSignedTransactionRequest{
					CheckExpectationActionUuid: uuid.Nil,
					SignerUuid:                 signerState.Did,
					Payload:                    payload,
					Skippable:                  skippable,
					Namespace:                  "evm",
					NetworkID:                  a.networkID,
				},
				"provide_signed_transaction",
			)
			return signerState, frontend.SubGroupOfItems("", item), nil
		},
		Sign: func(
			callerDid did.ConstructDid, _ string, _ *value.Value,
			_ *construct.SignerSpecification, _ *value.ValueStore,
			signerState *construct.SignerState,
		) (*construct.SignerState, *construct.CommandExecutionResult, *diag.Diagnostic) {
			signed, ok := signerState.GetScopedValue(callerDid.String(), construct.SignedTransactionBytes)
			if !ok {
				return signerState, nil, diag.Errorf(diag.ClassAddon, "no signed transaction was provided")
			}
			result := construct.NewCommandExecutionResult()
			result.Outputs.Set(construct.SignedTransactionBytes, signed)
			return signerState, result, nil
		},
	}
	return spec
}

// publicKeyRequest builds the wallet-connection item; the command side
// rebuilds the identical request while blocked so the BlockId stays stable.
func (a *Addon) publicKeyRequest(signerDid did.ConstructDid, instanceName string) *frontend.ActionItemRequest {
	return frontend.NewActionItemRequest(
		signerDid,
		instanceName,
		"Connect the wallet providing this signer's public key",
		frontend.StatusTodoV(),
		&frontend.ProvidePublicKeyRequest{
			CheckExpectationActionUuid: uuid.Nil,
			Namespace:                  "evm",
			NetworkID:                  a.networkID,
		},
		"provide_public_key",
	)
}

func parseSecretKey(raw string) (*ecdsa.PrivateKey, *diag.Diagnostic) {
	trimmed := strings.TrimPrefix(raw, "0x")
	if _, err := hex.DecodeString(trimmed); err != nil {
		return nil, diag.Errorf(diag.ClassAddon, "secret key is not valid hex")
	}
	parsed, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, diag.Errorf(diag.ClassAddon, "invalid secret key: %v", err)
	}
	return parsed, nil
}

func addressFromPublicKey(publicKey string) (string, *diag.Diagnostic) {
	raw, err := hexutil.Decode(publicKey)
	if err != nil {
		return "", diag.Errorf(diag.ClassAddon, "public key is not valid hex: %v", err)
	}
	parsed, err := crypto.UnmarshalPubkey(raw)
	if err != nil {
		return "", diag.Errorf(diag.ClassAddon, "invalid public key: %v", err)
	}
	return crypto.PubkeyToAddress(*parsed).Hex(), nil
}
