package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/value"
)

const (
	defaultGasLimit = 21_000
	defaultGasPrice = 1_000_000_000

	unsignedTransactionPayload = "unsigned_transaction_payload"
)

func (a *Addon) Commands() []*construct.CommandSpecification {
	return []*construct.CommandSpecification{a.sendETHCommand()}
}

// sendETHCommand transfers native currency. The check phase resolves the
// upstream signer, freezes the unsigned payload in the signer's scoped
// state, and delegates the signature request to the signer kind; the run
// phase broadcasts and the background task awaits confirmation.
func (a *Addon) sendETHCommand() *construct.CommandSpecification {
	spec := &construct.CommandSpecification{
		Name:                               "Send ETH",
		Matcher:                            "send_eth",
		CreateCriticalOutput:               "tx_hash",
		ImplementsSigningCapability:        true,
		ImplementsBackgroundTaskCapability: true,
		Inputs: []construct.CommandInput{
			{Name: "signer", Typing: value.StringType(), Tainting: true},
			{Name: "recipient_address", Typing: value.AnyType(), Tainting: true},
			{Name: "amount", Typing: value.IntegerType(), Tainting: true},
			{Name: "gas_limit", Typing: value.IntegerType(), Optional: true},
			{Name: "gas_price", Typing: value.IntegerType(), Optional: true},
			{Name: "nonce", Typing: value.IntegerType(), Optional: true},
			{Name: "chain_id", Typing: value.IntegerType(), Optional: true},
		},
		Outputs: []construct.CommandOutput{
			{Name: "tx_hash", Typing: value.StringType()},
		},
	}
	spec.Runner = construct.CommandRunner{
		CheckSignedExecutability: a.checkSendETH,
		RunSignedExecution:       a.runSendETH,
		BuildBackgroundTask:      a.confirmationTask,
	}
	return spec
}

func (a *Addon) checkSendETH(
	constructDid did.ConstructDid, instanceName string, _ *construct.CommandSpecification,
	values *value.ValueStore, supervision *construct.SupervisionContext,
	_ []frontend.ActionItemResponse,
	signersInstances map[did.ConstructDid]*construct.SignerInstance,
	signersState *construct.SignersState,
) (*construct.SignersState, *frontend.Actions, *diag.Diagnostic) {
	signerDid, signerInstance, d := resolveSigner(values, signersInstances)
	if d != nil {
		return signersState, frontend.NoActions(), d
	}
	state := signersState.PopSignerState(signerDid)
	if state == nil {
		return signersState, frontend.NoActions(), diag.Errorf(diag.ClassAddon,
			"signer %s has not been initialized", signerInstance.Name)
	}

	address, connected := state.GetValue("address")
	if !connected {
		// the wallet is not connected yet; re-surface the signer's
		// connection item so this construct stays suspended
		item := a.publicKeyRequest(signerDid, signerInstance.Name)
		signersState.PushSignerState(state)
		return signersState, frontend.GroupOfItems("Connect wallet "+signerInstance.Name, item), nil
	}

	consumer := constructDid.String()
	payload, frozen := state.GetScopedValue(consumer, unsignedTransactionPayload)
	if !frozen {
		addressHex, _ := address.AsString()
		var payloadDiag *diag.Diagnostic
		payload, payloadDiag = a.buildPayload(values, state, addressHex)
		if payloadDiag != nil {
			signersState.PushSignerState(state)
			return signersState, frontend.NoActions(), payloadDiag
		}
		state.InsertScopedValue(consumer, unsignedTransactionPayload, payload)
		state.InsertScopedValue(consumer, construct.SignatureSkippable, value.Bool(false))
	}

	state, actions, signDiag := signerInstance.Specification.Runner.CheckSignability(
		constructDid, "Sign transaction "+instanceName, "", payload,
		signerInstance.Specification, values, state, signersInstances, supervision)
	signersState.PushSignerState(state)
	if signDiag != nil {
		return signersState, frontend.NoActions(), signDiag
	}
	return signersState, actions, nil
}

func (a *Addon) runSendETH(
	_ context.Context,
	constructDid did.ConstructDid, _ *construct.CommandSpecification,
	values *value.ValueStore,
	signersInstances map[did.ConstructDid]*construct.SignerInstance,
	signersState *construct.SignersState,
	progress *frontend.StatusUpdater,
) (*construct.SignersState, *construct.CommandExecutionResult, *diag.Diagnostic) {
	signerDid, signerInstance, d := resolveSigner(values, signersInstances)
	if d != nil {
		return signersState, nil, d
	}
	state := signersState.PopSignerState(signerDid)
	if state == nil {
		return signersState, nil, diag.Errorf(diag.ClassAddon,
			"signer %s has not been initialized", signerInstance.Name)
	}
	consumer := constructDid.String()

	signedBytes, haveSignature := state.GetScopedValue(consumer, construct.SignedTransactionBytes)
	if !haveSignature {
		payload, _ := state.GetScopedValue(consumer, unsignedTransactionPayload)
		var signResult *construct.CommandExecutionResult
		var signDiag *diag.Diagnostic
		state, signResult, signDiag = signerInstance.Specification.Runner.Sign(
			constructDid, "Sign transaction", payload,
			signerInstance.Specification, values, state)
		if signDiag != nil {
			signersState.PushSignerState(state)
			return signersState, nil, signDiag
		}
		signedBytes, _ = signResult.Outputs.Get(construct.SignedTransactionBytes)
	}
	signersState.PushSignerState(state)

	result := construct.NewCommandExecutionResult()
	if signedBytes.IsNull() {
		// skippable request proceeded without a signature
		result.Outputs.Set("tx_hash", value.Null())
		return signersState, result, nil
	}

	encoded, _ := signedBytes.AsString()
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return signersState, nil, diag.Errorf(diag.ClassAddon, "signed transaction is not valid hex: %v", err)
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return signersState, nil, diag.Errorf(diag.ClassAddon, "failed to decode signed transaction: %v", err)
	}

	progress.PropagatePendingStatus("Broadcasting transaction")
	txHash := tx.Hash().Hex()
	if a.rpc != nil {
		broadcastHash, err := a.rpc.SendRawTransaction(raw)
		if err != nil {
			return signersState, nil, diag.Errorf(diag.ClassAddon, "broadcast failed: %v", err)
		}
		txHash = broadcastHash
	}
	result.Outputs.Set("tx_hash", value.String(txHash))
	return signersState, result, nil
}

// confirmationTask polls the chain until the transaction confirms. The
// future is cancel-safe: cancellation yields no result and the construct is
// re-tainted on the next pass.
func (a *Addon) confirmationTask(
	constructDid did.ConstructDid, _ *construct.CommandSpecification,
	_ *value.ValueStore, outputs *construct.CommandExecutionResult,
	progressTx chan<- frontend.BlockEvent, backgroundTasksUuid string,
	_ *construct.SupervisionContext,
) (construct.BackgroundTaskFuture, *diag.Diagnostic) {
	txHashVal, _ := outputs.Outputs.Get("tx_hash")
	batchUuid, err := uuid.Parse(backgroundTasksUuid)
	if err != nil {
		batchUuid = uuid.New()
	}

	future := func(ctx context.Context) (*construct.CommandExecutionResult, *diag.Diagnostic) {
		updater := frontend.NewStatusUpdater(batchUuid, constructDid, progressTx)
		result := construct.NewCommandExecutionResult()
		result.Append(outputs)

		if txHashVal.IsNull() {
			result.Outputs.Set("confirmed", value.Bool(false))
			updater.PropagateStatus(frontend.NewStatusMsg(frontend.ColorYellow, "Skipped", "No transaction was signed"))
			return result, nil
		}
		txHash, _ := txHashVal.AsString()

		if a.rpc == nil {
			result.Outputs.Set("confirmed", value.Bool(true))
			updater.PropagateStatus(frontend.NewStatusMsg(frontend.ColorGreen, "Confirmed", "Transaction confirmed"))
			return result, nil
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			confirmed, err := a.rpc.TransactionConfirmed(txHash)
			if err != nil {
				updater.PropagateFailedStatus("Confirmation failed", diag.FromError(err))
				return nil, diag.Errorf(diag.ClassAddon, "confirmation check failed: %v", err)
			}
			if confirmed {
				result.Outputs.Set("confirmed", value.Bool(true))
				updater.PropagateStatus(frontend.NewStatusMsg(frontend.ColorGreen, "Confirmed", "Transaction confirmed"))
				return result, nil
			}
			updater.PropagatePendingStatus("Awaiting confirmation for " + txHash)
			select {
			case <-ctx.Done():
				return nil, nil
			case <-ticker.C:
			}
		}
	}
	return future, nil
}

func resolveSigner(values *value.ValueStore, signersInstances map[did.ConstructDid]*construct.SignerInstance) (did.ConstructDid, *construct.SignerInstance, *diag.Diagnostic) {
	ref, err := values.ExpectString("signer")
	if err != nil {
		return "", nil, diag.FromError(err)
	}
	signerDid := did.ConstructDid(ref)
	instance, ok := signersInstances[signerDid]
	if !ok {
		return "", nil, diag.Errorf(diag.ClassReference, "undefined_signer: %s", ref)
	}
	return signerDid, instance, nil
}

// buildPayload freezes the unsigned transaction: once built, later passes
// reuse it so the surfaced payload cannot drift under the user.
func (a *Addon) buildPayload(values *value.ValueStore, state *construct.SignerState, fromAddress string) (*value.Value, *diag.Diagnostic) {
	recipientVal, ok := values.Get("recipient_address")
	if !ok {
		return nil, diag.Errorf(diag.ClassAddon, "recipient_address is required")
	}
	recipient, valid := addressString(recipientVal)
	if !valid {
		return nil, diag.Errorf(diag.ClassAddon, "invalid recipient address %s", recipientVal.String())
	}
	amount, err := values.ExpectInteger("amount")
	if err != nil {
		return nil, diag.FromError(err)
	}

	nonce := a.nextNonce(values, state, fromAddress)

	gasLimit := int64(defaultGasLimit)
	if v, ok := values.GetInteger("gas_limit"); ok {
		gasLimit = v.Int64()
	}
	gasPrice := int64(defaultGasPrice)
	if v, ok := values.GetInteger("gas_price"); ok {
		gasPrice = v.Int64()
	}
	chainID := int64(a.chainID)
	if v, ok := values.GetInteger("chain_id"); ok {
		chainID = v.Int64()
	}

	payload := value.NewObjectMap()
	payload.Set("from", value.String(fromAddress))
	payload.Set("to", value.String(recipient))
	payload.Set("value", value.IntegerBig(amount))
	payload.Set("nonce", value.Integer(int64(nonce)))
	payload.Set("gas_limit", value.Integer(gasLimit))
	payload.Set("gas_price", value.Integer(gasPrice))
	payload.Set("chain_id", value.Integer(chainID))
	return value.Object(payload), nil
}

// nextNonce takes the explicit input when present, otherwise increments the
// signer's per-pass counter so consecutive transactions within one pass
// receive monotonically increasing nonces.
func (a *Addon) nextNonce(values *value.ValueStore, state *construct.SignerState, address string) uint64 {
	if v, ok := values.GetInteger("nonce"); ok {
		return v.Uint64()
	}
	if v, ok := state.GetValue(construct.AutoincrementableNonce); ok {
		if prev, isInt := v.AsInteger(); isInt {
			next := prev.Uint64() + 1
			state.InsertValue(construct.AutoincrementableNonce, value.Integer(int64(next)))
			return next
		}
	}
	var base uint64
	if a.rpc != nil {
		if n, err := a.rpc.PendingNonceAt(address); err == nil {
			base = n
		}
	}
	state.InsertValue(construct.AutoincrementableNonce, value.Integer(int64(base)))
	return base
}

// transactionFromPayload rebuilds the legacy transaction a payload object
// describes; the chain id rides inside the payload.
func transactionFromPayload(payload *value.Value) (*types.Transaction, *big.Int, *diag.Diagnostic) {
	obj, ok := payload.AsObject()
	if !ok {
		return nil, nil, diag.Errorf(diag.ClassAddon, "transaction payload is %s, expected object", payload.Kind())
	}
	getInt := func(key string) *big.Int {
		if v, ok := obj.Get(key); ok {
			if i, isInt := v.AsInteger(); isInt {
				return i
			}
		}
		return big.NewInt(0)
	}
	toVal, _ := obj.Get("to")
	toHex, _ := toVal.AsString()
	to := common.HexToAddress(toHex)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    getInt("nonce").Uint64(),
		To:       &to,
		Value:    new(big.Int).Set(getInt("value")),
		Gas:      getInt("gas_limit").Uint64(),
		GasPrice: new(big.Int).Set(getInt("gas_price")),
	})
	return tx, new(big.Int).Set(getInt("chain_id")), nil
}
