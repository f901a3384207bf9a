package runner

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recinq/quill/internal/addon"
	"github.com/recinq/quill/internal/addons/core"
	"github.com/recinq/quill/internal/addons/evm"
	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/runbook"
	"github.com/recinq/quill/internal/snapshot"
	"github.com/recinq/quill/internal/value"
)

func newEngine(t *testing.T, src string, extra ...addon.Addon) (*Runner, *runbook.WorkspaceContext, *runbook.ExecutionContext) {
	t.Helper()
	registry := addon.NewRegistry()
	require.NoError(t, registry.Register(core.New()))
	require.NoError(t, registry.Register(evm.New(nil, "devnet", 1)))
	for _, a := range extra {
		require.NoError(t, registry.Register(a))
	}
	rt := &runbook.RuntimeContext{
		Registry:      registry,
		Authorization: &addon.AuthorizationContext{WorkspaceRoot: t.TempDir()},
		NetworkID:     "devnet",
	}
	ws, execCtx, d := runbook.Load("test", []runbook.Source{
		{Filename: "main.tx", Content: []byte(src)},
	}, nil, rt)
	require.Nil(t, d, "load failed: %v", d)

	engine := New(ws, execCtx, rt, &construct.SupervisionContext{IsSupervised: true})
	return engine, ws, execCtx
}

func findConstruct(t *testing.T, ws *runbook.WorkspaceContext, kind runbook.ConstructKind, name string) did.ConstructDid {
	t.Helper()
	for constructDid, loc := range ws.Constructs {
		if loc.Kind == kind && loc.Name == name {
			return constructDid
		}
	}
	t.Fatalf("construct %s.%s not found", kind, name)
	return ""
}

func pendingOfType[T frontend.ActionItemRequestType](engine *Runner) []*frontend.ActionItemRequest {
	var out []*frontend.ActionItemRequest
	for _, request := range engine.PendingRequests() {
		if _, ok := request.ActionType.(T); ok {
			out = append(out, request)
		}
	}
	return out
}

const signedSendSrc = `
signer "alice" "evm::web_wallet" {
}

action "transfer" "evm::send_eth" {
  signer            = signer.alice
  recipient_address = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8456"
  amount            = 1000
}

output "hash" {
  value = action.transfer.tx_hash
}
`

// drives the three-pass supervised signing flow end to end: connect the
// wallet, provide the signed transaction, observe the broadcast and the
// background confirmation.
func TestSignedSendFlow(t *testing.T) {
	engine, ws, execCtx := newEngine(t, signedSendSrc)
	ctx := context.Background()

	// pass 1: the signer asks for its public key
	outcome, err := engine.RunPass(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Completed)
	pubKeyRequests := pendingOfType[*frontend.ProvidePublicKeyRequest](engine)
	require.Len(t, pubKeyRequests, 1)
	assert.Empty(t, pendingOfType[*frontend.ProvideSignedTransactionRequest](engine))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	publicKey := hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey))
	aliceDid := findConstruct(t, ws, runbook.KindSigner, "alice")

	require.NoError(t, engine.ProcessResponse(frontend.ActionItemResponse{
		ActionItemID: pubKeyRequests[0].ID,
		Payload:      &frontend.ProvidePublicKeyResponse{SignerUuid: aliceDid, PublicKey: publicKey},
	}))

	// pass 2: the action asks for a signed transaction
	outcome, err = engine.RunPass(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Completed)

	signRequests := pendingOfType[*frontend.ProvideSignedTransactionRequest](engine)
	require.Len(t, signRequests, 1)
	request := signRequests[0].ActionType.(*frontend.ProvideSignedTransactionRequest)
	assert.Equal(t, aliceDid, request.SignerUuid)
	payload, isObject := request.Payload.AsObject()
	require.True(t, isObject)
	amount, _ := payload.Get("value")
	amountInt, _ := amount.AsInt64()
	assert.Equal(t, int64(1000), amountInt)

	signedHex := signPayload(t, key, request.Payload)
	require.NoError(t, engine.ProcessResponse(frontend.ActionItemResponse{
		ActionItemID: signRequests[0].ID,
		Payload: &frontend.ProvideSignedTransactionResponse{
			SignerUuid:             request.SignerUuid,
			SignedTransactionBytes: &signedHex,
		},
	}))

	// pass 3: broadcast and background confirmation land the tx hash
	outcome, err = engine.RunPass(ctx)
	require.NoError(t, err)

	transferDid := findConstruct(t, ws, runbook.KindAction, "transfer")
	result := execCtx.CommandsExecutionResults[transferDid]
	require.NotNil(t, result)
	txHash, ok := result.Outputs.Get("tx_hash")
	require.True(t, ok)
	hashStr, _ := txHash.AsString()
	assert.Len(t, hashStr, 66)
	confirmed, _ := result.Outputs.Get("confirmed")
	b, _ := confirmed.AsBool()
	assert.True(t, b)

	// one more pass flushes the downstream output and completes the run
	outcome, err = engine.RunPass(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Completed)

	// the background task propagated a green terminal status
	greenSeen := false
	for len(engine.ProgressChannel()) > 0 {
		event := <-engine.ProgressChannel()
		if event.Kind == frontend.EventUpdateProgressBarStatus &&
			event.Status.NewStatus.StatusColor == frontend.ColorGreen {
			greenSeen = true
		}
	}
	assert.True(t, greenSeen, "expected a green progress status from the confirmation task")
}

func signPayload(t *testing.T, key *ecdsa.PrivateKey, payload *value.Value) string {
	t.Helper()
	obj, ok := payload.AsObject()
	require.True(t, ok)
	getInt := func(name string) *big.Int {
		v, ok := obj.Get(name)
		require.True(t, ok, "payload missing %s", name)
		i, isInt := v.AsInteger()
		require.True(t, isInt)
		return i
	}
	toVal, _ := obj.Get("to")
	toHex, _ := toVal.AsString()
	to := common.HexToAddress(toHex)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    getInt("nonce").Uint64(),
		To:       &to,
		Value:    getInt("value"),
		Gas:      getInt("gas_limit").Uint64(),
		GasPrice: getInt("gas_price"),
	})
	signer := types.LatestSignerForChainID(getInt("chain_id"))
	signed, err := types.SignTx(tx, signer, key)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw)
}

// secret key signers sign in-process: a supervised run still completes
// without any signature action item.
func TestSecretKeySignerSignsInProcess(t *testing.T) {
	src := `
signer "deployer" "evm::secret_key" {
  secret_key = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
}

action "transfer" "evm::send_eth" {
  signer            = signer.deployer
  recipient_address = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8456"
  amount            = 42
}
`
	engine, ws, execCtx := newEngine(t, src)
	ctx := context.Background()

	require.NoError(t, engine.Execute(ctx))
	assert.Empty(t, pendingOfType[*frontend.ProvideSignedTransactionRequest](engine))

	transferDid := findConstruct(t, ws, runbook.KindAction, "transfer")
	result := execCtx.CommandsExecutionResults[transferDid]
	require.NotNil(t, result)
	txHash, ok := result.Outputs.Get("tx_hash")
	require.True(t, ok)
	hashStr, _ := txHash.AsString()
	assert.NotEmpty(t, hashStr)
}

// countingAddon exposes one command that counts PerformExecution calls.
type countingAddon struct {
	executions *atomic.Int32
}

func (a *countingAddon) Namespace() string                            { return "probe" }
func (a *countingAddon) TypeIDs() []string                            { return nil }
func (a *countingAddon) Functions() []addon.FunctionSpecification     { return nil }
func (a *countingAddon) Signers() []*construct.SignerSpecification    { return nil }
func (a *countingAddon) Commands() []*construct.CommandSpecification {
	executions := a.executions
	return []*construct.CommandSpecification{{
		Name:    "Tick",
		Matcher: "tick",
		Outputs: []construct.CommandOutput{{Name: "value", Typing: value.IntegerType()}},
		Runner: construct.CommandRunner{
			PerformExecution: func(_ context.Context, _ did.ConstructDid, _ *construct.CommandSpecification, _ *value.ValueStore, _ *frontend.StatusUpdater) (*construct.CommandExecutionResult, *diag.Diagnostic) {
				n := executions.Add(1)
				return construct.SingleValueResult(value.Integer(int64(n))), nil
			},
		},
	}}
}

func TestPerformExecutionRunsExactlyOnce(t *testing.T) {
	var executions atomic.Int32
	src := `
action "probe" "probe::tick" {
}

output "o" {
  value = action.probe
}
`
	engine, _, _ := newEngine(t, src, &countingAddon{executions: &executions})
	ctx := context.Background()

	outcome, err := engine.RunPass(ctx)
	require.NoError(t, err)
	require.True(t, outcome.Completed)
	assert.Equal(t, int32(1), executions.Load())

	// a second pass over a completed runbook never re-executes
	outcome, err = engine.RunPass(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Completed)
	assert.Equal(t, int32(1), executions.Load())
}

// S4: change only the action's amount, replay from the snapshot; the
// signer activation is promoted and no wallet connection is requested.
func TestPartialReplaySkipsUnchangedSigner(t *testing.T) {
	engine, ws, execCtx := newEngine(t, signedSendSrc)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	publicKey := hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey))
	aliceDid := findConstruct(t, ws, runbook.KindSigner, "alice")

	_, err = engine.RunPass(ctx)
	require.NoError(t, err)
	pubKeyRequests := pendingOfType[*frontend.ProvidePublicKeyRequest](engine)
	require.Len(t, pubKeyRequests, 1)
	require.NoError(t, engine.ProcessResponse(frontend.ActionItemResponse{
		ActionItemID: pubKeyRequests[0].ID,
		Payload:      &frontend.ProvidePublicKeyResponse{SignerUuid: aliceDid, PublicKey: publicKey},
	}))

	_, err = engine.RunPass(ctx)
	require.NoError(t, err)
	signRequests := pendingOfType[*frontend.ProvideSignedTransactionRequest](engine)
	require.Len(t, signRequests, 1)
	request := signRequests[0].ActionType.(*frontend.ProvideSignedTransactionRequest)
	signedHex := signPayload(t, key, request.Payload)
	require.NoError(t, engine.ProcessResponse(frontend.ActionItemResponse{
		ActionItemID: signRequests[0].ID,
		Payload: &frontend.ProvideSignedTransactionResponse{
			SignerUuid:             request.SignerUuid,
			SignedTransactionBytes: &signedHex,
		},
	}))

	_, err = engine.RunPass(ctx)
	require.NoError(t, err)
	outcome, err := engine.RunPass(ctx)
	require.NoError(t, err)
	require.True(t, outcome.Completed)

	snap := snapshot.NewExecutionSnapshot("", "", "test")
	snap.AddRun(snapshot.CaptureRun("default", ws, execCtx))
	normalized, err := snap.Normalize()
	require.NoError(t, err)

	// reload with only the amount changed
	changedSrc := `
signer "alice" "evm::web_wallet" {
}

action "transfer" "evm::send_eth" {
  signer            = signer.alice
  recipient_address = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8456"
  amount            = 2000
}

output "hash" {
  value = action.transfer.tx_hash
}
`
	replay, replayWs, replayCtx := newEngine(t, changedSrc)
	run := normalized.Run("default")
	require.NotNil(t, run)

	changed := snapshot.SelectChangedConstructs(run, replayWs, replayCtx)
	transferDid := findConstruct(t, replayWs, runbook.KindAction, "transfer")
	assert.Contains(t, changed, transferDid)

	require.NoError(t, replay.ApplySnapshotForPartialReplay(normalized, "default", changed))

	// the signer was promoted from the snapshot
	replayAlice := findConstruct(t, replayWs, runbook.KindSigner, "alice")
	require.NotNil(t, replayCtx.CommandsExecutionResults[replayAlice])

	outcome, err = replay.RunPass(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Completed)

	// no wallet connection is requested; only the new signature
	assert.Empty(t, pendingOfType[*frontend.ProvidePublicKeyRequest](replay))
	replayRequests := pendingOfType[*frontend.ProvideSignedTransactionRequest](replay)
	require.Len(t, replayRequests, 1)
	payload := replayRequests[0].ActionType.(*frontend.ProvideSignedTransactionRequest).Payload
	amount, _ := payload.GetKeyFromObject("value")
	amountInt, _ := amount.AsInt64()
	assert.Equal(t, int64(2000), amountInt)
}

// the ownership invariant: the context always holds the signers state
// between passes, whatever path a pass took.
func TestSignersStateAlwaysRestored(t *testing.T) {
	engine, _, execCtx := newEngine(t, signedSendSrc)
	ctx := context.Background()

	_, err := engine.RunPass(ctx)
	require.NoError(t, err)
	assert.True(t, execCtx.SignersStateHeld())

	_, err = engine.RunPass(ctx)
	require.NoError(t, err)
	assert.True(t, execCtx.SignersStateHeld())
}
