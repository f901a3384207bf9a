package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
apiVersion: v1
kind: QuillWorkspace
metadata:
  name: treasury-ops
  org: acme
runbooks:
  - name: transfer
    location: runbooks/transfer.tx
    description: Moves funds to the cold wallet
environments:
  global:
    API_KEY: global-key
    CONFIRMATIONS: "3"
  sepolia:
    API_KEY: sepolia-key
    RPC_URL: https://rpc.example.org
runtime:
  network_id: sepolia
  chain_id: 11155111
`

func TestUnmarshal_ValidManifest(t *testing.T) {
	loader := &YAMLManifestLoader{}
	m, err := loader.Unmarshal([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "treasury-ops", m.Metadata.Name)
	require.NotNil(t, m.GetRunbook("transfer"))
	assert.Nil(t, m.GetRunbook("missing"))
	assert.Equal(t, uint64(11155111), m.Runtime.ChainID)
}

func TestUnmarshal_SchemaRejectsWrongKind(t *testing.T) {
	loader := &YAMLManifestLoader{}
	_, err := loader.Unmarshal([]byte(`
kind: SomethingElse
metadata:
  name: x
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestUnmarshal_SchemaRejectsMissingName(t *testing.T) {
	loader := &YAMLManifestLoader{}
	_, err := loader.Unmarshal([]byte(`
kind: QuillWorkspace
metadata:
  description: no name here
`))
	require.Error(t, err)
}

func TestResolveInputs_Precedence(t *testing.T) {
	loader := &YAMLManifestLoader{}
	m, err := loader.Unmarshal([]byte(sampleManifest))
	require.NoError(t, err)

	// global only
	inputs, err := m.ResolveInputs("", nil)
	require.NoError(t, err)
	s, _ := inputs["API_KEY"].AsString()
	assert.Equal(t, "global-key", s)

	// environment overrides global
	inputs, err = m.ResolveInputs("sepolia", nil)
	require.NoError(t, err)
	s, _ = inputs["API_KEY"].AsString()
	assert.Equal(t, "sepolia-key", s)
	s, _ = inputs["RPC_URL"].AsString()
	assert.Equal(t, "https://rpc.example.org", s)

	// CLI overrides everything
	inputs, err = m.ResolveInputs("sepolia", []string{"API_KEY=cli-key"})
	require.NoError(t, err)
	s, _ = inputs["API_KEY"].AsString()
	assert.Equal(t, "cli-key", s)
}

func TestResolveInputs_UnknownEnvironment(t *testing.T) {
	loader := &YAMLManifestLoader{}
	m, err := loader.Unmarshal([]byte(sampleManifest))
	require.NoError(t, err)

	_, err = m.ResolveInputs("mainnet", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mainnet")
}

func TestResolveInputs_TypedValues(t *testing.T) {
	loader := &YAMLManifestLoader{}
	m, err := loader.Unmarshal([]byte(sampleManifest))
	require.NoError(t, err)

	inputs, err := m.ResolveInputs("", []string{"RETRIES=5", "DRY_RUN=true"})
	require.NoError(t, err)

	i, ok := inputs["RETRIES"].AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(5), i)

	b, ok := inputs["DRY_RUN"].AsBool()
	require.True(t, ok)
	assert.True(t, b)

	confirmations, ok := inputs["CONFIRMATIONS"].AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(3), confirmations)
}

func TestResolveInputs_MalformedPair(t *testing.T) {
	loader := &YAMLManifestLoader{}
	m, err := loader.Unmarshal([]byte(sampleManifest))
	require.NoError(t, err)

	_, err = m.ResolveInputs("", []string{"NOVALUE"})
	require.Error(t, err)
}
