package manifest

import "path/filepath"

// Manifest is the workspace description loaded from quill.yml: the runbooks
// it contains, the environments inputs resolve against, and runtime knobs.
type Manifest struct {
	APIVersion   string                       `yaml:"apiVersion"`
	Kind         string                       `yaml:"kind"`
	Metadata     Metadata                     `yaml:"metadata"`
	Runbooks     []RunbookRef                 `yaml:"runbooks,omitempty"`
	Environments map[string]map[string]string `yaml:"environments,omitempty"`
	Runtime      Runtime                      `yaml:"runtime"`

	// location the manifest was loaded from; paths resolve relative to it
	path string
}

type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Org         string `yaml:"org,omitempty"`
	Workspace   string `yaml:"workspace,omitempty"`
}

type RunbookRef struct {
	Name        string `yaml:"name"`
	Location    string `yaml:"location"`
	Description string `yaml:"description,omitempty"`
}

type Runtime struct {
	// NetworkID tags signer requests ("mainnet", "sepolia", "devnet", ...).
	NetworkID string `yaml:"network_id,omitempty"`
	ChainID   uint64 `yaml:"chain_id,omitempty"`
	// StatePath locates the sqlite run history; default .quill/state.db.
	StatePath string `yaml:"state_path,omitempty"`
	// Unsupervised disables review items; only signature-providing items
	// can block a run.
	Unsupervised bool `yaml:"unsupervised,omitempty"`
}

// GlobalEnvironment is the fallback scope consulted after the selected
// environment.
const GlobalEnvironment = "global"

func (m *Manifest) GetRunbook(name string) *RunbookRef {
	for i := range m.Runbooks {
		if m.Runbooks[i].Name == name {
			return &m.Runbooks[i]
		}
	}
	return nil
}

// RunbookLocation resolves a runbook's source path relative to the
// manifest.
func (m *Manifest) RunbookLocation(ref *RunbookRef) string {
	if filepath.IsAbs(ref.Location) {
		return ref.Location
	}
	return filepath.Join(filepath.Dir(m.path), ref.Location)
}

func (m *Manifest) StatePath() string {
	if m.Runtime.StatePath != "" {
		return m.Runtime.StatePath
	}
	return filepath.Join(filepath.Dir(m.path), ".quill", "state.db")
}
