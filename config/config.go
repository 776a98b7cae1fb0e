package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// TLSConfig holds paths to the PEM files needed for mTLS peer
// connections. When nil or all paths empty, the node falls back to
// plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote delegate to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // host:port
}

// GenesisConfig describes the initial contract state this node seeds
// into its StateDriver before joining consensus, since there is no
// genesis block concept in a leader-light delegate.
type GenesisConfig struct {
	ChainID string            `json:"chain_id"`
	Alloc   map[string]uint64 `json:"alloc"` // pubkey hex → initial currency.balance
}

// Config holds all delegate node configuration.
type Config struct {
	NodeID  string `json:"node_id"`
	DataDir string `json:"data_dir"`
	RPCPort int    `json:"rpc_port"`
	P2PPort int    `json:"p2p_port"`

	// Masters are the authorized senders of Work Items (spec.md §4.1).
	Masters []string `json:"masters"`

	Genesis   GenesisConfig `json:"genesis"`
	SeedPeers []SeedPeer    `json:"seed_peers,omitempty"`

	ProcessingDelayMS int `json:"processing_delay_ms"` // spec.md §4.2 stabilization window
	ConsensusPercent  int `json:"consensus_percent"`   // spec.md §4.4, 1-100
	TxExpirySec       int `json:"tx_expiry_sec"`       // 0 disables the expiry check
	RPCTimeoutMS      int `json:"rpc_timeout_ms"`      // router send/receive deadline
	ValidationHistory int `json:"validation_history"`  // capped validation-record history size

	TLS          *TLSConfig `json:"tls,omitempty"`
	RPCAuthToken string     `json:"rpc_auth_token,omitempty"`

	Debug   bool `json:"debug"`
	Testing bool `json:"testing"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:            "delegate0",
		DataDir:           "./data",
		RPCPort:           8545,
		P2PPort:           30303,
		ProcessingDelayMS: 800,
		ConsensusPercent:  51,
		RPCTimeoutMS:      5000,
		ValidationHistory: 1000,
		Genesis: GenesisConfig{
			ChainID: "delegate-dev",
			Alloc:   map[string]uint64{},
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if len(c.Masters) == 0 {
		return fmt.Errorf("masters list must not be empty")
	}
	for i, v := range c.Masters {
		b, err := hex.DecodeString(v)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("masters[%d]: must be 64-char hex (32 bytes ed25519 pubkey), got %q", i, v)
		}
	}
	if c.ConsensusPercent <= 0 || c.ConsensusPercent > 100 {
		return fmt.Errorf("consensus_percent must be 1-100, got %d", c.ConsensusPercent)
	}
	if c.ProcessingDelayMS < 0 {
		return fmt.Errorf("processing_delay_ms must not be negative")
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
