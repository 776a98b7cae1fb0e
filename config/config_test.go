package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Masters = []string{strings.Repeat("ab", 32)}
	return cfg
}

func TestValidateAcceptsDefaultPlusMasters(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsEmptyMasters(t *testing.T) {
	cfg := validConfig()
	cfg.Masters = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty masters")
	}
}

func TestValidateRejectsBadMasterHex(t *testing.T) {
	cfg := validConfig()
	cfg.Masters = []string{"not-hex"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for malformed master pubkey")
	}
}

func TestValidateRejectsSamePorts(t *testing.T) {
	cfg := validConfig()
	cfg.P2PPort = cfg.RPCPort
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for colliding ports")
	}
}

func TestValidateRejectsBadConsensusPercent(t *testing.T) {
	cfg := validConfig()
	cfg.ConsensusPercent = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for consensus_percent=0")
	}
	cfg.ConsensusPercent = 101
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for consensus_percent=101")
	}
}

func TestValidateRejectsPartialTLS(t *testing.T) {
	cfg := validConfig()
	cfg.TLS = &TLSConfig{CACert: "ca.pem"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for partially-specified tls config")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.NodeID = "delegate7"
	path := filepath.Join(t.TempDir(), "config.json")

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NodeID != "delegate7" {
		t.Errorf("node_id = %q, want delegate7", loaded.NodeID)
	}
	if len(loaded.Masters) != 1 || loaded.Masters[0] != cfg.Masters[0] {
		t.Errorf("masters = %v, want %v", loaded.Masters, cfg.Masters)
	}
}
