package config

import (
	"fmt"
	"math/big"

	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/statedriver"
	"github.com/tolelom/delegate/vmengine"
)

// SeedGenesis stages every cfg.Genesis.Alloc entry as a currency
// balance and hard-applies them as a single synthetic Work Item at an
// hlc just after hlc.Zero, so a fresh StateDriver starts with the
// configured initial allocation durably committed before the node
// joins consensus. There is no genesis block here — only a seed
// write, since consensus in this system orders individual Work Items
// rather than proposing blocks.
func SeedGenesis(cfg *Config, state *statedriver.StateDriver) error {
	if len(cfg.Genesis.Alloc) == 0 {
		return nil
	}
	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		vmengine.SetBalance(state, pubkeyHex, new(big.Rat).SetUint64(balance))
	}
	writes := state.PendingWrites()
	state.ClearPending()

	seedHLC := hlc.Timestamp{Physical: 1, Logical: 0, NodeID: cfg.NodeID}
	if err := state.HardApply(seedHLC, writes, "genesis:"+cfg.Genesis.ChainID); err != nil {
		return fmt.Errorf("config: seed genesis: %w", err)
	}
	return nil
}
