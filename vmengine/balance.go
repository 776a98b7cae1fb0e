package vmengine

import (
	"math/big"

	"github.com/tolelom/delegate/statedriver"
)

// BalanceContract and BalanceVariable name the one piece of state the
// core's stamp-deduction path touches directly (spec.md §4.3), kept
// here rather than inside the economy module so the Executor adapter
// doesn't need to import a contract package to do stamp accounting.
const (
	BalanceContract = "currency"
	BalanceVariable = "balances"
)

// GetBalance reads vk's currency.balances entry as a big.Rat, defaulting to 0.
func GetBalance(s *statedriver.StateDriver, vk string) *big.Rat {
	v, ok := s.GetVar(BalanceContract, BalanceVariable, vk)
	if !ok {
		return new(big.Rat)
	}
	r, ok := new(big.Rat).SetString(v)
	if !ok {
		return new(big.Rat)
	}
	return r
}

// SetBalance stages vk's currency.balances entry.
func SetBalance(s *statedriver.StateDriver, vk string, amount *big.Rat) {
	s.SetVar(BalanceContract, BalanceVariable, amount.RatString(), vk)
}

// StampContract and StampVariable name the contract variable the
// Executor reads its stamp_cost ratio from, grounded on
// original_source/lamden/nodes/processing_queue.py's
// `client.get_var(contract='stamp_cost', variable='S', arguments=['value'])`.
const (
	StampContract = "stamp_cost"
	StampVariable = "S"
)

// GetStampCost reads the current stamps-per-currency-unit ratio,
// defaulting to 1:1 if the contract variable was never set (e.g. a
// fresh node before any admin tx configures it).
func GetStampCost(s *statedriver.StateDriver) *big.Rat {
	v, ok := s.GetVar(StampContract, StampVariable, "value")
	if !ok {
		return big.NewRat(1, 1)
	}
	r, ok := new(big.Rat).SetString(v)
	if !ok {
		return big.NewRat(1, 1)
	}
	return r
}
