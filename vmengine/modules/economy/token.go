// Package economy implements the currency contract, adapted from the
// teacher's vm/modules/economy/token.go to the spec's
// {sender,contract,function,stamps_supplied,kwargs} calling convention.
package economy

import (
	"fmt"
	"math/big"

	"github.com/tolelom/delegate/events"
	"github.com/tolelom/delegate/vmengine"
)

func init() {
	vmengine.Register("currency", "transfer", handleTransfer)
	vmengine.Register("currency", "balance_of", handleBalanceOf)
}

func handleTransfer(ctx *vmengine.Context, kwargs map[string]vmengine.Value) (string, error) {
	to, err := kwargs["to"].AsString()
	if err != nil || to == "" {
		return "", fmt.Errorf("economy: transfer requires a non-empty 'to'")
	}
	amount, err := kwargs["amount"].AsFixed()
	if err != nil {
		return "", fmt.Errorf("economy: transfer requires a fixed-point 'amount': %w", err)
	}
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("economy: transfer amount must be > 0")
	}

	sender := vmengine.GetBalance(ctx.State, ctx.Sender)
	if sender.Cmp(amount) < 0 {
		return "", fmt.Errorf("economy: insufficient balance: have %s need %s", sender.RatString(), amount.RatString())
	}
	sender.Sub(sender, amount)
	vmengine.SetBalance(ctx.State, ctx.Sender, sender)

	recipient := vmengine.GetBalance(ctx.State, to)
	recipient.Add(recipient, amount)
	vmengine.SetBalance(ctx.State, to, recipient)

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventTokenTransfer,
			TxID: ctx.HLC,
			Data: map[string]any{"from": ctx.Sender, "to": to, "amount": amount.RatString()},
		})
	}
	return amount.RatString(), nil
}

func handleBalanceOf(ctx *vmengine.Context, kwargs map[string]vmengine.Value) (string, error) {
	vk, err := kwargs["vk"].AsString()
	if err != nil || vk == "" {
		vk = ctx.Sender
	}
	bal := new(big.Rat).Set(vmengine.GetBalance(ctx.State, vk))
	return bal.RatString(), nil
}
