// Package session implements staked multiplayer game sessions, adapted
// from the teacher's vm/modules/session/session.go to the spec's
// kwargs calling convention and fixed-point balances.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/tolelom/delegate/events"
	"github.com/tolelom/delegate/vmengine"
)

func init() {
	vmengine.Register("session", "open", handleOpen)
	vmengine.Register("session", "result", handleResult)
}

// Session is a staked multiplayer game instance.
type Session struct {
	ID      string            `json:"id"`
	GameID  string            `json:"game_id"`
	Players []string          `json:"players"`
	Stakes  string            `json:"stakes"` // big.Rat literal, per player
	Status  string            `json:"status"` // "open" | "closed"
	Outcome map[string]string `json:"outcome"`
}

func getSession(ctx *vmengine.Context, id string) (*Session, error) {
	raw, ok := ctx.State.GetVar("session", "record", id)
	if !ok {
		return nil, fmt.Errorf("session: %q not found", id)
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("session: corrupt record %q: %w", id, err)
	}
	return &s, nil
}

func setSession(ctx *vmengine.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx.State.SetVar("session", "record", string(data), s.ID)
	return nil
}

func handleOpen(ctx *vmengine.Context, kwargs map[string]vmengine.Value) (string, error) {
	id, _ := kwargs["session_id"].AsString()
	if id == "" {
		return "", errors.New("session: open requires 'session_id'")
	}
	gameID, _ := kwargs["game_id"].AsString()

	var players []string
	if v, ok := kwargs["players"]; ok && v.Kind == vmengine.KindList {
		for _, pv := range v.List {
			if p, err := pv.AsString(); err == nil {
				players = append(players, p)
			}
		}
	}
	if len(players) == 0 {
		return "", errors.New("session: at least one player required")
	}

	stakes := new(big.Rat)
	if v, ok := kwargs["stakes"]; ok {
		if r, err := v.AsFixed(); err == nil {
			stakes = r
		}
	}

	if _, err := getSession(ctx, id); err == nil {
		return "", fmt.Errorf("session: %q already exists", id)
	}

	if stakes.Sign() > 0 {
		for _, player := range players {
			bal := vmengine.GetBalance(ctx.State, player)
			if bal.Cmp(stakes) < 0 {
				return "", fmt.Errorf("session: player %q insufficient balance for stakes: have %s need %s",
					player, bal.RatString(), stakes.RatString())
			}
			bal.Sub(bal, stakes)
			vmengine.SetBalance(ctx.State, player, bal)
		}
	}

	s := &Session{ID: id, GameID: gameID, Players: players, Stakes: stakes.RatString(), Status: "open", Outcome: map[string]string{}}
	if err := setSession(ctx, s); err != nil {
		return "", err
	}
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventSessionOpen,
			TxID: ctx.HLC,
			Data: map[string]any{"session_id": id, "game_id": gameID, "players": players},
		})
	}
	return id, nil
}

func handleResult(ctx *vmengine.Context, kwargs map[string]vmengine.Value) (string, error) {
	id, _ := kwargs["session_id"].AsString()
	s, err := getSession(ctx, id)
	if err != nil {
		return "", err
	}
	if s.Status != "open" {
		return "", fmt.Errorf("session: %q already closed", id)
	}

	stakes, ok := new(big.Rat).SetString(s.Stakes)
	if !ok {
		return "", fmt.Errorf("session: corrupt stakes %q", s.Stakes)
	}
	totalStakes := new(big.Rat).Mul(stakes, big.NewRat(int64(len(s.Players)), 1))

	outcome := map[string]string{}
	if v, ok := kwargs["outcome"]; ok && v.Kind == vmengine.KindMap {
		totalRewards := new(big.Rat)
		for vk, rv := range v.Map {
			reward, err := rv.AsFixed()
			if err != nil {
				return "", fmt.Errorf("session: outcome reward for %q must be fixed-point: %w", vk, err)
			}
			totalRewards.Add(totalRewards, reward)
			if totalRewards.Cmp(totalStakes) > 0 {
				return "", fmt.Errorf("session: rewards exceed total stakes %s", totalStakes.RatString())
			}
			outcome[vk] = reward.RatString()
		}
		for vk, rewardStr := range outcome {
			reward, _ := new(big.Rat).SetString(rewardStr)
			bal := vmengine.GetBalance(ctx.State, vk)
			bal.Add(bal, reward)
			vmengine.SetBalance(ctx.State, vk, bal)
		}
	}

	s.Status = "closed"
	s.Outcome = outcome
	if err := setSession(ctx, s); err != nil {
		return "", err
	}
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventSessionClose,
			TxID: ctx.HLC,
			Data: map[string]any{"session_id": id},
		})
	}
	return id, nil
}
