package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/membership"
	"github.com/tolelom/delegate/statedriver"
	"github.com/tolelom/delegate/validation"
	"github.com/tolelom/delegate/vmengine"
)

// Handler holds all dependencies needed to serve RPC methods. Grounded
// on the teacher's rpc.Handler, with methods swapped from chain-query
// (getBlock, getBalance) to consensus-query (getConsensusState,
// getValidationRecord, getHLC); getBalance is kept since contract state
// itself is still part of this node's surface.
type Handler struct {
	state   *statedriver.StateDriver
	queue   *validation.Queue
	clock   *hlc.Clock
	members *membership.Registry
	nodeID  string
}

// NewHandler creates an RPC Handler.
func NewHandler(state *statedriver.StateDriver, queue *validation.Queue, clock *hlc.Clock, members *membership.Registry, nodeID string) *Handler {
	return &Handler{state: state, queue: queue, clock: clock, members: members, nodeID: nodeID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getHLC":
		return okResponse(req.ID, h.clock.Now().String())

	case "getBalance":
		return h.getBalance(req)

	case "getConsensusState":
		return h.getConsensusState(req)

	case "getValidationRecord":
		return h.getValidationRecord(req)

	case "getMasters":
		return okResponse(req.ID, h.members.GetMasters())

	case "getPeers":
		return okResponse(req.ID, h.members.GetPeersForConsensus())

	case "getPeersNotInConsensus":
		return okResponse(req.ID, h.members.PeersNotInConsensus())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		VK string `json:"vk"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.VK == "" {
		return errResponse(req.ID, CodeInvalidParams, "vk is required")
	}
	bal := vmengine.GetBalance(h.state, params.VK)
	return okResponse(req.ID, map[string]string{"vk": params.VK, "balance": bal.RatString()})
}

func (h *Handler) getConsensusState(req Request) Response {
	return okResponse(req.ID, map[string]any{
		"last_hlc_in_consensus": h.queue.LastHLCInConsensus().String(),
		"running":               h.queue.Running(),
		"latest_block_num":      h.state.LatestBlockNum(),
		"latest_block_hash":     h.state.LatestBlockHash(),
	})
}

func (h *Handler) getValidationRecord(req Request) Response {
	var params struct {
		HLC string `json:"hlc"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	ts, err := hlc.Parse(params.HLC)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "bad hlc: "+err.Error())
	}

	if rec, ok := h.queue.Lookup(ts); ok {
		solutions := make(map[string]string, len(rec.Solutions))
		for vk, br := range rec.Solutions {
			solutions[vk] = br.Hash
		}
		return okResponse(req.ID, map[string]any{
			"hlc":       params.HLC,
			"settled":   false,
			"solutions": solutions,
		})
	}

	if entry, ok := h.queue.History().Lookup(ts); ok {
		return okResponse(req.ID, map[string]any{
			"hlc":            params.HLC,
			"settled":        true,
			"consensus_type": entry.Result.ConsensusType,
			"solution":       entry.Result.Solution,
		})
	}

	return errResponse(req.ID, CodeInternalError, "no record for hlc "+params.HLC)
}
