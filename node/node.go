// Package node wires the delegate's components — router, WorkValidator,
// ProcessingQueue, Executor, ValidationQueue, Committer, and the RPC
// observability surface — into the single-goroutine event loop
// described by SPEC_FULL.md §5, grounded on the teacher's
// cmd/node/main.go wiring order and consensus.PoA.Run's ticker-driven
// shape.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tolelom/delegate/commit"
	"github.com/tolelom/delegate/config"
	"github.com/tolelom/delegate/crypto"
	"github.com/tolelom/delegate/events"
	"github.com/tolelom/delegate/executor"
	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/membership"
	"github.com/tolelom/delegate/procqueue"
	"github.com/tolelom/delegate/router"
	"github.com/tolelom/delegate/rpc"
	"github.com/tolelom/delegate/statedriver"
	"github.com/tolelom/delegate/txn"
	"github.com/tolelom/delegate/validation"
	"github.com/tolelom/delegate/vmengine"
	"github.com/tolelom/delegate/wallet"
	"github.com/tolelom/delegate/workvalidator"

	_ "github.com/tolelom/delegate/vmengine/modules/asset"
	_ "github.com/tolelom/delegate/vmengine/modules/economy"
	_ "github.com/tolelom/delegate/vmengine/modules/market"
	_ "github.com/tolelom/delegate/vmengine/modules/session"
)

// tickInterval governs how often the single-goroutine loop polls the
// ProcessingQueue and ValidationQueue for releasable work. Sub-tick
// latency doesn't matter here: ProcessingQueue itself gates release on
// processing_delay, and ValidationQueue only has new work to evaluate
// when a solution has actually arrived.
const tickInterval = 50 * time.Millisecond

// Node is the composition root for one delegate. Every field it holds
// that can mutate StateDriver is only ever touched from Run's single
// goroutine; router receive goroutines only enqueue.
type Node struct {
	cfg *config.Config

	wallet  *wallet.Wallet
	clock   *hlc.Clock
	members *membership.Registry

	state     *statedriver.StateDriver
	emitter   *events.Emitter
	exec      *executor.Executor
	committer *commit.Committer

	procQueue *procqueue.Queue
	valQueue  *validation.Queue
	validator *workvalidator.Validator

	router    *router.TCPRouter
	rpcServer *rpc.Server
}

// New constructs a Node from cfg, the local signing key, and a backing
// DB (nil for an in-memory DB in tests). It seeds genesis state,
// builds every core component, and registers router processors, but
// does not start listening — call Start for that.
func New(cfg *config.Config, priv crypto.PrivateKey, db statedriver.DB) (*Node, error) {
	localVK := priv.Public().Hex()

	var peerVKs []string
	for _, sp := range cfg.SeedPeers {
		peerVKs = append(peerVKs, sp.ID)
	}
	members := membership.New(cfg.Masters, peerVKs)

	state := statedriver.New(db)
	if err := config.SeedGenesis(cfg, state); err != nil {
		return nil, fmt.Errorf("node: seed genesis: %w", err)
	}

	emitter := events.NewEmitter()
	exec := executor.New(state, emitter)
	committer := commit.New(state)

	procQueue := procqueue.New(time.Duration(cfg.ProcessingDelayMS) * time.Millisecond)
	valQueue := validation.New(cfg.ConsensusPercent, members, localVK, committer, procQueue, cfg.ValidationHistory)
	valQueue.SetTesting(cfg.Testing)
	valQueue.SetDebug(cfg.Debug)

	clock := hlc.NewClock(cfg.NodeID)
	txExpiry := time.Duration(cfg.TxExpirySec) * time.Second
	validator := workvalidator.New(members, clock, procQueue, txExpiry)

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("node: tls: %w", err)
	}
	rpcTimeout := time.Duration(cfg.RPCTimeoutMS) * time.Millisecond
	rtr := router.New(cfg.NodeID, fmt.Sprintf(":%d", cfg.P2PPort), tlsCfg, rpcTimeout)

	rpcHandler := rpc.NewHandler(state, valQueue, clock, members, cfg.NodeID)
	rpcServer := rpc.NewServer(fmt.Sprintf(":%d", cfg.RPCPort), rpcHandler, cfg.RPCAuthToken)

	n := &Node{
		cfg:       cfg,
		wallet:    wallet.New(priv),
		clock:     clock,
		members:   members,
		state:     state,
		emitter:   emitter,
		exec:      exec,
		committer: committer,
		procQueue: procQueue,
		valQueue:  valQueue,
		validator: validator,
		router:    rtr,
		rpcServer: rpcServer,
	}

	rtr.RegisterProcessor(router.ServiceWork, router.ProcessorFunc(n.handleWork))
	rtr.RegisterProcessor(router.ServiceSolution, router.ProcessorFunc(n.handleSolution))
	rtr.RegisterProcessor(router.ServiceSolutionBroadcast, router.ProcessorFunc(n.handleSolution))

	return n, nil
}

// Start binds the router and RPC listeners and dials every seed peer.
// It does not start the processing loop — call Run for that.
func (n *Node) Start() error {
	if err := n.router.Start(); err != nil {
		return fmt.Errorf("node: router start: %w", err)
	}
	log.Printf("[node] p2p listening on %s", n.router.Addr())

	for _, sp := range n.cfg.SeedPeers {
		if err := n.router.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("[node] seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Printf("[node] connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	if err := n.rpcServer.Start(); err != nil {
		return fmt.Errorf("node: rpc start: %w", err)
	}
	log.Printf("[node] rpc listening on %s", n.rpcServer.Addr())

	n.procQueue.Start()
	n.valQueue.Start()
	return nil
}

// Stop shuts down the RPC server and router. Run's loop should already
// have exited (its context cancelled) before calling Stop.
func (n *Node) Stop() {
	if err := n.rpcServer.Stop(); err != nil {
		log.Printf("[node] rpc stop: %v", err)
	}
	n.router.Stop()
}

// Run drives the single-goroutine event loop described by SPEC_FULL.md
// §5: on every tick, release and execute whatever ProcessingQueue will
// give up, then advance ValidationQueue's consensus evaluation. It
// returns when ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.tick()
		}
	}
}

func (n *Node) tick() {
	for {
		item, ok := n.procQueue.ProcessNext()
		if !ok {
			break
		}
		n.executeAndBroadcast(item)
	}
	n.valQueue.ProcessNext()
}

// executeAndBroadcast is spec.md §4.2 step 4: execute the released
// Work Item, record the result as this node's own solution, and
// gossip it to every peer so they can tally it too.
func (n *Node) executeAndBroadcast(item *txn.WorkItem) {
	stampCost := vmengine.GetStampCost(n.state)
	result := n.exec.Execute(item, stampCost)
	n.valQueue.Append(item.HLC, result, item)
	n.broadcastSolution(item.HLC, result)
}

func (n *Node) broadcastSolution(h hlc.Timestamp, result *txn.BlockResult) {
	msg := solutionMessage{HLC: h.String(), VK: n.wallet.PubKey(), Result: result}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[node] marshal solution for broadcast: %v", err)
		return
	}
	n.router.Broadcast(router.ServiceSolutionBroadcast, payload)
}

// solutionMessage is the wire shape of the "solution"/"solution_broadcast"
// services (spec.md §6's `{sender, hlc_timestamp, block_info}`).
type solutionMessage struct {
	HLC    string           `json:"hlc"`
	VK     string           `json:"vk"`
	Result *txn.BlockResult `json:"result"`
}

func (n *Node) handleWork(from *router.Peer, msg router.Message) {
	var item txn.WorkItem
	if err := json.Unmarshal(msg.Payload, &item); err != nil {
		log.Printf("[node] bad work payload from %s: %v", from.ID, err)
		return
	}
	if err := n.validator.Accept(&item); err != nil {
		log.Printf("[node] rejected work item from %s: %v", from.ID, err)
	}
}

func (n *Node) handleSolution(from *router.Peer, msg router.Message) {
	var sol solutionMessage
	if err := json.Unmarshal(msg.Payload, &sol); err != nil {
		log.Printf("[node] bad solution payload from %s: %v", from.ID, err)
		return
	}
	ts, err := hlc.Parse(sol.HLC)
	if err != nil {
		log.Printf("[node] bad solution hlc from %s: %v", from.ID, err)
		return
	}
	n.valQueue.AddSolution(ts, sol.VK, sol.Result, nil)
}

// State exposes the StateDriver for read-only callers (e.g. wallet
// tooling querying balances out-of-band). Mutation still only happens
// from Run's goroutine.
func (n *Node) State() *statedriver.StateDriver { return n.state }

// LocalVK returns this node's own identity.
func (n *Node) LocalVK() string { return n.wallet.PubKey() }

// Addr returns the router's actual listen address, useful when
// cfg.P2PPort is 0 and the OS picked an ephemeral port.
func (n *Node) Addr() string { return n.router.Addr() }

// RPCAddr returns the RPC server's actual listen address, useful when
// cfg.RPCPort is 0 and the OS picked an ephemeral port.
func (n *Node) RPCAddr() string {
	if a := n.rpcServer.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// AddPeer dials addr under vk and admits vk into the consensus set,
// for wiring peers whose listen address isn't known until after they
// start (e.g. tests using ephemeral ports).
func (n *Node) AddPeer(vk, addr string) error {
	if err := n.router.AddPeer(vk, addr); err != nil {
		return err
	}
	n.members.AddPeer(vk)
	return nil
}
