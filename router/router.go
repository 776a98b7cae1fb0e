package router

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// Processor handles one inbound Message. Grounded on the teacher's
// MessageHandler func type, generalized to an interface so each
// service (work, solution, solution_broadcast) can carry its own
// dependencies instead of closing over the Router.
type Processor interface {
	Process(from *Peer, msg Message)
}

// ProcessorFunc adapts a plain function to a Processor.
type ProcessorFunc func(from *Peer, msg Message)

func (f ProcessorFunc) Process(from *Peer, msg Message) { f(from, msg) }

// TCPRouter listens for incoming peer connections and manages outgoing
// ones, dispatching inbound Messages to registered Processors by
// service name.
type TCPRouter struct {
	nodeID     string
	listenAddr string
	tlsConfig  *tls.Config // nil → plain TCP
	maxPeers   int
	rpcTimeout time.Duration // default Send/Receive deadline

	mu         sync.RWMutex
	peers      map[string]*Peer
	processors map[Service]Processor

	listener net.Listener
	stopCh   chan struct{}
}

// New creates a TCPRouter that will listen on listenAddr once Start is
// called. rpcTimeout governs the default per-message deadline (spec.md
// §6's rpc_timeout); the teacher used a fixed 30s read deadline, here
// it is configurable.
func New(nodeID, listenAddr string, tlsCfg *tls.Config, rpcTimeout time.Duration) *TCPRouter {
	return &TCPRouter{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		rpcTimeout: rpcTimeout,
		peers:      make(map[string]*Peer),
		processors: make(map[Service]Processor),
		stopCh:     make(chan struct{}),
	}
}

// RegisterProcessor associates svc with p. Later registrations for the
// same service replace earlier ones.
func (r *TCPRouter) RegisterProcessor(svc Service, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[svc] = p
}

// Start begins accepting connections.
func (r *TCPRouter) Start() error {
	var ln net.Listener
	var err error
	if r.tlsConfig != nil {
		ln, err = tls.Listen("tcp", r.listenAddr, r.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", r.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.listenAddr, err)
	}
	r.listener = ln
	go r.acceptLoop()
	return nil
}

// Stop shuts down the router and closes every connected peer.
func (r *TCPRouter) Stop() {
	close(r.stopCh)
	if r.listener != nil {
		r.listener.Close()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		p.Close()
	}
}

// AddPeer dials addr and registers the connection under id.
func (r *TCPRouter) AddPeer(id, addr string) error {
	peer, err := Connect(id, addr, r.tlsConfig)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.peers[id] = peer
	r.mu.Unlock()
	go r.readLoop(peer)

	ctx, cancel := r.deadlineCtx()
	defer cancel()
	hello, _ := json.Marshal(map[string]string{"node_id": r.nodeID})
	if err := peer.Send(ctx, Message{Service: ServiceHello, Sender: r.nodeID, Payload: hello}); err != nil {
		log.Printf("[router] send hello to %s: %v", id, err)
	}
	return nil
}

// Addr returns the actual listen address, useful when listenAddr was
// given as "host:0" and the OS picked an ephemeral port.
func (r *TCPRouter) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Peer returns the connected peer registered under id, or nil.
func (r *TCPRouter) Peer(id string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[id]
}

// Send delivers payload under svc to the named peer.
func (r *TCPRouter) Send(ctx context.Context, peerID string, svc Service, payload []byte) error {
	p := r.Peer(peerID)
	if p == nil {
		return fmt.Errorf("router: no peer %q", peerID)
	}
	return p.Send(ctx, Message{Service: svc, Sender: r.nodeID, Payload: payload})
}

// Broadcast sends payload under svc to every connected peer, logging
// (not failing) on a per-peer send error — one unreachable peer must
// not block delivery to the rest.
func (r *TCPRouter) Broadcast(svc Service, payload []byte) {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	msg := Message{Service: svc, Sender: r.nodeID, Payload: payload}
	for _, p := range peers {
		ctx, cancel := r.deadlineCtx()
		err := p.Send(ctx, msg)
		cancel()
		if err != nil {
			log.Printf("[router] broadcast to %s: %v", p.ID, err)
		}
	}
}

func (r *TCPRouter) deadlineCtx() (context.Context, context.CancelFunc) {
	if r.rpcTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), r.rpcTimeout)
}

func (r *TCPRouter) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
				log.Printf("[router] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		r.mu.RLock()
		peerCount := len(r.peers)
		r.mu.RUnlock()
		if peerCount >= r.maxPeers {
			log.Printf("[router] max peers (%d) reached, rejecting %s", r.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		r.mu.Lock()
		r.peers[peer.ID] = peer
		r.mu.Unlock()
		go r.readLoop(peer)
	}
}

func (r *TCPRouter) readLoop(peer *Peer) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[router] readLoop panic from %s: %v", peer.ID, rec)
		}
		peer.Close()
		r.mu.Lock()
		delete(r.peers, peer.ID)
		r.mu.Unlock()
	}()
	for {
		ctx, cancel := r.deadlineCtx()
		msg, err := peer.Receive(ctx)
		cancel()
		if err != nil {
			return
		}
		if msg.Service == ServiceHello {
			continue
		}
		r.mu.RLock()
		p, ok := r.processors[msg.Service]
		r.mu.RUnlock()
		if ok {
			p.Process(peer, msg)
		} else {
			log.Printf("[router] no processor registered for service %q", msg.Service)
		}
	}
}
