package vmengine

import (
	"fmt"
	"sync"

	"github.com/tolelom/delegate/events"
	"github.com/tolelom/delegate/statedriver"
)

// Context is passed to every Handler and provides access to contract
// state, the Work Item being executed, and the event emitter. Grounded
// on the teacher's vm.Context, with State re-typed to *statedriver.StateDriver
// and Block (there is no block in this model) dropped in favor of the HLC.
type Context struct {
	State         *statedriver.StateDriver
	HLC           string // hlc.Timestamp.String(), avoids an import cycle with txn
	Sender        string
	Now           int64 // tx.metadata.timestamp, the deterministic "current time" for contracts
	BlockNum      int64
	BlockHash     string
	InputHash     string // tx.input_hash, the Python source's environment['__input_hash']
	AuxiliarySalt string // tx.metadata.signature, the Python source's environment['AUXILIARY_SALT']
	Emitter       *events.Emitter
}

// Handler is the function signature every contract module must implement.
type Handler func(ctx *Context, kwargs map[string]Value) (string, error)

// Registry maps "contract.function" names to Handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func handlerKey(contract, function string) string { return contract + "." + function }

// Register associates (contract, function) with h. Panics on duplicate registration.
func (r *Registry) Register(contract, function string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := handlerKey(contract, function)
	if _, exists := r.handlers[key]; exists {
		panic(fmt.Sprintf("vmengine: handler already registered for %q", key))
	}
	r.handlers[key] = h
}

// Execute dispatches to the handler registered for (contract, function).
func (r *Registry) Execute(contract, function string, ctx *Context, kwargs map[string]Value) (string, error) {
	r.mu.RLock()
	h, ok := r.handlers[handlerKey(contract, function)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("vmengine: no handler registered for %q", handlerKey(contract, function))
	}
	return h(ctx, kwargs)
}

// globalRegistry is the package-level singleton that modules register into.
var globalRegistry = NewRegistry()

// Register adds a handler to the global registry. Module init()
// functions call this to self-register, mirroring the teacher's
// vm.Register pattern.
func Register(contract, function string, h Handler) {
	globalRegistry.Register(contract, function, h)
}

// Dispatch executes against the global registry.
func Dispatch(contract, function string, ctx *Context, kwargs map[string]Value) (string, error) {
	return globalRegistry.Execute(contract, function, ctx, kwargs)
}
