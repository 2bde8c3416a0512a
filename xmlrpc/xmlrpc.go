// Package xmlrpc maps structs.Type values onto the XML-RPC wire
// protocol (value.go) and serves the methodCall/methodResponse
// envelope (wire.go), plus a method dispatcher for the server side.
package xmlrpc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	structs "github.com/archiecobbs/pdel-go"
)

// Local fault-code convention: the pack carries no predefined
// fault-code table, so these three cover the dispatcher's own
// failure modes; application methods are free to return any code.
const (
	FaultParseError    int32 = 1
	FaultNoSuchMethod  int32 = 2
	FaultInternalError int32 = 3
)

// Fault is the explicit XML-RPC fault a Method may return instead of
// a result value.
type Fault struct {
	Code    int32
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xml-rpc fault %d: %s", f.Code, f.Message)
}

// Method is a server-side XML-RPC method: it receives the call's
// decoded argument values and returns a result value, or an error
// (a *Fault to control the faultCode/faultString explicitly, any
// other error becomes FaultInternalError).
type Method func(args []structs.UnionValue) (structs.UnionValue, error)

// Dispatcher maps method names to Methods and serves calls
// end-to-end, wrapping a handler's fault into the reply envelope the
// way the xmlrpc servlet's server-side dispatch loop does.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{methods: make(map[string]Method)}
}

// Register adds or replaces the handler for name.
func (d *Dispatcher) Register(name string, m Method) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.methods[name] = m
}

// Serve reads one methodCall from r, dispatches it to the registered
// Method, and writes the resulting methodResponse (or fault) to w.
// A malformed request or unknown method name itself becomes a fault
// response rather than a returned error, matching the convention that
// a dispatcher never leaves a caller without a reply envelope.
func (d *Dispatcher) Serve(w io.Writer, r io.Reader) error {
	name, args, err := DecodeRequest(r)
	if err != nil {
		return EncodeFault(w, FaultParseError, err.Error())
	}
	d.mu.RLock()
	method, ok := d.methods[name]
	d.mu.RUnlock()
	if !ok {
		return EncodeFault(w, FaultNoSuchMethod, fmt.Sprintf("no such method %q", name))
	}
	result, err := method(args)
	if err != nil {
		var f *Fault
		if errors.As(err, &f) {
			return EncodeFault(w, f.Code, f.Message)
		}
		return EncodeFault(w, FaultInternalError, err.Error())
	}
	return EncodeResponse(w, result)
}
