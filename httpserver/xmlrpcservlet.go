package httpserver

import (
	"fmt"
	"net/http"

	structs "github.com/archiecobbs/pdel-go"
	"github.com/archiecobbs/pdel-go/xmlrpc"
)

// RegisterXMLRPCMethod wraps fn with an argument-count check before
// registering it on d: calls with fewer than minArgs or more than
// maxArgs arguments fault instead of reaching fn. maxArgs < 0 means
// unbounded.
func RegisterXMLRPCMethod(d *xmlrpc.Dispatcher, name string, minArgs, maxArgs int, fn xmlrpc.Method) {
	d.Register(name, func(args []structs.UnionValue) (structs.UnionValue, error) {
		if len(args) < minArgs || (maxArgs >= 0 && len(args) > maxArgs) {
			return structs.UnionValue{}, &xmlrpc.Fault{
				Code:    xmlrpc.FaultInternalError,
				Message: fmt.Sprintf("%s: expected %d-%d arguments, got %d", name, minArgs, maxArgs, len(args)),
			}
		}
		return fn(args)
	})
}

// XMLRPCServlet serves one XML-RPC methodCall per request against a
// Dispatcher built with RegisterXMLRPCMethod.
type XMLRPCServlet struct {
	Dispatcher *xmlrpc.Dispatcher
}

func (s *XMLRPCServlet) Run(resp *Response, req *http.Request) (Status, error) {
	resp.Header().Set("Content-Type", "text/xml")
	if err := s.Dispatcher.Serve(resp, req.Body); err != nil {
		return Handled, fmt.Errorf("serving xml-rpc call: %w", err)
	}
	return Handled, nil
}

func (s *XMLRPCServlet) Destroy() {}
