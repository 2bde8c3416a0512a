package httpserver

import (
	"fmt"
	"net/http"
	"reflect"

	structs "github.com/archiecobbs/pdel-go"
	"github.com/archiecobbs/pdel-go/xmlstruct"
)

// XMLHandler receives a decoded request value and returns the reply
// value to serialize back.
type XMLHandler func(req reflect.Value) (reflect.Value, error)

// XMLServlet decodes the request body as an XML rendering of
// RequestType, invokes Handler, and serializes the result as an XML
// rendering of ReplyType.
type XMLServlet struct {
	RequestType structs.Type
	RequestTag  string
	ReplyType   structs.Type
	ReplyTag    string
	Handler     XMLHandler
	Flags       xmlstruct.Flags
	Logger      xmlstruct.Logger
}

func (s *XMLServlet) Run(resp *Response, req *http.Request) (Status, error) {
	reqVal := reflect.New(s.RequestType.GoType()).Elem()
	if err := s.RequestType.Init(reqVal); err != nil {
		return Handled, fmt.Errorf("initializing request value: %w", err)
	}
	if _, err := xmlstruct.Read(req.Body, s.RequestType, s.RequestTag, reqVal, s.Flags, s.Logger); err != nil {
		resp.WriteHeader(http.StatusBadRequest)
		_, werr := resp.Write([]byte(err.Error()))
		return Handled, werr
	}

	replyVal, err := s.Handler(reqVal)
	if err != nil {
		resp.WriteHeader(http.StatusInternalServerError)
		_, werr := resp.Write([]byte(err.Error()))
		return Handled, werr
	}

	resp.Header().Set("Content-Type", "application/xml")
	if err := xmlstruct.Write(resp, s.ReplyType, s.ReplyTag, nil, replyVal, nil, true); err != nil {
		return Handled, fmt.Errorf("writing reply: %w", err)
	}
	return Handled, nil
}

func (s *XMLServlet) Destroy() {}
