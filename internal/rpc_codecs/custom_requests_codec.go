package rpccodecs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/gorilla/rpc"
)

// Error codes by kind. Input reuses the JSON-RPC invalid params code.
const (
	CodeUnknown        = -32000
	CodeInput          = -32602
	CodePrecondition   = -32001
	CodeLedgerState    = -32002
	CodeInfrastructure = -32003
)

// CustomRequestsCodec accepts "service_method" names and maps them onto the
// "Service.Method" form gorilla/rpc dispatches on.
type CustomRequestsCodec struct {
}

func NewCustomRequestsCodec() *CustomRequestsCodec {
	return &CustomRequestsCodec{}
}

func (c *CustomRequestsCodec) NewRequest(r *http.Request) rpc.CodecRequest {
	return &CustomRequestsCodecRequest{CodecRequest: newCodecRequest(r)}
}

type CustomRequestsCodecRequest struct {
	*CodecRequest
}

func (c *CustomRequestsCodecRequest) Method() (string, error) {
	m, err := c.CodecRequest.Method()
	if err != nil || strings.Contains(m, ".") {
		return m, err
	}

	parts := strings.Split(m, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid method: %s", m)
	}
	service, method := parts[0], parts[1]
	return capitalize(service) + "." + capitalize(method), nil
}

func capitalize(value string) string {
	r, n := utf8.DecodeRuneInString(value)
	return string(unicode.ToUpper(r)) + value[n:]
}

// ErrorObject is the wire form of a failed call.
type ErrorObject struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func NewErrorObject(err error) *ErrorObject {
	kind := apperr.KindOf(err)
	return &ErrorObject{
		Code:      codeOf(kind),
		Message:   err.Error(),
		Kind:      kind.String(),
		Retryable: apperr.Retryable(err),
	}
}

func codeOf(kind apperr.Kind) int {
	switch kind {
	case apperr.Input:
		return CodeInput
	case apperr.Precondition:
		return CodePrecondition
	case apperr.LedgerState:
		return CodeLedgerState
	case apperr.Infrastructure:
		return CodeInfrastructure
	}
	return CodeUnknown
}

var null = json.RawMessage([]byte("null"))

type serverRequest struct {
	Method string           `json:"method"`
	Params *json.RawMessage `json:"params"`
	// Id is nil for notifications, which get no response.
	Id *json.RawMessage `json:"id"`
}

type serverResponse struct {
	Result interface{}      `json:"result"`
	Error  interface{}      `json:"error"`
	Id     *json.RawMessage `json:"id"`
}

func newCodecRequest(r *http.Request) *CodecRequest {
	req := new(serverRequest)
	err := json.NewDecoder(r.Body).Decode(req)
	r.Body.Close()
	return &CodecRequest{request: req, err: err}
}

// CodecRequest decodes and encodes a single request.
type CodecRequest struct {
	request *serverRequest
	err     error
}

func (c *CodecRequest) Method() (string, error) {
	if c.err == nil {
		return c.request.Method, nil
	}
	return "", c.err
}

// ReadRequest fills args from params. Struct args are sent as a
// single-element array, anything else is decoded directly.
func (c *CodecRequest) ReadRequest(args interface{}) error {
	if c.err == nil {
		if c.request.Params != nil {
			if reflect.ValueOf(args).Elem().Kind() == reflect.Struct {
				params := []interface{}{args}
				c.err = json.Unmarshal(*c.request.Params, &params)
			} else {
				c.err = json.Unmarshal(*c.request.Params, args)
			}
			if c.err != nil {
				c.err = fmt.Errorf("%w: %v", apperr.ErrMalformedRequest, c.err)
			}
		} else {
			c.err = fmt.Errorf("%w: missing params field", apperr.ErrMalformedRequest)
		}
	}
	return c.err
}

// WriteResponse encodes the response. Method errors are rendered as an
// ErrorObject and the result is null.
func (c *CodecRequest) WriteResponse(w http.ResponseWriter, reply interface{}, methodErr error) error {
	if c.err != nil {
		return c.err
	}

	res := &serverResponse{
		Result: reply,
		Error:  &null,
		Id:     c.request.Id,
	}
	if methodErr != nil {
		res.Error = NewErrorObject(methodErr)
		res.Result = &null
	}

	if c.request.Id == nil {
		return nil
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(res); err != nil {
		return errors.New("rpc: failed to encode response: " + err.Error())
	}
	return nil
}
