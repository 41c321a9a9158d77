// Package rpctransport implements the pooled request/response channel
// spec §4.3 calls for: one logical connection per (server, port), a binary
// envelope codec for opaque byte payloads, and typed TransportError /
// RemoteError reporting.
//
// The pool itself is a map of *fasthttp.HostClient keyed by "server:port".
// fasthttp.HostClient already owns its own idle-connection pool (pop/push
// on every Do), so the only operation this package needs to make atomic is
// "look up or create the HostClient for this key" -- exactly the "create"
// half of spec §4.3's "pop, push and create must be atomic" requirement.
package rpctransport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/keiichishima/ukai/cmn"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTimeout = 30 * time.Second

// Transport is a pooled RPC client keyed by (server, port). The zero value
// is not usable; construct with New.
type Transport struct {
	mtx     sync.Mutex
	clients map[string]*fasthttp.HostClient
	timeout time.Duration
}

// New constructs a Transport with the given per-call timeout. A zero
// timeout means defaultTimeout.
func New(timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Transport{
		clients: make(map[string]*fasthttp.HostClient),
		timeout: timeout,
	}
}

func addrKey(server string, port int) string {
	return fmt.Sprintf("%s:%d", server, port)
}

// client returns the pooled HostClient for (server, port), creating it if
// this is the first call to that key. This is the one operation spec §4.3
// requires to be atomic across concurrent callers sharing one Transport.
func (t *Transport) client(server string, port int) *fasthttp.HostClient {
	key := addrKey(server, port)

	t.mtx.Lock()
	defer t.mtx.Unlock()
	c, ok := t.clients[key]
	if !ok {
		c = &fasthttp.HostClient{Addr: key}
		t.clients[key] = c
	}
	return c
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Call issues method(params...) against the peer at server:port and
// returns its raw JSON result. A TransportError is returned on any
// connection/protocol failure; a RemoteError is returned when the peer's
// envelope itself carries an application-level error.
func (t *Transport) Call(server string, port int, method string, params ...interface{}) (json.RawMessage, error) {
	client := t.client(server, port)

	body, err := jsonAPI.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return nil, cmn.NewTransportError("encode request for %s: %v", method, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetRequestURI("http://" + addrKey(server, port) + "/rpc/" + method)
	req.SetBody(body)

	if err := client.DoTimeout(req, resp, t.timeout); err != nil {
		return nil, cmn.NewTransportError("%s:%d %s: %v", server, port, method, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, cmn.NewTransportError("%s:%d %s: HTTP %d", server, port, method, resp.StatusCode())
	}

	var rpcResp rpcResponse
	// resp.Body() is only valid until the response is released; copy out.
	respBody := append([]byte(nil), resp.Body()...)
	if err := jsonAPI.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, cmn.NewTransportError("%s:%d %s: decode response: %v", server, port, method, err)
	}
	if rpcResp.Error != "" {
		return nil, cmn.NewRemoteError("%s:%d %s: %s", server, port, method, rpcResp.Error)
	}
	return rpcResp.Result, nil
}
