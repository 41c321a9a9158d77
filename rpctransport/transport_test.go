package rpctransport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/keiichishima/ukai/cmn"
)

func startEchoServer(t *testing.T) (host string, port int, close func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "boom":
			json.NewEncoder(w).Encode(rpcResponse{Error: "boom happened"})
		case "echo":
			result, _ := json.Marshal(req.Params[0])
			w.Write([]byte(`{"result":` + string(result) + `}`))
		default:
			http.NotFound(w, r)
		}
	}))

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	h, p, err := splitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host/port: %v", err)
	}
	return h, p, srv.Close
}

func splitHostPort(hostport string) (string, int, error) {
	idx := strings.LastIndex(hostport, ":")
	port, err := strconv.Atoi(hostport[idx+1:])
	if err != nil {
		return "", 0, err
	}
	return hostport[:idx], port, nil
}

func TestCallEcho(t *testing.T) {
	host, port, closeFn := startEchoServer(t)
	defer closeFn()

	tr := New(2 * time.Second)
	raw, err := tr.Call(host, port, "echo", "hello")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q want %q", got, "hello")
	}
}

func TestCallRemoteError(t *testing.T) {
	host, port, closeFn := startEchoServer(t)
	defer closeFn()

	tr := New(2 * time.Second)
	_, err := tr.Call(host, port, "boom")
	if !cmn.IsKind(err, cmn.ErrRemote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}

func TestCallTransportError(t *testing.T) {
	tr := New(200 * time.Millisecond)
	// Nothing listens on this port.
	_, err := tr.Call("127.0.0.1", 1, "echo", "x")
	if !cmn.IsKind(err, cmn.ErrTransport) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	data := []byte{0x00, 0xff, 'h', 'i'}
	v := Encode(data)
	back, err := Decode(v)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(back) != string(data) {
		t.Fatalf("round-trip mismatch: got %v want %v", back, data)
	}
}

func TestClientPoolReusesHostClient(t *testing.T) {
	tr := New(0)
	c1 := tr.client("10.0.0.1", 7001)
	c2 := tr.client("10.0.0.1", 7001)
	if c1 != c2 {
		t.Fatalf("expected the same pooled HostClient for the same key")
	}
	c3 := tr.client("10.0.0.2", 7001)
	if c1 == c3 {
		t.Fatalf("expected distinct HostClients for distinct keys")
	}
}
