package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/host"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/schema"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/session"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/rt"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/testutil/testlog"
)

func newTestGateway(t *testing.T) (*Gateway, *rt.Runtime, *hmq.StepClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fab, err := hmq.NewFabric(hmq.UniformBank(2, hmq.DefaultSlot), hmq.BankConfig{})
	if err != nil {
		t.Fatalf("fabric: %v", err)
	}
	reg, err := rt.NewRegistry(rt.NewMemory(1),
		[]rt.Variable{{Name: "v", Cell: 0, Mask: 0xFFFF}},
		[]rt.Structure{{Name: "s", Buffer: make([]byte, 8)}},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	codec := frame.HostCodec()
	core, err := rt.New(rt.Application{
		Name:     "gw",
		Version:  schema.Version{AppID: 7, AppVersion: schema.MakeVersion(1, 4)},
		MQs:      []rt.MQ{{Index: 0}},
		Registry: reg,
	}, fab.Local.CorePort(), nil, codec)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	clock := hmq.NewStepClock(time.Unix(0, 0))
	clock.OnSleep = func() { core.Step() }
	engine := host.NewEngine(fab.Local.HostPort(), codec, clock, session.Config{PollInterval: time.Millisecond})
	g := New("gw-test", ":0", engine, host.Target{AppID: 7}, nil)
	g.RegisterRoutes()
	return g, core, clock
}

func do(t *testing.T, g *Gateway, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	g.HTTPRouter().ServeHTTP(rr, req)
	var out map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v body=%s", method, path, err, rr.Body.String())
		}
	}
	return rr.Code, out
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	g, _, _ := newTestGateway(t)
	if code, body := do(t, g, http.MethodGet, "/health", ""); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", code, body)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	g.HTTPRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("rtmq_http_requests_total")) {
		t.Fatalf("metrics: %d", rr.Code)
	}
}

func TestPingVersionAndReady(t *testing.T) {
	testlog.Start(t)
	g, _, _ := newTestGateway(t)
	if code, body := do(t, g, http.MethodPost, "/ping", ""); code != http.StatusOK {
		t.Fatalf("ping: %d %v", code, body)
	}
	code, body := do(t, g, http.MethodGet, "/version", "")
	if code != http.StatusOK || body["app_version"] != "1.4" {
		t.Fatalf("version: %d %v", code, body)
	}
	if code, body := do(t, g, http.MethodGet, "/ready", ""); code != http.StatusOK || body["ready"] != true {
		t.Fatalf("ready: %d %v", code, body)
	}
}

func TestTimeoutMapsToGatewayTimeout(t *testing.T) {
	testlog.Start(t)
	g, _, clock := newTestGateway(t)
	clock.OnSleep = nil
	code, body := do(t, g, http.MethodPost, "/ping?timeout_ms=5", "")
	if code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d %v", code, body)
	}
	if code, _ := do(t, g, http.MethodPost, "/ping?in=x", ""); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad slot, got %d", code)
	}
}

func TestVariablesRoutes(t *testing.T) {
	testlog.Start(t)
	g, core, _ := newTestGateway(t)
	code, body := do(t, g, http.MethodPut, "/variables", `{"variables":[{"index":0,"value":70000}],"sync":true}`)
	if code != http.StatusOK {
		t.Fatalf("set: %d %v", code, body)
	}
	if got := core.Registry().Memory().Load(0); got != 70000&0xFFFF {
		t.Fatalf("cell %#x", got)
	}
	code, body = do(t, g, http.MethodGet, "/variables?index=0&index=5", "")
	if code != http.StatusOK {
		t.Fatalf("get: %d %v", code, body)
	}
	vars := body["variables"].([]any)
	first := vars[0].(map[string]any)
	second := vars[1].(map[string]any)
	if first["value"].(float64) != float64(70000&0xFFFF) || first["valid"] != true || second["valid"] != false {
		t.Fatalf("unexpected variables %v", vars)
	}
	if code, _ := do(t, g, http.MethodGet, "/variables", ""); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without index, got %d", code)
	}
}

func TestStructureRoutes(t *testing.T) {
	testlog.Start(t)
	g, _, _ := newTestGateway(t)
	code, body := do(t, g, http.MethodPut, "/structures/0", `{"data":"0102030405060708","sync":true}`)
	if code != http.StatusOK {
		t.Fatalf("set: %d %v", code, body)
	}
	code, body = do(t, g, http.MethodGet, "/structures/0?size=8", "")
	if code != http.StatusOK {
		t.Fatalf("get: %d %v", code, body)
	}
	s := body["structures"].([]any)[0].(map[string]any)
	if s["data"] != "0102030405060708" || s["valid"] != true {
		t.Fatalf("unexpected structure %v", s)
	}
	code, body = do(t, g, http.MethodGet, "/structures/0?size=4", "")
	if code != http.StatusOK {
		t.Fatalf("get mismatch: %d %v", code, body)
	}
	s = body["structures"].([]any)[0].(map[string]any)
	if s["valid"] != false || s["data"] != "00000000" {
		t.Fatalf("mismatched structure %v", s)
	}
}

func TestStreamForwardsAsyncFrames(t *testing.T) {
	testlog.Start(t)
	g, core, _ := newTestGateway(t)
	if _, err := core.Send(1, false, frame.Header{AppID: 7, MsgID: 30}, []uint32{9}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := core.Send(1, false, frame.Header{AppID: 7, MsgID: 31}, []uint32{10}); err != nil {
		t.Fatalf("send: %v", err)
	}
	srv := httptest.NewServer(g.HTTPRouter())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/1?msg_id=31"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg messageView
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.MsgID != 31 || len(msg.Payload) != 1 || msg.Payload[0] != 10 {
		t.Fatalf("unexpected stream message %+v", msg)
	}
}
