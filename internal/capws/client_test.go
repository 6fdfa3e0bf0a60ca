package capws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// Mock capture app websocket server for testing
type mockCaptureServer struct {
	server         *httptest.Server
	sendHello      bool
	sendIdentified bool
	requireAuth    bool
	password       string
	captureActive  bool
	clipPath       string
	failRequests   bool
}

func newMockCaptureServer() *mockCaptureServer {
	mock := &mockCaptureServer{
		sendHello:      true,
		sendIdentified: true,
		clipPath:       "/tmp/clips/attempt.webm",
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			_ = conn.Close()
		}()

		mock.handleConnection(conn)
	}))

	return mock
}

func (m *mockCaptureServer) handleConnection(conn *websocket.Conn) {
	if m.sendHello {
		hello := Message{Op: OpHello}
		helloData := HelloData{
			AppVersion: "1.2.0",
			RPCVersion: 1,
		}
		if m.requireAuth {
			helloData.Authentication.Challenge = "testchallenge"
			helloData.Authentication.Salt = "testsalt"
		}
		hello.D, _ = json.Marshal(helloData)
		if err := conn.WriteJSON(hello); err != nil {
			return
		}
	}

	var identifyMsg Message
	if err := conn.ReadJSON(&identifyMsg); err != nil {
		return
	}

	if m.requireAuth {
		var identify IdentifyData
		if err := json.Unmarshal(identifyMsg.D, &identify); err != nil {
			return
		}
		secret := sha256.Sum256([]byte(m.password + "testsalt"))
		secretB64 := base64.StdEncoding.EncodeToString(secret[:])
		expected := sha256.Sum256([]byte(secretB64 + "testchallenge"))
		expectedB64 := base64.StdEncoding.EncodeToString(expected[:])
		if identify.Authentication != expectedB64 {
			// Auth failure: close without Identified.
			return
		}
	}

	if m.sendIdentified {
		identified := Message{Op: OpIdentified}
		identified.D = json.RawMessage("{}")
		if err := conn.WriteJSON(identified); err != nil {
			return
		}
	}

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Op == OpRequest {
			var req Request
			if err := json.Unmarshal(msg.D, &req); err != nil {
				return
			}
			m.handleRequest(conn, &req)
		}
	}
}

func (m *mockCaptureServer) handleRequest(conn *websocket.Conn, req *Request) {
	resp := Response{
		RequestType: req.RequestType,
		RequestID:   req.RequestID,
	}
	resp.RequestStatus.Result = true
	resp.RequestStatus.Code = 100

	if m.failRequests {
		resp.RequestStatus.Result = false
		resp.RequestStatus.Code = 203
		resp.RequestStatus.Comment = "RequestProcessingFailed"
		msg := Message{Op: OpRequestResponse}
		msg.D, _ = json.Marshal(resp)
		_ = conn.WriteJSON(msg)
		return
	}

	switch req.RequestType {
	case "GetCaptureStatus":
		data := map[string]interface{}{
			"captureActive":   m.captureActive,
			"captureTimecode": "00:00:00",
			"captureDuration": 0,
			"captureBytes":    0,
		}
		resp.ResponseData, _ = json.Marshal(data)

	case "StartCapture":
		m.captureActive = true
		resp.ResponseData = json.RawMessage("{}")

	case "StopCapture":
		m.captureActive = false
		data := map[string]interface{}{
			"clipPath": m.clipPath,
		}
		resp.ResponseData, _ = json.Marshal(data)

	case "GetClipDirectory":
		data := map[string]interface{}{
			"clipDirectory": "/tmp/clips",
		}
		resp.ResponseData, _ = json.Marshal(data)

	case "GetVersion":
		data := map[string]interface{}{
			"appVersion": "1.2.0",
			"rpcVersion": 1,
		}
		resp.ResponseData, _ = json.Marshal(data)

	default:
		resp.RequestStatus.Result = false
		resp.RequestStatus.Code = 600
		resp.RequestStatus.Comment = "Unknown request"
	}

	msg := Message{Op: OpRequestResponse}
	msg.D, _ = json.Marshal(resp)
	if err := conn.WriteJSON(msg); err != nil {
		return
	}
}

func (m *mockCaptureServer) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func (m *mockCaptureServer) Close() {
	m.server.Close()
}

func TestNewClient(t *testing.T) {
	client := NewClient("ws://localhost:4460", "password")

	if client == nil {
		t.Fatal("NewClient returned nil")
	}

	if client.url != "ws://localhost:4460" {
		t.Errorf("url = %s, want ws://localhost:4460", client.url)
	}

	if client.captureState.AppStatus != "disconnected" {
		t.Errorf("initial status = %s, want disconnected", client.captureState.AppStatus)
	}
}

func TestConnect_Success(t *testing.T) {
	mock := newMockCaptureServer()
	defer mock.Close()

	client := NewClient(mock.URL(), "")
	client.SetReconnectEnabled(false)
	err := client.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if !client.IsConnected() {
		t.Error("client should be connected")
	}

	state := client.GetCaptureState()
	if state.AppStatus != "connected" {
		t.Errorf("app status = %s, want connected", state.AppStatus)
	}
	if state.AppVersion != "1.2.0" {
		t.Errorf("app version = %s, want 1.2.0", state.AppVersion)
	}
}

func TestConnect_WithAuth(t *testing.T) {
	mock := newMockCaptureServer()
	mock.requireAuth = true
	mock.password = "secret"
	defer mock.Close()

	client := NewClient(mock.URL(), "secret")
	client.SetReconnectEnabled(false)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect with auth failed: %v", err)
	}
	defer client.Disconnect()

	if !client.IsConnected() {
		t.Error("client should be connected after auth")
	}
}

func TestConnect_WrongPassword(t *testing.T) {
	mock := newMockCaptureServer()
	mock.requireAuth = true
	mock.password = "secret"
	defer mock.Close()

	client := NewClient(mock.URL(), "wrong")
	client.SetReconnectEnabled(false)
	err := client.Connect()
	if err == nil {
		client.Disconnect()
		t.Fatal("Connect should fail with wrong password")
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	client := NewClient("ws://invalid:9999", "")
	client.SetReconnectEnabled(false)
	err := client.Connect()

	if err == nil {
		t.Error("Connect should fail with invalid URL")
	}

	if client.IsConnected() {
		t.Error("client should not be connected")
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	mock := newMockCaptureServer()
	defer mock.Close()

	client := NewClient(mock.URL(), "")
	client.SetReconnectEnabled(false)
	if err := client.Connect(); err != nil {
		t.Fatalf("Initial connect failed: %v", err)
	}
	defer client.Disconnect()

	err := client.Connect()
	if err == nil {
		t.Error("Connect should fail when already connected")
	}
}

func TestStartStopCapture(t *testing.T) {
	mock := newMockCaptureServer()
	defer mock.Close()

	client := NewClient(mock.URL(), "")
	client.SetReconnectEnabled(false)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if err := client.StartCapture("hi-attempt-1.webm"); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}

	state := client.GetCaptureState()
	if !state.Capturing {
		t.Error("expected Capturing true after StartCapture")
	}
	if !strings.HasSuffix(state.ClipPath, "hi-attempt-1.webm") {
		t.Errorf("unexpected clip path: %s", state.ClipPath)
	}

	path, err := client.StopCapture("user_stop")
	if err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
	if path != "/tmp/clips/attempt.webm" {
		t.Errorf("clip path = %s, want /tmp/clips/attempt.webm", path)
	}

	if client.GetCaptureState().Capturing {
		t.Error("expected Capturing false after StopCapture")
	}
}

func TestGetCaptureStatus(t *testing.T) {
	mock := newMockCaptureServer()
	mock.captureActive = true
	defer mock.Close()

	client := NewClient(mock.URL(), "")
	client.SetReconnectEnabled(false)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	state, err := client.GetCaptureStatus()
	if err != nil {
		t.Fatalf("GetCaptureStatus failed: %v", err)
	}
	if !state.Capturing {
		t.Error("expected Capturing true")
	}
}

func TestGetVersion(t *testing.T) {
	mock := newMockCaptureServer()
	defer mock.Close()

	client := NewClient(mock.URL(), "")
	client.SetReconnectEnabled(false)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	appVersion, rpcVersion, err := client.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if appVersion != "1.2.0" {
		t.Errorf("app version = %s, want 1.2.0", appVersion)
	}
	if rpcVersion != 1 {
		t.Errorf("rpc version = %d, want 1", rpcVersion)
	}
}

func TestRequestFailure(t *testing.T) {
	mock := newMockCaptureServer()
	mock.failRequests = true
	defer mock.Close()

	client := NewClient(mock.URL(), "")
	client.SetReconnectEnabled(false)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if err := client.StartCapture("x.webm"); err == nil {
		t.Error("StartCapture should surface request failure")
	}
}

func TestRequestWhileDisconnected(t *testing.T) {
	client := NewClient("ws://localhost:4460", "")
	if _, err := client.GetCaptureStatus(); err == nil {
		t.Error("expected error when not connected")
	}
}

func TestCaptureStateChangedEvent(t *testing.T) {
	eventCh := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello := Message{Op: OpHello}
		hello.D, _ = json.Marshal(HelloData{AppVersion: "1.2.0", RPCVersion: 1})
		_ = conn.WriteJSON(hello)

		var identify Message
		if err := conn.ReadJSON(&identify); err != nil {
			return
		}

		identified := Message{Op: OpIdentified}
		identified.D = json.RawMessage("{}")
		_ = conn.WriteJSON(identified)

		event := Event{EventType: "CaptureStateChanged"}
		event.EventData, _ = json.Marshal(map[string]interface{}{
			"captureActive": true,
			"clipPath":      "/tmp/clips/evt.webm",
		})
		msg := Message{Op: OpEvent}
		msg.D, _ = json.Marshal(event)
		_ = conn.WriteJSON(msg)

		<-eventCh
	}))
	defer server.Close()
	defer close(eventCh)

	client := NewClient("ws"+strings.TrimPrefix(server.URL, "http"), "")
	client.SetReconnectEnabled(false)

	received := make(chan string, 1)
	client.OnCaptureStateChanged(func(capturing bool, clipPath string) {
		if capturing {
			received <- clipPath
		}
	})

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	select {
	case path := <-received:
		if path != "/tmp/clips/evt.webm" {
			t.Errorf("event clip path = %s, want /tmp/clips/evt.webm", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CaptureStateChanged event")
	}

	state := client.GetCaptureState()
	if !state.Capturing {
		t.Error("cached state should reflect event")
	}
}
