// Package capws implements the websocket control protocol for the companion
// capture app. The companion app owns the camera and writes clips to disk;
// this client drives it: authenticate, start/stop capture, observe capture
// state events, and survive app restarts via reconnect with backoff.
package capws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signlab/signcoach/internal/diaglog"
)

// CaptureState represents the companion app capture status.
type CaptureState struct {
	Capturing   bool      `json:"capturing"`
	StartTime   time.Time `json:"start_time"`
	Duration    int       `json:"duration_seconds"`
	ClipPath    string    `json:"clip_path"`
	AppStatus   string    `json:"app_status"` // "connected", "disconnected", "error"
	AppVersion  string    `json:"app_version"`
	LastUpdated time.Time `json:"last_updated"`
}

// Client speaks the capture app websocket protocol: a Hello/Identify
// handshake with optional challenge auth, then request/response pairs
// correlated by request id, plus server-pushed events.
type Client struct {
	url         string
	password    string
	conn        *websocket.Conn
	mu          sync.RWMutex
	connected   bool
	identified  bool
	requestID   int
	requestIDMu sync.Mutex
	responses   map[int]chan *Response
	responseMu  sync.RWMutex

	logger   *diaglog.Logger
	loggerMu sync.RWMutex

	onCaptureStateChanged func(capturing bool, clipPath string)
	onDisconnected        func()

	captureState CaptureState
	stateMu      sync.RWMutex

	reconnectEnabled bool
	reconnectDelay   time.Duration
	stopChan         chan struct{}

	identifiedChan chan struct{}
	helloChan      chan *HelloData
	helloErrChan   chan error
}

// Message is the protocol envelope: an opcode plus opcode-specific data.
type Message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type HelloData struct {
	AppVersion     string `json:"appVersion"`
	RPCVersion     int    `json:"rpcVersion"`
	Authentication struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type IdentifyData struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type Request struct {
	RequestType string      `json:"requestType"`
	RequestID   string      `json:"requestId"`
	RequestData interface{} `json:"requestData,omitempty"`
}

type Response struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment,omitempty"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData,omitempty"`
}

type Event struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

// Protocol opcodes.
const (
	OpHello           = 0
	OpIdentify        = 1
	OpIdentified      = 2
	OpEvent           = 5
	OpRequest         = 6
	OpRequestResponse = 7
)

const EventSubscriptionAll = 0xFFFFFFFF

// CloseCodeSessionTaken is sent by the capture app when another controller
// identifies on the same session.
const CloseCodeSessionTaken = 4009

// NewClient creates a capture app websocket client.
func NewClient(url, password string) *Client {
	return &Client{
		url:              url,
		password:         password,
		responses:        make(map[int]chan *Response),
		reconnectEnabled: true,
		reconnectDelay:   5 * time.Second,
		stopChan:         make(chan struct{}),
		identifiedChan:   make(chan struct{}),
		helloChan:        make(chan *HelloData, 1),
		helloErrChan:     make(chan error, 1),
		captureState: CaptureState{
			AppStatus:   "disconnected",
			LastUpdated: time.Now(),
		},
	}
}

// Connect establishes the websocket connection and authenticates.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.updateAppStatus("disconnected", "")
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readMessages()

	select {
	case hello := <-c.helloChan:
		return c.authenticate(hello)
	case err := <-c.helloErrChan:
		c.disconnect()
		return err
	case <-time.After(10 * time.Second):
		c.disconnect()
		return fmt.Errorf("timeout waiting for Hello message")
	}
}

// authenticate sends the Identify message with the auth response derived
// from the Hello challenge.
func (c *Client) authenticate(hello *HelloData) error {
	identify := IdentifyData{
		RPCVersion:         1,
		EventSubscriptions: EventSubscriptionAll,
	}

	if hello.Authentication.Challenge != "" && c.password != "" {
		// secret = base64(sha256(password + salt))
		secret := sha256.Sum256([]byte(c.password + hello.Authentication.Salt))
		secretB64 := base64.StdEncoding.EncodeToString(secret[:])

		// auth = base64(sha256(secret + challenge))
		auth := sha256.Sum256([]byte(secretB64 + hello.Authentication.Challenge))
		identify.Authentication = base64.StdEncoding.EncodeToString(auth[:])
	}

	msg := Message{Op: OpIdentify}
	msg.D, _ = json.Marshal(identify)

	c.mu.RLock()
	err := c.conn.WriteJSON(msg)
	c.mu.RUnlock()

	if err != nil {
		c.disconnect()
		return err
	}

	select {
	case <-c.identifiedChan:
		c.mu.Lock()
		c.identified = true
		c.mu.Unlock()
		c.updateAppStatus("connected", hello.AppVersion)
		c.log(diaglog.LogEntry{
			Event:   diaglog.EventWSConnect,
			Payload: map[string]interface{}{"app_version": hello.AppVersion},
		})
		return nil
	case <-time.After(10 * time.Second):
		c.disconnect()
		return fmt.Errorf("timeout waiting for Identified message")
	}
}

// readMessages continuously reads and dispatches websocket messages.
func (c *Client) readMessages() {
	defer func() {
		c.disconnect()
		if c.reconnectEnabled {
			c.reconnect()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		var msg Message
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == CloseCodeSessionTaken {
				c.log(diaglog.LogEntry{
					Event:   diaglog.EventWSDisconnect,
					Payload: map[string]interface{}{"close_code": closeErr.Code, "text": closeErr.Text},
				})
			}
			if c.onDisconnected != nil {
				c.onDisconnected()
			}
			return
		}

		var rawMsg interface{}
		if jerr := json.Unmarshal(msg.D, &rawMsg); jerr == nil {
			c.log(diaglog.LogEntry{
				Event:   diaglog.EventWSRecv,
				Payload: rawMsg,
			})
		}

		switch msg.Op {
		case OpHello:
			var hello HelloData
			if err := json.Unmarshal(msg.D, &hello); err != nil {
				select {
				case c.helloErrChan <- err:
				default:
				}
				return
			}
			select {
			case c.helloChan <- &hello:
			default:
			}

		case OpIdentified:
			select {
			case c.identifiedChan <- struct{}{}:
			default:
			}

		case OpEvent:
			var event Event
			if err := json.Unmarshal(msg.D, &event); err == nil {
				c.handleEvent(&event)
			}

		case OpRequestResponse:
			var resp Response
			if err := json.Unmarshal(msg.D, &resp); err == nil {
				c.handleResponse(&resp)
			}
		}
	}
}

// handleEvent processes capture app events.
func (c *Client) handleEvent(event *Event) {
	switch event.EventType {
	case "CaptureStateChanged":
		var data struct {
			CaptureActive bool   `json:"captureActive"`
			ClipPath      string `json:"clipPath"`
		}
		if err := json.Unmarshal(event.EventData, &data); err == nil {
			c.stateMu.Lock()
			c.captureState.Capturing = data.CaptureActive
			c.captureState.ClipPath = data.ClipPath
			if data.CaptureActive {
				c.captureState.StartTime = time.Now()
			}
			c.captureState.LastUpdated = time.Now()
			c.stateMu.Unlock()

			if c.onCaptureStateChanged != nil {
				c.onCaptureStateChanged(data.CaptureActive, data.ClipPath)
			}
		}
	}
}

// handleResponse routes responses to waiting request channels.
func (c *Client) handleResponse(resp *Response) {
	c.responseMu.RLock()
	defer c.responseMu.RUnlock()

	var id int
	if _, err := fmt.Sscanf(resp.RequestID, "%d", &id); err != nil {
		log.Printf("Warning: failed to parse request ID: %v", err)
		return
	}

	if ch, ok := c.responses[id]; ok {
		ch <- resp
	}
}

// sendRequest sends a request and waits for the matching response.
func (c *Client) sendRequest(requestType string, requestData interface{}) (*Response, error) {
	c.mu.RLock()
	if !c.connected || !c.identified {
		c.mu.RUnlock()
		return nil, fmt.Errorf("not connected")
	}
	c.mu.RUnlock()

	c.requestIDMu.Lock()
	c.requestID++
	id := c.requestID
	c.requestIDMu.Unlock()
	requestID := fmt.Sprintf("%d", id)

	req := Request{
		RequestType: requestType,
		RequestID:   requestID,
		RequestData: requestData,
	}

	msg := Message{Op: OpRequest}
	msg.D, _ = json.Marshal(req)

	c.log(diaglog.LogEntry{
		Event:   diaglog.EventWSSend,
		Payload: map[string]interface{}{"request_type": requestType, "request_id": requestID},
	})

	respChan := make(chan *Response, 1)
	c.responseMu.Lock()
	c.responses[id] = respChan
	c.responseMu.Unlock()

	defer func() {
		c.responseMu.Lock()
		delete(c.responses, id)
		c.responseMu.Unlock()
	}()

	c.mu.RLock()
	err := c.conn.WriteJSON(msg)
	c.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	select {
	case resp := <-respChan:
		if !resp.RequestStatus.Result {
			return nil, fmt.Errorf("request failed: %s (request: %s, code: %d)",
				resp.RequestStatus.Comment, requestType, resp.RequestStatus.Code)
		}
		return resp, nil
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("request timeout after 10s (request: %s)", requestType)
	}
}

// disconnect closes the websocket connection.
func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.log(diaglog.LogEntry{
			Event:   diaglog.EventWSDisconnect,
			Payload: map[string]interface{}{"url": c.url},
		})
		if err := c.conn.Close(); err != nil {
			log.Printf("Warning: failed to close connection: %v", err)
		}
		c.conn = nil
	}
	c.connected = false
	c.identified = false

	c.updateAppStatus("disconnected", "")
}

// reconnect retries the connection with exponential backoff and jitter.
// Reconnecting must never start or stop a capture on its own: a reconnect
// mid-attempt leaves the session to decide what to do with the clip.
func (c *Client) reconnect() {
	delay := c.reconnectDelay
	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
			attempt++
			c.log(diaglog.LogEntry{
				Event:     diaglog.EventWSReconnectAttempt,
				Component: diaglog.ComponentReconnect,
				Payload:   map[string]interface{}{"attempt": attempt, "delay_ms": delay.Milliseconds()},
			})
			if err := c.Connect(); err == nil {
				c.log(diaglog.LogEntry{
					Event:     diaglog.EventWSReconnectSuccess,
					Component: diaglog.ComponentReconnect,
					Payload:   map[string]interface{}{"attempt": attempt},
				})
				return
			} else {
				c.log(diaglog.LogEntry{
					Event:     diaglog.EventWSReconnectFailed,
					Component: diaglog.ComponentReconnect,
					Payload:   map[string]interface{}{"attempt": attempt, "error": err.Error()},
				})
			}

			delay = delay * 2
			if delay > 60*time.Second {
				delay = 60 * time.Second
			}

			// Jitter of ±10% to avoid synchronized retries.
			jitter := time.Duration((delay.Seconds()*0.2)*(rand.Float64()-0.5)) * time.Second
			delay = delay + jitter

			if delay < time.Second {
				delay = time.Second
			}
		}
	}
}

// updateAppStatus updates the cached connection status.
func (c *Client) updateAppStatus(status, version string) {
	c.stateMu.Lock()
	c.captureState.AppStatus = status
	c.captureState.AppVersion = version
	c.captureState.LastUpdated = time.Now()
	c.stateMu.Unlock()
}

// Disconnect gracefully closes the connection and stops reconnection.
func (c *Client) Disconnect() {
	c.reconnectEnabled = false
	close(c.stopChan)
	c.disconnect()
}

// SetLogger injects a diaglog.Logger. Safe to call any time before or after
// Connect. Passing nil disables structured logging.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

// log emits a LogEntry when a logger is set. Component defaults to
// ComponentCapWSClient when left empty.
func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = diaglog.ComponentCapWSClient
	}
	l.Log(entry)
}

// SetReconnectEnabled enables or disables automatic reconnection.
func (c *Client) SetReconnectEnabled(enabled bool) {
	c.reconnectEnabled = enabled
}

// OnCaptureStateChanged registers a callback for capture state events.
func (c *Client) OnCaptureStateChanged(handler func(capturing bool, clipPath string)) {
	c.onCaptureStateChanged = handler
}

// OnDisconnected registers a callback for disconnection events.
func (c *Client) OnDisconnected(handler func()) {
	c.onDisconnected = handler
}

// IsConnected returns the current connection status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.identified
}
