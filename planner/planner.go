// Package planner is the client surface to the remote planner/LLM
// service: POST /plan, WS /converse, and POST /tts. Only the
// request/response contracts matter here; the backend's implementation
// lives elsewhere.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jangala-dev/robot-supervisor/workerbus"
)

const defaultPlanTimeout = 15 * time.Second

// WorldState is the caller-supplied context for a /plan request; its
// shape is intentionally open (the planner backend owns the schema).
type WorldState = map[string]any

type PlanRequest struct {
	RobotID       string     `json:"robot_id"`
	Seq           uint64     `json:"seq"`
	MonotonicTSMs int64      `json:"monotonic_ts_ms"`
	WorldState    WorldState `json:"world_state"`
}

type PlanResponse struct {
	PlanID  string             `json:"plan_id"`
	Actions []workerbus.Action `json:"actions"`
}

// Client talks to the remote planner. It is safe for concurrent use; the
// Director calls it from its own goroutine, off the control loop, so a
// slow backend never stalls the tick loop.
type Client struct {
	baseURL string
	http    *http.Client

	mu        sync.RWMutex
	connected bool

	wsMu   sync.Mutex
	wsConn *websocket.Conn
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultPlanTimeout},
	}
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Plan issues POST /plan with the given timeout (0 uses the default 15s).
// A 504 or any non-200 response marks the client disconnected and
// returns an error for the caller's retry-with-backoff loop.
func (c *Client) Plan(ctx context.Context, req PlanRequest, timeout time.Duration) (PlanResponse, error) {
	if timeout <= 0 {
		timeout = defaultPlanTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return PlanResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+"/plan", bytes.NewReader(body))
	if err != nil {
		return PlanResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.setConnected(false)
		return PlanResponse{}, fmt.Errorf("planner: /plan request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setConnected(false)
		return PlanResponse{}, fmt.Errorf("planner: /plan returned %d", resp.StatusCode)
	}

	var out PlanResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.setConnected(false)
		return PlanResponse{}, err
	}
	c.setConnected(true)
	return out, nil
}

// TTS issues POST /tts for direct speech synthesis, returning the raw
// PCM body.
func (c *Client) TTS(ctx context.Context, text string) ([]byte, error) {
	body, _ := json.Marshal(map[string]string{"text": text})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.setConnected(false)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.setConnected(false)
		return nil, fmt.Errorf("planner: /tts returned %d", resp.StatusCode)
	}
	c.setConnected(true)
	return io.ReadAll(resp.Body)
}

// ConverseFrame is one frame of the full-duplex /converse stream.
type ConverseFrame struct {
	Kind   string `json:"kind"` // "audio" | "text" | "control"
	Audio  []byte `json:"audio,omitempty"`
	Text   string `json:"text,omitempty"`
	Signal string `json:"signal,omitempty"` // e.g. "end_turn"
}

// Converse opens one active /converse session for robotID. Only one
// session may be active per robot; a mid-turn failure cancels playback
// by returning the error to the caller, who owns clearing SetTalking.
func (c *Client) Converse(ctx context.Context, robotID string) (*ConverseSession, error) {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.wsConn != nil {
		return nil, fmt.Errorf("planner: /converse session already active for this client")
	}

	wsURL := httpToWS(c.baseURL) + "/converse?robot_id=" + robotID
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.setConnected(false)
		return nil, fmt.Errorf("planner: /converse dial failed: %w", err)
	}
	c.wsConn = conn
	c.setConnected(true)
	return &ConverseSession{client: c, conn: conn}, nil
}

// ConverseSession is one full-duplex STT/TTS stream.
type ConverseSession struct {
	client *Client
	conn   *websocket.Conn

	mu          sync.Mutex
	idleTimeout time.Duration
}

// SetIdleTimeout arms an idle-close deadline on subsequent Recv calls.
func (s *ConverseSession) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	s.idleTimeout = d
	s.mu.Unlock()
}

func (s *ConverseSession) Send(frame ConverseFrame) error {
	return s.conn.WriteJSON(frame)
}

func (s *ConverseSession) Recv() (ConverseFrame, error) {
	s.mu.Lock()
	idle := s.idleTimeout
	s.mu.Unlock()
	if idle > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(idle))
	}
	var frame ConverseFrame
	err := s.conn.ReadJSON(&frame)
	return frame, err
}

// Close cancels playback and releases the session slot so a new
// Converse call can be made.
func (s *ConverseSession) Close() error {
	s.client.wsMu.Lock()
	if s.client.wsConn == s.conn {
		s.client.wsConn = nil
	}
	s.client.wsMu.Unlock()
	return s.conn.Close()
}

func httpToWS(base string) string {
	switch {
	case len(base) >= 5 && base[:5] == "https":
		return "wss" + base[5:]
	case len(base) >= 4 && base[:4] == "http":
		return "ws" + base[4:]
	default:
		return base
	}
}
