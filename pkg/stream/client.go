package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eventinspect/eventinspect/pkg/live"
	"github.com/eventinspect/eventinspect/pkg/observability/logger"
)

// State of the logical subscription a Client maintains.
type State string

// Client states. The UI layer can treat the subscription as continuous:
// reconnecting is transient and resolves back to open on its own.
const (
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Message is one decoded frame from the stream.
type Message struct {
	Type      string
	Connected *ConnectedInfo
	Event     *live.Event
}

// ConnectedInfo carries the control frame's echo of the subscription.
type ConnectedInfo struct {
	Timestamp     time.Time `json:"timestamp"`
	ProjectID     string    `json:"projectId"`
	EnvironmentID string    `json:"environmentId"`
	Session       *string   `json:"session"`
}

// ClientConfig configures the reconnection controller.
type ClientConfig struct {
	// BaseURL of the service, e.g. "http://localhost:8080".
	BaseURL       string
	ProjectID     string
	EnvironmentID string
	// Session optionally filters the stream to one browsing session.
	Session string
	// ReconnectDelay is the fixed delay before a reconnection attempt,
	// default 3s. There is no backoff growth and no attempt cap: the
	// controller's job is to stay connected for as long as it lives.
	ReconnectDelay time.Duration
	// Buffer sizes the delivered message channel, default 64.
	Buffer     int
	HTTPClient *http.Client
	// OnStateChange, when set, observes every state transition.
	OnStateChange func(State)
}

// Client owns one logical stream subscription. It keeps a single
// underlying connection at a time, tears it down on any transport error,
// and redials with the same channel and session parameters after a fixed
// delay. Stop (or cancelling the start context) closes the connection and
// guarantees no reconnection fires afterwards.
type Client struct {
	cfg       ClientConfig
	log       logger.Logger
	streamURL string
	messages  chan Message

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClient validates the configuration and builds a controller. Start
// must be called to begin streaming.
func NewClient(cfg ClientConfig, log logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if strings.TrimSpace(cfg.ProjectID) == "" || strings.TrimSpace(cfg.EnvironmentID) == "" {
		return nil, fmt.Errorf("project and environment ids are required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if log == nil {
		log = logger.NewNop()
	}

	query := url.Values{}
	query.Set("projectId", cfg.ProjectID)
	query.Set("environmentId", cfg.EnvironmentID)
	if cfg.Session != "" {
		query.Set("session", cfg.Session)
	}

	return &Client{
		cfg:       cfg,
		log:       log,
		streamURL: strings.TrimRight(cfg.BaseURL, "/") + "/v1/stream?" + query.Encode(),
		messages:  make(chan Message, cfg.Buffer),
		state:     StateConnecting,
		done:      make(chan struct{}),
	}, nil
}

// Start begins streaming until ctx is cancelled or Stop is called.
// Calling Start twice is an error.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("client already started")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Stop closes the active connection, cancels any pending reconnection,
// and waits for the run loop to exit. Safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-c.done
}

// Messages returns the delivered frame channel. It is closed when the
// client stops for good.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.messages)
	defer c.setState(StateClosed)

	for attempt := 0; ; attempt++ {
		if attempt == 0 {
			c.setState(StateConnecting)
		}

		err := c.streamOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("stream connection lost, reconnecting",
			"error", err,
			"delay", c.cfg.ReconnectDelay,
		)
		c.setState(StateReconnecting)

		// Exactly one reconnection attempt is scheduled; teardown while
		// waiting cancels it.
		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		// Liveness is re-checked after the timer fires so a teardown that
		// raced the timer never triggers a dial.
		if ctx.Err() != nil {
			return
		}
	}
}

// streamOnce dials the stream with the original channel and session
// parameters and consumes frames until the connection fails.
func (c *Client) streamOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream request failed with status %d", resp.StatusCode)
	}
	c.setState(StateOpen)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		// Blank separators and comment lines (heartbeats) carry no payload.
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		msg, err := parseMessage(strings.TrimSpace(data))
		if err != nil {
			c.log.Warn("unparseable stream frame dropped", "error", err)
			continue
		}

		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream closed by server")
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

func parseMessage(data string) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(data), &head); err != nil {
		return Message{}, err
	}

	switch head.Type {
	case MessageTypeConnected:
		var info ConnectedInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			return Message{}, err
		}
		return Message{Type: MessageTypeConnected, Connected: &info}, nil
	case MessageTypeEvent:
		var frame struct {
			Evt live.Event `json:"evt"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return Message{}, err
		}
		return Message{Type: MessageTypeEvent, Event: &frame.Evt}, nil
	default:
		return Message{}, fmt.Errorf("unknown frame type %q", head.Type)
	}
}
