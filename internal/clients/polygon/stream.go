package polygon

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/barkeep/internal/domain"
)

const (
	defaultStreamURL = "wss://socket.polygon.io/stocks"

	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// BarHandler receives each live minute bar as it closes.
type BarHandler func(symbol string, bar domain.Bar)

// StreamConfig holds the websocket stream settings.
type StreamConfig struct {
	URL     string // empty selects the production stocks cluster
	APIKey  string
	Symbols []string
}

// Stream consumes Polygon's aggregate-minute websocket channel and hands
// each closed minute bar to the registered handler. It reconnects with
// exponential backoff and re-subscribes after every reconnect.
type Stream struct {
	url        string
	apiKey     string
	symbols    []string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	handler BarHandler
	log     zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool
}

// createHTTP1Client creates an HTTP client that forces HTTP/1.1.
// The websocket upgrade handshake requires it; TLS ALPN would otherwise
// negotiate HTTP/2 at the edge.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewStream creates a live minute-bar stream. The handler runs on the read
// loop goroutine and must not block.
func NewStream(cfg StreamConfig, handler BarHandler, log zerolog.Logger) *Stream {
	url := cfg.URL
	if url == "" {
		url = defaultStreamURL
	}
	return &Stream{
		url:        url,
		apiKey:     cfg.APIKey,
		symbols:    cfg.Symbols,
		httpClient: createHTTP1Client(),
		handler:    handler,
		log:        log.With().Str("component", "polygon_stream").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Start opens the connection and begins the read loop. A failed initial
// connection moves straight to background reconnection.
func (s *Stream) Start() error {
	s.log.Info().Strs("symbols", s.symbols).Msg("Starting Polygon minute-bar stream")

	if err := s.Connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go s.reconnectLoop()
		return err
	}

	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readMessages(ctx)

	s.log.Info().Msg("Polygon minute-bar stream started")
	return nil
}

// Stop shuts the stream down and prevents further reconnects.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.log.Info().Msg("Stopping Polygon minute-bar stream")
	close(s.stopChan)
	return s.Disconnect()
}

// Connect dials the websocket, authenticates and subscribes to the
// aggregate-minute channel for the configured symbols.
func (s *Stream) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info().Str("url", s.url).Msg("Connecting to Polygon websocket")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		HTTPClient: s.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel
	s.connected = true

	if err := s.authenticate(connCtx); err != nil {
		s.teardownLocked("auth failed")
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	if err := s.subscribe(connCtx); err != nil {
		s.teardownLocked("subscribe failed")
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.log.Info().Msg("Connected to Polygon websocket")
	return nil
}

// teardownLocked tears the connection down; the caller holds s.mu.
func (s *Stream) teardownLocked(reason string) {
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, reason)
	}
	s.conn = nil
	s.connCtx = nil
	s.connected = false
}

// Disconnect closes the websocket connection.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	s.connected = false

	if err != nil {
		return fmt.Errorf("error closing websocket: %w", err)
	}
	return nil
}

// IsConnected reports the connection state.
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// controlMessage is the auth/subscribe frame shape.
type controlMessage struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

func (s *Stream) authenticate(ctx context.Context) error {
	return s.writeControl(ctx, controlMessage{Action: "auth", Params: s.apiKey})
}

func (s *Stream) subscribe(ctx context.Context) error {
	if len(s.symbols) == 0 {
		return nil
	}
	channels := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		channels = append(channels, "AM."+symbol)
	}
	s.log.Info().Strs("channels", channels).Msg("Subscribing to minute aggregates")
	return s.writeControl(ctx, controlMessage{Action: "subscribe", Params: strings.Join(channels, ",")})
}

func (s *Stream) writeControl(ctx context.Context, msg controlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Action, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := s.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Action, err)
	}
	return nil
}

// streamEvent is one element of Polygon's event array. Aggregate-minute
// events carry the bucket start and end in UTC milliseconds.
type streamEvent struct {
	Event   string  `json:"ev"`
	Status  string  `json:"status,omitempty"`
	Message string  `json:"message,omitempty"`
	Symbol  string  `json:"sym,omitempty"`
	Open    float64 `json:"o,omitempty"`
	High    float64 `json:"h,omitempty"`
	Low     float64 `json:"l,omitempty"`
	Close   float64 `json:"c,omitempty"`
	Volume  float64 `json:"v,omitempty"`
	Start   int64   `json:"s,omitempty"`
	End     int64   `json:"e,omitempty"`
}

// readMessages drains the connection until it dies, then hands off to the
// reconnect loop unless the stream was stopped.
func (s *Stream) readMessages(ctx context.Context) {
	defer func() {
		s.log.Info().Msg("Stream read loop stopped")
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.log.Info().Int("status", int(closeStatus)).Msg("Websocket closed normally")
			} else if ctx.Err() != nil {
				s.log.Debug().Msg("Read cancelled by context")
			} else {
				s.log.Error().Err(err).Msg("Unexpected websocket read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		if err := s.handleMessage(message); err != nil {
			s.log.Error().Err(err).Str("message", string(message)).Msg("Failed to handle stream message")
		}
	}
}

// handleMessage parses one frame. Polygon batches events into arrays; the
// stream forwards every closed minute bar and logs status transitions.
func (s *Stream) handleMessage(message []byte) error {
	var batch []streamEvent
	if err := json.Unmarshal(message, &batch); err != nil {
		return fmt.Errorf("failed to parse event array: %w", err)
	}

	for _, event := range batch {
		switch event.Event {
		case "status":
			s.log.Debug().
				Str("status", event.Status).
				Str("message", event.Message).
				Msg("Stream status")
			if event.Status == "auth_failed" {
				return fmt.Errorf("authentication rejected: %s", event.Message)
			}
		case "AM":
			s.handleMinuteBar(event)
		}
	}
	return nil
}

// handleMinuteBar converts an aggregate-minute event into a domain bar and
// delivers it. Bars with a broken OHLC envelope are dropped here rather
// than poisoning the cache downstream.
func (s *Stream) handleMinuteBar(event streamEvent) {
	bar := domain.Bar{
		Timestamp: domain.Timeframe1m.Truncate(event.Start),
		Open:      event.Open,
		High:      event.High,
		Low:       event.Low,
		Close:     event.Close,
		Volume:    event.Volume,
	}
	if ok, reason := bar.Validate(domain.Timeframe1m); !ok {
		s.log.Warn().
			Str("symbol", event.Symbol).
			Int64("timestamp", bar.Timestamp).
			Str("reason", reason).
			Msg("Dropping corrupt stream bar")
		return
	}
	if s.handler != nil {
		s.handler(event.Symbol, bar)
	}
}

// reconnectLoop retries the connection with exponential backoff until it
// succeeds or the stream is stopped.
func (s *Stream) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := calculateBackoff(attempt)
		if attempt <= maxReconnectAttempts {
			s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Attempting stream reconnect")
		} else {
			s.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Stream reconnect past max attempts, still retrying")
		}

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.Connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Stream reconnect failed")
			continue
		}

		s.log.Info().Int("attempt", attempt).Msg("Stream reconnected")

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readMessages(ctx)
		return
	}
}

// calculateBackoff grows the delay exponentially, capped at maxReconnectDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
