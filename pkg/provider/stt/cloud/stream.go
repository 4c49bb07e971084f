package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt/wire"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultMaxIdle     = 2 * time.Minute
	defaultSampleRate  = 16000
)

var _ stt.StreamingBackend = (*Streaming)(nil)

// StreamOption configures a Streaming backend.
type StreamOption func(*Streaming)

// WithStreamModel sets the default streaming model.
func WithStreamModel(model string) StreamOption {
	return func(s *Streaming) { s.model = model }
}

// WithStreamTokenSource supplies the bearer token per dial. It takes
// precedence over the API key.
func WithStreamTokenSource(fn func() string) StreamOption {
	return func(s *Streaming) { s.token = fn }
}

// WithMaxIdle bounds how long a warmed connection is trusted before it is
// replaced on the next use. Defaults to two minutes.
func WithMaxIdle(d time.Duration) StreamOption {
	return func(s *Streaming) { s.maxIdle = d }
}

// WithDialTimeout bounds a single connection attempt. Defaults to 10 s.
func WithDialTimeout(d time.Duration) StreamOption {
	return func(s *Streaming) { s.dialTimeout = d }
}

// Streaming implements stt.StreamingBackend over a websocket service.
//
// Wire protocol, one recognition session per connection:
//
//	client → {"type":"session.start","model":...,"language":...,"sample_rate":...}
//	client → binary PCM16LE frames
//	client → {"type":"session.finalize"}
//	server → {"type":"partial","text":...}            (any number, advisory)
//	server → {"type":"final","text":...,"language":...,"confidence":...,"usage":{...}}
//	server → {"type":"error","code":...,"message":...}
//
// A connection is opened ahead of time by Warm and consumed by StartStream.
type Streaming struct {
	url         string
	apiKey      string
	token       func() string
	model       string
	maxIdle     time.Duration
	dialTimeout time.Duration

	warm singleflight.Group

	mu     sync.Mutex
	idle   *websocket.Conn
	idleAt time.Time
}

// NewStreaming creates a streaming backend for the websocket endpoint url.
func NewStreaming(url, apiKey string, opts ...StreamOption) (*Streaming, error) {
	if url == "" {
		return nil, errors.New("cloud: streaming url must not be empty")
	}
	s := &Streaming{
		url:         url,
		apiKey:      apiKey,
		maxIdle:     defaultMaxIdle,
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Name returns "streaming".
func (s *Streaming) Name() string { return "streaming" }

func (s *Streaming) bearer() string {
	if s.token != nil {
		if t := s.token(); t != "" {
			return t
		}
	}
	return s.apiKey
}

// Ready reports whether a fresh warmed connection is waiting and credentials
// are present.
func (s *Streaming) Ready() bool {
	if s.bearer() == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle != nil && time.Since(s.idleAt) < s.maxIdle
}

// Warm dials a connection unless a fresh one is already waiting. Concurrent
// callers share a single in-flight dial. The dial is detached from ctx
// cancellation so that an abandoned caller does not waste a shared attempt.
func (s *Streaming) Warm(ctx context.Context) error {
	if s.Ready() {
		return nil
	}
	_, err, shared := s.warm.Do("warm", func() (any, error) {
		if s.Ready() {
			return nil, nil
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dialTimeout)
		defer cancel()
		conn, err := s.dial(dctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		stale := s.idle
		s.idle, s.idleAt = conn, time.Now()
		s.mu.Unlock()
		if stale != nil {
			stale.Close(websocket.StatusNormalClosure, "replaced")
		}
		return nil, nil
	})
	slog.Debug("cloud: streaming warmup", "shared", shared, "error", err)
	return err
}

// Close releases the idle warmed connection, if any.
func (s *Streaming) Close() error {
	s.mu.Lock()
	conn := s.idle
	s.idle = nil
	s.mu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	return nil
}

func (s *Streaming) dial(ctx context.Context) (*websocket.Conn, error) {
	token := s.bearer()
	if token == "" {
		return nil, fmt.Errorf("cloud: streaming: no credentials: %w", stt.ErrUnavailable)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("cloud: streaming dial: HTTP %d: %w", resp.StatusCode, stt.ErrAuthExpired)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("cloud: streaming dial: %w", ctxErr)
		}
		return nil, fmt.Errorf("cloud: streaming dial: %v: %w", err, stt.ErrOffline)
	}
	return conn, nil
}

// take hands out the warmed connection if it is still fresh.
func (s *Streaming) take() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.idle
	s.idle = nil
	if conn != nil && time.Since(s.idleAt) >= s.maxIdle {
		conn.Close(websocket.StatusNormalClosure, "stale")
		return nil
	}
	return conn
}

type startMessage struct {
	Type       string `json:"type"`
	Model      string `json:"model,omitempty"`
	Language   string `json:"language,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Detect     bool   `json:"detect_language,omitempty"`
}

// StartStream consumes the warmed connection and starts a session on it. A
// warmed connection the server has since dropped is replaced once.
func (s *Streaming) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	model := cfg.Model
	if model == "" {
		model = s.model
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	start := startMessage{
		Type:       "session.start",
		Model:      model,
		Language:   string(cfg.Language),
		Prompt:     cfg.Prompt,
		SampleRate: sr,
		Detect:     cfg.DetectLanguage,
	}

	conn := s.take()
	warmed := conn != nil
	for attempt := 0; ; attempt++ {
		if conn == nil {
			dctx, cancel := context.WithTimeout(ctx, s.dialTimeout)
			var err error
			conn, err = s.dial(dctx)
			cancel()
			if err != nil {
				return nil, err
			}
		}
		err := wsjson.Write(ctx, conn, start)
		if err == nil {
			break
		}
		conn.Close(websocket.StatusInternalError, "start failed")
		conn = nil
		if attempt > 0 || !warmed {
			return nil, fmt.Errorf("cloud: streaming start: %v: %w", err, stt.ErrOffline)
		}
		slog.Info("cloud: warmed connection was dropped, redialling")
	}

	return newStream(conn), nil
}

// ---- stream -----------------------------------------------------------------

type finalResult struct {
	res stt.Result
	err error
}

// stream is a live recognition session. It implements stt.Stream.
type stream struct {
	conn     *websocket.Conn
	audio    chan []byte
	partials chan string
	final    chan finalResult

	finishing  chan struct{}
	finishOnce sync.Once

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newStream(conn *websocket.Conn) *stream {
	ctx, cancel := context.WithCancel(context.Background())
	st := &stream{
		conn:      conn,
		audio:     make(chan []byte, 256),
		partials:  make(chan string, 64),
		final:     make(chan finalResult, 1),
		finishing: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	st.wg.Add(2)
	go st.readLoop()
	go st.writeLoop()
	return st
}

// SendAudio queues a PCM chunk for delivery.
func (st *stream) SendAudio(chunk []byte) error {
	select {
	case <-st.finishing:
		return errors.New("cloud: stream is finishing")
	case <-st.ctx.Done():
		return errors.New("cloud: stream is closed")
	default:
	}
	select {
	case st.audio <- chunk:
		return nil
	case <-st.ctx.Done():
		return errors.New("cloud: stream is closed")
	}
}

// Partials returns the channel of advisory interim text.
func (st *stream) Partials() <-chan string { return st.partials }

// Finish flushes queued audio, asks the server to finalise and waits for the
// final message.
func (st *stream) Finish(ctx context.Context) (stt.Result, error) {
	st.finishOnce.Do(func() { close(st.finishing) })
	select {
	case f := <-st.final:
		// Keep the outcome available for repeated calls.
		st.final <- f
		return f.res, f.err
	case <-ctx.Done():
		return stt.Result{}, fmt.Errorf("cloud: streaming finish: %w", ctx.Err())
	}
}

// Close aborts the session and releases the connection. Safe to call more
// than once.
func (st *stream) Close() error {
	st.closeOnce.Do(func() {
		st.cancel()
		st.conn.Close(websocket.StatusNormalClosure, "session closed")
		st.wg.Wait()
	})
	return nil
}

// writeLoop sends audio frames and, once finishing, drains the queue and
// sends the finalize message.
func (st *stream) writeLoop() {
	defer st.wg.Done()
	for {
		select {
		case chunk := <-st.audio:
			if err := st.conn.Write(st.ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-st.finishing:
			for {
				select {
				case chunk := <-st.audio:
					if err := st.conn.Write(st.ctx, websocket.MessageBinary, chunk); err != nil {
						return
					}
				default:
					_ = st.conn.Write(st.ctx, websocket.MessageText, []byte(`{"type":"session.finalize"}`))
					return
				}
			}
		case <-st.ctx.Done():
			return
		}
	}
}

// readLoop dispatches server messages until the final result or an error.
func (st *stream) readLoop() {
	defer st.wg.Done()
	defer close(st.partials)

	for {
		_, msg, err := st.conn.Read(st.ctx)
		if err != nil {
			st.deliver(finalResult{err: fmt.Errorf("cloud: stream read: %v: %w", err, stt.ErrOffline)})
			return
		}

		switch gjson.GetBytes(msg, "type").String() {
		case "partial":
			// Partials are advisory; drop rather than block on a slow reader.
			select {
			case st.partials <- gjson.GetBytes(msg, "text").String():
			default:
			}
		case "final":
			st.deliver(finalResult{res: wire.Parse(msg)})
			return
		case "error":
			st.deliver(finalResult{err: streamError(msg)})
			return
		}
	}
}

func (st *stream) deliver(f finalResult) {
	select {
	case st.final <- f:
	default:
	}
}

func streamError(msg []byte) error {
	code := gjson.GetBytes(msg, "code").String()
	text := gjson.GetBytes(msg, "message").String()
	switch code {
	case "auth_expired", "unauthorized":
		return fmt.Errorf("cloud: stream: %s: %w", text, stt.ErrAuthExpired)
	case "limit_reached":
		return fmt.Errorf("cloud: stream: %s: %w", text, stt.ErrLimitReached)
	}
	return fmt.Errorf("cloud: stream error %q: %s", code, text)
}
