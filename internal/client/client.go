package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"multiplayer-quiz-service/internal/domain"
)

const (
	DefaultPollInterval     = 2 * time.Second
	DefaultBackstopInterval = 5 * time.Second
	DefaultTickInterval     = time.Second
	maxReconnectBackoff     = 10 * time.Second
)

// ErrTerminated is returned by Run when the host deleted the session.
var ErrTerminated = errors.New("session terminated by host")

var errCompleted = errors.New("session completed")

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status     int
	Message    string `json:"error"`
	Kind       string `json:"kind"`
	Terminated bool   `json:"terminated"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Message)
}

type Config struct {
	BaseURL  string
	Identity domain.Identity
	JoinCode string
	// SessionID may be set instead of JoinCode.
	SessionID        string
	PollInterval     time.Duration
	BackstopInterval time.Duration
	TickInterval     time.Duration
	HTTPClient       *http.Client
	Dialer           *websocket.Dialer
	// Answerer is asked once per question. Nil means spectate.
	Answerer Answerer
	// OnChange is called after every update that changes what a player sees.
	OnChange func(View, Change)
	Now      func() time.Time
}

// Client plays one participant against a quiz server. Pushed patches are the fast path;
// polling covers the lobby and any patches lost in transit.
type Client struct {
	cfg       Config
	rec       *Reconciler
	key       string
	sessionID string

	mu        sync.Mutex
	answered  map[int]bool
	advanced  map[int]time.Time
	questions chan int
}

func New(cfg Config) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BackstopInterval <= 0 {
		cfg.BackstopInterval = DefaultBackstopInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:       cfg,
		rec:       NewReconciler(cfg.Now),
		key:       cfg.Identity.Normalize().Key(),
		sessionID: cfg.SessionID,
		answered:  make(map[int]bool),
		advanced:  make(map[int]time.Time),
		questions: make(chan int, 1),
	}
}

// Reconciler exposes the local view.
func (c *Client) Reconciler() *Reconciler { return c.rec }

func (c *Client) SessionID() string { return c.sessionID }

// Run joins and plays until the session completes (nil), is terminated (ErrTerminated)
// or ctx ends.
func (c *Client) Run(ctx context.Context) error {
	if _, err := c.Join(ctx); err != nil {
		return err
	}
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := c.apply(c.rec.ApplySnapshot(snapshot)); err != nil {
		return finish(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.pushLoop(gctx) })
	g.Go(func() error { return c.pollLoop(gctx) })
	g.Go(func() error { return c.tickLoop(gctx) })
	if c.cfg.Answerer != nil {
		g.Go(func() error { return c.answerLoop(gctx) })
	}
	return finish(g.Wait())
}

func finish(err error) error {
	if errors.Is(err, errCompleted) {
		return nil
	}
	return err
}

// apply renders a change and reports whether the session reached an end state.
func (c *Client) apply(change Change) error {
	view := c.rec.View()
	if change.Any() && c.cfg.OnChange != nil {
		c.cfg.OnChange(view, change)
	}
	if change.QuestionChanged {
		select {
		case c.questions <- view.Session.CurrentIndex:
		default:
			// a newer index replaces an unread one
			select {
			case <-c.questions:
			default:
			}
			select {
			case c.questions <- view.Session.CurrentIndex:
			default:
			}
		}
	}
	switch {
	case view.Terminated:
		return ErrTerminated
	case view.Session.Status == domain.StatusCompleted:
		return errCompleted
	}
	return nil
}

func (c *Client) terminated() error {
	c.rec.Terminate()
	return c.apply(Change{Terminated: true})
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *Client) pushLoop(ctx context.Context) error {
	backoff := 500 * time.Millisecond
	for {
		err := c.stream(ctx)
		if err != nil && (errors.Is(err, ErrTerminated) || errors.Is(err, errCompleted)) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("retrying push in %s: %v", backoff, fmt.Errorf("%w: %v", domain.ErrPatchDelivery, err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxReconnectBackoff)
	}
}

func (c *Client) stream(ctx context.Context) error {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"sessionId": {c.sessionID}, "participantKey": {c.key}}.Encode()

	conn, _, err := c.cfg.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && c.rec.View().Terminated {
				return ErrTerminated
			}
			return err
		}
		var change Change
		switch msg.Type {
		case "snapshot":
			var s domain.Snapshot
			if err := json.Unmarshal(msg.Payload, &s); err != nil {
				return err
			}
			change = c.rec.ApplySnapshot(s)
		case "patch", "terminated":
			var p domain.Patch
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return err
			}
			change = c.rec.ApplyPatch(p)
		case "error":
			var e struct {
				Message string `json:"message"`
				Kind    string `json:"kind"`
			}
			_ = json.Unmarshal(msg.Payload, &e)
			if e.Kind == domain.KindNotFound.String() {
				return c.terminated()
			}
			log.Printf("server error: %s", e.Message)
			continue
		default:
			continue
		}
		if err := c.apply(change); err != nil {
			return err
		}
	}
}

func (c *Client) pollLoop(ctx context.Context) error {
	for {
		interval := c.cfg.BackstopInterval
		if c.rec.View().Session.Status == domain.StatusWaiting {
			interval = c.cfg.PollInterval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		snapshot, err := c.Snapshot(ctx)
		if errors.Is(err, ErrTerminated) {
			return c.terminated()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("poll failed: %v", err)
			continue
		}
		if err := c.apply(c.rec.ApplySnapshot(snapshot)); err != nil {
			return err
		}
	}
}

// tickLoop asks the server to move on once the local countdown runs out. Any client may
// do this; the server only advances when the expected index still matches.
func (c *Client) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		view := c.rec.View()
		if view.Session.Status != domain.StatusActive || c.rec.Remaining() > 0 {
			continue
		}
		idx := view.Session.CurrentIndex
		c.mu.Lock()
		last, tried := c.advanced[idx]
		due := !tried || c.cfg.Now().Sub(last) >= c.cfg.BackstopInterval
		if due {
			c.advanced[idx] = c.cfg.Now()
		}
		c.mu.Unlock()
		if !due {
			continue
		}

		session, err := c.Advance(ctx, idx)
		if errors.Is(err, ErrTerminated) {
			return c.terminated()
		}
		if err != nil {
			log.Printf("advance from %d failed: %v", idx, err)
			continue
		}
		if session.Version > view.Session.Version {
			if err := c.apply(c.rec.ApplySession(session)); err != nil {
				return err
			}
		}
	}
}

func (c *Client) answerLoop(ctx context.Context) error {
	for {
		var idx int
		select {
		case <-ctx.Done():
			return nil
		case idx = <-c.questions:
		}

		c.mu.Lock()
		done := c.answered[idx]
		c.answered[idx] = true
		c.mu.Unlock()
		if done {
			continue
		}

		q, err := c.Question(ctx)
		if errors.Is(err, ErrTerminated) {
			return c.terminated()
		}
		if err != nil || q.Index != idx {
			continue
		}
		text, err := c.cfg.Answerer.Answer(ctx, q)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			log.Printf("answer for %d: %v", idx, err)
			continue
		}

		view := c.rec.View()
		if view.Session.CurrentIndex != idx || !c.rec.Select(text) {
			continue
		}
		res, err := c.Submit(ctx, idx, text, c.rec.Remaining())
		if errors.Is(err, ErrTerminated) {
			return c.terminated()
		}
		if err != nil {
			log.Printf("submit for %d: %v", idx, err)
			continue
		}
		c.rec.ApplyAnswerResult(c.key, res)
		if c.cfg.OnChange != nil {
			c.cfg.OnChange(c.rec.View(), Change{})
		}
	}
}

// Join enters the session by code or id and remembers the session id.
func (c *Client) Join(ctx context.Context) (domain.Participant, error) {
	body := map[string]any{
		"sessionId": c.sessionID,
		"joinCode":  c.cfg.JoinCode,
		"identity":  c.cfg.Identity,
	}
	var p domain.Participant
	if err := c.do(ctx, http.MethodPost, "/sessions/join", body, &p); err != nil {
		if errors.Is(err, ErrTerminated) {
			return domain.Participant{}, domain.ErrSessionNotFound
		}
		return domain.Participant{}, err
	}
	c.sessionID = p.SessionID
	return p, nil
}

// Snapshot fetches the full session state. A missing session is ErrTerminated.
func (c *Client) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var s domain.Snapshot
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(c.sessionID), nil, &s)
	return s, err
}

func (c *Client) Question(ctx context.Context) (domain.QuestionView, error) {
	var q domain.QuestionView
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(c.sessionID)+"/question", nil, &q)
	return q, err
}

func (c *Client) Submit(ctx context.Context, index int, text string, remaining int) (domain.AnswerResult, error) {
	body := map[string]any{
		"participantKey":   c.key,
		"questionIndex":    index,
		"text":             text,
		"remainingSeconds": remaining,
	}
	var res domain.AnswerResult
	err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(c.sessionID)+"/answers", body, &res)
	return res, err
}

func (c *Client) Advance(ctx context.Context, expectedIndex int) (domain.Session, error) {
	var s domain.Session
	err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(c.sessionID)+"/advance",
		map[string]any{"expectedIndex": expectedIndex}, &s)
	return s, err
}

// Start asks the server to start the session. It is a no-op unless this client is the host.
func (c *Client) Start(ctx context.Context) (domain.Session, error) {
	var s domain.Session
	err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(c.sessionID)+"/start",
		map[string]any{"requester": c.key}, &s)
	return s, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		if apiErr.Terminated {
			return fmt.Errorf("%w: %v", ErrTerminated, apiErr)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
