package gotrue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goliatone/go-errors"
	"github.com/iateclube/go-session"
)

var _ session.CredentialBackend = (*Client)(nil)

// Client is a GoTrue backed credential backend. It tracks the single live
// session of the process, refreshes it before expiry, and fans change
// events out to subscribers.
type Client struct {
	cfg    Config
	rest   *resty.Client
	logger session.Logger

	mu           sync.Mutex
	current      *session.Session
	refreshTimer *time.Timer
	subscribers  map[int]func(session.ChangeEvent, *session.Session)
	nextSubID    int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the default logger.
func WithLogger(logger session.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRestClient swaps the underlying HTTP client (tests).
func WithRestClient(rest *resty.Client) Option {
	return func(c *Client) {
		if rest != nil {
			c.rest = rest
		}
	}
}

// New creates a GoTrue client. An invalid Config is a configuration error
// and refuses construction.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "invalid gotrue configuration")
	}

	client := &Client{
		cfg: cfg,
		rest: resty.New().
			SetBaseURL(cfg.authURL()).
			SetHeader("apikey", cfg.AnonKey).
			SetTimeout(cfg.timeout()),
		logger:      defaultLogger{},
		subscribers: map[int]func(session.ChangeEvent, *session.Session){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// tokenResponse is the wire shape of GoTrue token grants.
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         *wireUser `json:"user"`
}

// wireUser is the wire shape of a GoTrue user record.
type wireUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

// apiError is the wire shape of GoTrue error payloads, which drifted across
// server versions; the first populated field wins.
type apiError struct {
	ErrorField       string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e *apiError) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.ErrorField} {
		if s != "" {
			return s
		}
	}
	return "request rejected"
}

// CurrentSession implements session.CredentialBackend. Expired sessions are
// refreshed once before being reported; a failed refresh means signed out.
func (c *Client) CurrentSession(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}

	if !current.Expired(time.Now()) {
		return current, nil
	}

	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		return nil, nil
	}
	return refreshed, nil
}

// SignInWithPassword implements session.CredentialBackend.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	var tok tokenResponse
	var apiErr apiError

	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&tok).
		SetError(&apiErr).
		Post("/token")
	if err != nil {
		return nil, transportError("sign in", err)
	}

	if resp.IsError() {
		return nil, credentialError("sign in", resp.StatusCode(), apiErr.text())
	}

	sess, err := c.sessionFromToken(&tok)
	if err != nil {
		return nil, err
	}

	c.setCurrent(sess, session.EventSignedIn)
	return sess, nil
}

// SignUp implements session.CredentialBackend. When the server is set to
// auto confirm it answers with a full token grant; the session is installed
// and announced through the change feed, never returned here.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*session.Identity, error) {
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var tok tokenResponse
	var apiErr apiError

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&tok).
		SetError(&apiErr).
		Post("/signup")
	if err != nil {
		return nil, transportError("sign up", err)
	}

	if resp.IsError() {
		return nil, credentialError("sign up", resp.StatusCode(), apiErr.text())
	}

	if tok.AccessToken != "" {
		sess, err := c.sessionFromToken(&tok)
		if err != nil {
			return nil, err
		}
		c.setCurrent(sess, session.EventSignedIn)
		identity := sess.Identity
		return &identity, nil
	}

	if tok.User == nil {
		return nil, errors.New("sign up returned no user", errors.CategoryAuth)
	}

	identity := tok.User.identity()
	return &identity, nil
}

// SignOut implements session.CredentialBackend. The server call is best
// effort: the local session is dropped and SIGNED_OUT announced regardless,
// and any server error is reported for logging only.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	var reqErr error
	if current != nil && current.AccessToken != "" {
		var apiErr apiError
		resp, err := c.rest.R().
			SetContext(ctx).
			SetAuthToken(current.AccessToken).
			SetError(&apiErr).
			Post("/logout")
		if err != nil {
			reqErr = transportError("sign out", err)
		} else if resp.IsError() {
			reqErr = credentialError("sign out", resp.StatusCode(), apiErr.text())
		}
	}

	c.clearCurrent()
	return reqErr
}

// RefreshSession implements session.CredentialBackend. A rejected refresh
// token terminates the session.
func (c *Client) RefreshSession(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current == nil || current.RefreshToken == "" {
		return nil, errors.New("no session to refresh", errors.CategoryAuth)
	}

	var tok tokenResponse
	var apiErr apiError

	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "refresh_token").
		SetBody(map[string]string{"refresh_token": current.RefreshToken}).
		SetResult(&tok).
		SetError(&apiErr).
		Post("/token")
	if err != nil {
		return nil, transportError("refresh", err)
	}

	if resp.IsError() {
		c.logger.Warn("refresh token rejected (%d): %s", resp.StatusCode(), apiErr.text())
		c.clearCurrent()
		return nil, credentialError("refresh", resp.StatusCode(), apiErr.text())
	}

	sess, err := c.sessionFromToken(&tok)
	if err != nil {
		return nil, err
	}

	c.setCurrent(sess, session.EventTokenRefreshed)
	return sess, nil
}

// OnSessionChange implements session.CredentialBackend.
func (c *Client) OnSessionChange(fn func(session.ChangeEvent, *session.Session)) session.Subscription {
	if fn == nil {
		return noopSubscription{}
	}

	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return &changeSubscription{client: c, id: id}
}

// Close stops the refresh schedule. It does not sign the session out.
func (c *Client) Close() {
	c.mu.Lock()
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.mu.Unlock()
}

func (c *Client) sessionFromToken(tok *tokenResponse) (*session.Session, error) {
	if tok.AccessToken == "" {
		return nil, errors.New("token grant missing access token", errors.CategoryAuth)
	}

	var identity session.Identity
	if tok.User != nil {
		identity = tok.User.identity()
	} else {
		claims, err := parseAccessClaims(tok.AccessToken)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryAuth, "unparseable access token")
		}
		identity = claims.identity()
	}

	expiresAt := tok.expiry(time.Now())

	return &session.Session{
		Identity:     identity,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func (t *tokenResponse) expiry(now time.Time) *time.Time {
	if t.ExpiresAt > 0 {
		at := time.Unix(t.ExpiresAt, 0)
		return &at
	}
	if t.ExpiresIn > 0 {
		at := now.Add(time.Duration(t.ExpiresIn) * time.Second)
		return &at
	}
	return nil
}

func (u *wireUser) identity() session.Identity {
	id := session.Identity{
		ID:           u.ID,
		Email:        u.Email,
		UserMetadata: u.UserMetadata,
		AppMetadata:  u.AppMetadata,
	}
	foldTopLevelRole(&id, u.Role)
	return id
}

func (c *Client) setCurrent(sess *session.Session, event session.ChangeEvent) {
	c.mu.Lock()
	c.current = sess
	subs := c.collectSubscribers()
	c.mu.Unlock()

	c.scheduleRefresh(sess)

	for _, fn := range subs {
		fn(event, sess)
	}
}

func (c *Client) clearCurrent() {
	c.mu.Lock()
	hadSession := c.current != nil
	c.current = nil
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	subs := c.collectSubscribers()
	c.mu.Unlock()

	if !hadSession {
		return
	}

	for _, fn := range subs {
		fn(session.EventSignedOut, nil)
	}
}

// scheduleRefresh arms a one shot timer a little before the session
// expires. The refresh result reaches consumers as a TOKEN_REFRESHED or
// SIGNED_OUT event; nothing else in the process runs timers for this.
func (c *Client) scheduleRefresh(sess *session.Session) {
	if c.cfg.DisableAutoRefresh || sess == nil || sess.ExpiresAt == nil {
		return
	}

	delay := time.Until(sess.ExpiresAt.Add(-c.cfg.refreshLeeway()))
	if delay < 0 {
		delay = 0
	}

	c.mu.Lock()
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	c.refreshTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.timeout())
		defer cancel()
		if _, err := c.RefreshSession(ctx); err != nil {
			c.logger.Warn("scheduled refresh failed: %v", err)
		}
	})
	c.mu.Unlock()
}

func (c *Client) collectSubscribers() []func(session.ChangeEvent, *session.Session) {
	fns := make([]func(session.ChangeEvent, *session.Session), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	return fns
}

type changeSubscription struct {
	client *Client
	once   sync.Once
	id     int
}

func (s *changeSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subscribers, s.id)
		s.client.mu.Unlock()
	})
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

func transportError(op string, err error) error {
	return errors.Wrap(err, errors.CategoryOperation, fmt.Sprintf("gotrue %s: backend unreachable", op))
}

func credentialError(op string, status int, msg string) error {
	return errors.New(fmt.Sprintf("gotrue %s rejected: %s", op, msg), errors.CategoryAuth).
		WithCode(errors.CodeUnauthorized).
		WithMetadata(map[string]any{"status": status})
}

type defaultLogger struct{}

func (defaultLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] GOTRUE "+format+"\n", args...)
}
func (defaultLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] GOTRUE "+format+"\n", args...)
}
func (defaultLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] GOTRUE "+format+"\n", args...)
}
func (defaultLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] GOTRUE "+format+"\n", args...)
}
