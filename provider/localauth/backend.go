package localauth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/iateclube/go-session"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

var _ session.CredentialBackend = (*Backend)(nil)

// Config holds the local backend options.
type Config struct {
	// SigningKey signs the HS256 access tokens. Required.
	SigningKey string

	// TokenTTL bounds access token lifetime. Default: 1 hour.
	TokenTTL time.Duration

	// AutoConfirm establishes a session immediately on sign up, announced
	// through the change feed like the hosted provider does.
	AutoConfirm bool

	// BcryptCost overrides the password hashing cost. Default:
	// bcrypt.DefaultCost. Tests lower it for speed.
	BcryptCost int
}

func (c Config) tokenTTL() time.Duration {
	if c.TokenTTL > 0 {
		return c.TokenTTL
	}
	return time.Hour
}

func (c Config) bcryptCost() int {
	if c.BcryptCost >= bcrypt.MinCost && c.BcryptCost <= bcrypt.MaxCost {
		return c.BcryptCost
	}
	return bcrypt.DefaultCost
}

// Backend implements session.CredentialBackend on top of a local accounts
// table.
type Backend struct {
	db       *bun.DB
	accounts repository.Repository[*Account]
	cfg      Config
	logger   session.Logger

	mu            sync.Mutex
	current       *session.Session
	refreshTokens map[string]uuid.UUID
	subscribers   map[int]func(session.ChangeEvent, *session.Session)
	nextSubID     int
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger overrides the default logger.
func WithLogger(logger session.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a local backend. A nil database or empty signing key is a
// configuration error and refuses construction.
func New(db *bun.DB, cfg Config, opts ...Option) (*Backend, error) {
	if db == nil {
		return nil, errors.New("database is required", errors.CategoryBadInput)
	}
	if strings.TrimSpace(cfg.SigningKey) == "" {
		return nil, errors.New("signing key is required", errors.CategoryBadInput)
	}

	accounts := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
	})

	backend := &Backend{
		db:            db,
		accounts:      accounts,
		cfg:           cfg,
		logger:        defaultLogger{},
		refreshTokens: map[string]uuid.UUID{},
		subscribers:   map[int]func(session.ChangeEvent, *session.Session){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(backend)
		}
	}

	return backend, nil
}

// CurrentSession implements session.CredentialBackend.
func (b *Backend) CurrentSession(ctx context.Context) (*session.Session, error) {
	b.mu.Lock()
	current := b.current
	b.mu.Unlock()

	if current == nil {
		return nil, nil
	}

	if !current.Expired(time.Now()) {
		return current, nil
	}

	refreshed, err := b.RefreshSession(ctx)
	if err != nil {
		return nil, nil
	}
	return refreshed, nil
}

// SignInWithPassword implements session.CredentialBackend. Unknown email
// and wrong password produce the same rejection.
func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	account, err := b.findByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, rejection()
		}
		return nil, errors.Wrap(err, errors.CategoryOperation, "account lookup failed")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, rejection()
	}

	sess, err := b.mintSession(account)
	if err != nil {
		return nil, err
	}

	b.setCurrent(sess, session.EventSignedIn)
	return sess, nil
}

// SignUp implements session.CredentialBackend. Identities get a
// deterministic ID derived from the email so repeated fixture loads stay
// stable.
func (b *Backend) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*session.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, errors.New("email and password are required", errors.CategoryValidation)
	}

	if _, err := b.findByEmail(ctx, email); err == nil {
		return nil, errors.New("email already registered", errors.CategoryConflict).
			WithCode(errors.CodeConflict)
	} else if !repository.IsRecordNotFound(err) {
		return nil, errors.Wrap(err, errors.CategoryOperation, "account lookup failed")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cfg.bcryptCost())
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
	}

	account := &Account{
		Email:        email,
		Name:         metadataString(metadata, "name"),
		PasswordHash: string(hash),
		Metadata:     metadata,
	}

	if id, err := hashid.NewUUID(email); err == nil {
		account.ID = id
	} else {
		account.ID = uuid.New()
	}

	account, err = b.accounts.Create(ctx, account)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConflict, "could not create account")
	}

	identity := account.identity()

	if b.cfg.AutoConfirm {
		sess, err := b.mintSession(account)
		if err != nil {
			return nil, err
		}
		b.setCurrent(sess, session.EventSignedIn)
	}

	return &identity, nil
}

// SignOut implements session.CredentialBackend. Local sign out cannot fail.
func (b *Backend) SignOut(ctx context.Context) error {
	b.clearCurrent()
	return nil
}

// RefreshSession implements session.CredentialBackend. Refresh tokens
// rotate on every use.
func (b *Backend) RefreshSession(ctx context.Context) (*session.Session, error) {
	b.mu.Lock()
	current := b.current
	b.mu.Unlock()

	if current == nil || current.RefreshToken == "" {
		return nil, errors.New("no session to refresh", errors.CategoryAuth)
	}

	b.mu.Lock()
	accountID, ok := b.refreshTokens[current.RefreshToken]
	if ok {
		delete(b.refreshTokens, current.RefreshToken)
	}
	b.mu.Unlock()

	if !ok {
		b.clearCurrent()
		return nil, errors.New("refresh token revoked", errors.CategoryAuth)
	}

	account, err := b.accounts.GetByID(ctx, accountID.String())
	if err != nil {
		b.clearCurrent()
		return nil, errors.Wrap(err, errors.CategoryAuth, "account no longer exists")
	}

	sess, err := b.mintSession(account)
	if err != nil {
		return nil, err
	}

	b.setCurrent(sess, session.EventTokenRefreshed)
	return sess, nil
}

// OnSessionChange implements session.CredentialBackend.
func (b *Backend) OnSessionChange(fn func(session.ChangeEvent, *session.Session)) session.Subscription {
	if fn == nil {
		return noopSubscription{}
	}

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = fn
	b.mu.Unlock()

	return &changeSubscription{backend: b, id: id}
}

// SetRole assigns a backend role to an account. This is the operator path
// for promoting back office staff; it takes effect on the next session
// event for that identity.
func (b *Backend) SetRole(ctx context.Context, email string, role session.Role) error {
	if !session.IsValidRole(role) {
		return errors.New(fmt.Sprintf("unknown role %q", role), errors.CategoryValidation)
	}

	account, err := b.findByEmail(ctx, email)
	if err != nil {
		return errors.Wrap(err, errors.CategoryNotFound, "account not found")
	}

	account.Role = role
	if _, err := b.accounts.Update(ctx, account); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "could not update account role")
	}

	return nil
}

func (b *Backend) findByEmail(ctx context.Context, email string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	account := &Account{}
	err := b.db.NewSelect().
		Model(account).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": email})
		}
		return nil, err
	}

	return account, nil
}

func (b *Backend) mintSession(account *Account) (*session.Session, error) {
	now := time.Now()
	expiresAt := now.Add(b.cfg.tokenTTL())
	identity := account.identity()

	claims := jwt.MapClaims{
		"sub":           account.ID.String(),
		"email":         account.Email,
		"user_metadata": identity.UserMetadata,
		"app_metadata":  identity.AppMetadata,
		"iat":           jwt.NewNumericDate(now),
		"exp":           jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(b.cfg.SigningKey))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to sign access token")
	}

	refreshToken := uuid.NewString()

	b.mu.Lock()
	b.refreshTokens[refreshToken] = account.ID
	b.mu.Unlock()

	return &session.Session{
		Identity:     identity,
		AccessToken:  signed,
		RefreshToken: refreshToken,
		ExpiresAt:    &expiresAt,
	}, nil
}

func (a *Account) identity() session.Identity {
	identity := session.Identity{
		ID:           a.ID.String(),
		Email:        a.Email,
		UserMetadata: a.Metadata,
	}

	if a.Role != "" {
		identity.AppMetadata = map[string]any{"role": a.Role}
	}

	return identity
}

func (b *Backend) setCurrent(sess *session.Session, event session.ChangeEvent) {
	b.mu.Lock()
	b.current = sess
	subs := b.collectSubscribers()
	b.mu.Unlock()

	for _, fn := range subs {
		fn(event, sess)
	}
}

func (b *Backend) clearCurrent() {
	b.mu.Lock()
	hadSession := b.current != nil
	if b.current != nil && b.current.RefreshToken != "" {
		delete(b.refreshTokens, b.current.RefreshToken)
	}
	b.current = nil
	subs := b.collectSubscribers()
	b.mu.Unlock()

	if !hadSession {
		return
	}

	for _, fn := range subs {
		fn(session.EventSignedOut, nil)
	}
}

func (b *Backend) collectSubscribers() []func(session.ChangeEvent, *session.Session) {
	fns := make([]func(session.ChangeEvent, *session.Session), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		fns = append(fns, fn)
	}
	return fns
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if raw, ok := metadata[key]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

// rejection is the single error for unknown email or wrong password so
// callers cannot tell the two apart.
func rejection() error {
	return errors.New("invalid email or password", errors.CategoryAuth).
		WithCode(errors.CodeUnauthorized)
}

type changeSubscription struct {
	backend *Backend
	once    sync.Once
	id      int
}

func (s *changeSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.backend.mu.Lock()
		delete(s.backend.subscribers, s.id)
		s.backend.mu.Unlock()
	})
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type defaultLogger struct{}

func (defaultLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] LOCALAUTH "+format+"\n", args...)
}
func (defaultLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] LOCALAUTH "+format+"\n", args...)
}
func (defaultLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] LOCALAUTH "+format+"\n", args...)
}
func (defaultLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] LOCALAUTH "+format+"\n", args...)
}
