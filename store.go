package session

import (
	"context"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
)

// State is the store's position in its lifecycle.
type State int

const (
	// StateUnknown means the initial session check has not settled yet.
	// Consumers must not treat it as StateAnonymous.
	StateUnknown State = iota
	// StateAnonymous means no live session exists.
	StateAnonymous
	// StateAuthenticated means a live session and its derived User exist.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of the store handed to observers. User is
// non nil exactly when State is StateAuthenticated.
type Snapshot struct {
	State   State
	User    *User
	Loading bool
}

// Store is the single source of truth for "is someone signed in, and as
// what". All mutations are serialized through its operations; the change
// listener is the only other writer. Consumers read snapshots or subscribe
// to changes, they never re-derive roles from raw identity fields.
type Store struct {
	mu       sync.Mutex
	backend  CredentialBackend
	resolver *Resolver
	logger   Logger

	state   State
	user    *User
	session *Session

	loading   int
	signInGen uint64

	observers map[int]func(Snapshot)
	nextObsID int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger overrides the default logger.
func WithLogger(logger Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResolver overrides the role resolver. The default uses
// DefaultAdminEmails as the allow list.
func WithResolver(resolver *Resolver) StoreOption {
	return func(s *Store) {
		if resolver != nil {
			s.resolver = resolver
		}
	}
}

// NewStore returns a Store bound to the given credential backend. A nil
// backend is a configuration error and refuses construction; running with an
// unconfigured identity layer is never acceptable.
func NewStore(backend CredentialBackend, opts ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}

	store := &Store{
		backend:   backend,
		resolver:  NewResolver(DefaultAdminEmails),
		logger:    defLogger{},
		state:     StateUnknown,
		observers: map[int]func(Snapshot){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store, nil
}

// Init performs the initial session check and settles the store out of
// StateUnknown. Call it once at process start, before serving consumers.
func (s *Store) Init(ctx context.Context) {
	s.beginLoading()
	defer s.endLoading()

	sess, err := s.backend.CurrentSession(ctx)
	if err != nil {
		s.logger.Warn("initial session check failed: %v", err)
		s.setAnonymous()
		return
	}

	if sess == nil {
		s.setAnonymous()
		return
	}

	s.logger.Debug("initial session found for %s", sess.Identity.Email)
	s.setAuthenticated(sess)
}

// SignIn authenticates the credentials against the backend for the given
// access level. When the admin area is requested and the identity resolves
// to client, the freshly created session is terminated before the failure is
// reported, and the failure is indistinguishable from a bad password.
func (s *Store) SignIn(ctx context.Context, email, password string, requested Role) Result {
	if err := validateCredentials(email, password); err != nil {
		return failResult(MsgInvalidCredentials)
	}

	gen := s.nextSignInGen()

	s.beginLoading()
	defer s.endLoading()

	sess, err := s.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		if IsTransportError(err) {
			s.logger.Error("sign in backend unreachable: %v", err)
		} else {
			s.logger.Debug("sign in rejected for %s: %v", email, err)
		}
		return failResult(MsgInvalidCredentials)
	}

	if sess == nil {
		s.logger.Error("sign in returned no session and no error")
		return failResult(MsgInvalidCredentials)
	}

	role := s.resolver.Resolve(sess.Identity)

	if requested == RoleAdmin && role != RoleAdmin {
		// Never leave a live session behind for a non admin identity,
		// even transiently.
		s.logger.Warn("admin sign in denied for %s: %v", email, ErrAdminRequired)
		s.forceSignOut(ctx, gen)
		return failResult(MsgInvalidCredentials)
	}

	if !s.commitSignIn(gen, sess) {
		s.logger.Warn("sign in for %s rejected: %v", email, ErrSignInSuperseded)
		return failResult(MsgInvalidCredentials)
	}

	s.logger.Info("signed in %s as %s", email, role)
	return okResult()
}

// SignUp creates a new identity, tagged client by convention, with the
// display name in user metadata. It does not establish a session; backends
// configured to auto confirm deliver one through the change listener.
func (s *Store) SignUp(ctx context.Context, email, password, name string) Result {
	if err := validateSignUp(email, password, name); err != nil {
		return failResult(userMessage(err))
	}

	s.beginLoading()
	defer s.endLoading()

	metadata := map[string]any{
		metadataNameKey: name,
		metadataRoleKey: RoleClient,
	}

	if _, err := s.backend.SignUp(ctx, email, password, metadata); err != nil {
		if IsTransportError(err) {
			s.logger.Error("sign up backend unreachable: %v", err)
			return failResult(MsgInvalidCredentials)
		}
		s.logger.Debug("sign up rejected for %s: %v", email, err)
		return failResult(userMessage(err))
	}

	s.logger.Info("signed up %s", email)
	return okResult()
}

// SignOut terminates the session. The backend call is best effort: local
// state is cleared even when the backend is unreachable, so the store can
// never get stuck authenticated behind a network error.
func (s *Store) SignOut(ctx context.Context) {
	s.beginLoading()
	defer s.endLoading()

	if err := s.backend.SignOut(ctx); err != nil {
		s.logger.Warn("backend sign out failed, clearing local state anyway: %v", err)
	}

	s.setAnonymous()
}

// CurrentUser returns the derived user, or nil when nobody is signed in.
func (s *Store) CurrentUser() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// CurrentSession returns the live session, or nil.
func (s *Store) CurrentSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// IsAdmin reports whether the current state is authenticated with an admin
// role. It is computed from the resolver's output captured in the derived
// user, never from ad hoc re-checks of identity fields.
func (s *Store) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAuthenticated && s.user.IsAdmin()
}

// IsLoading reports whether any state transition is in flight. Consumers
// should suspend rendering decisions until it settles.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

// State returns the store's current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a consistent view of state, user, and loading flag.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, User: s.user, Loading: s.loading > 0}
}

// OnChange registers an observer notified after every settled state change.
// This is the propagation path for consumers; no session event ever forces a
// reload of the consuming application.
func (s *Store) OnChange(fn func(Snapshot)) Subscription {
	if fn == nil {
		return noopSubscription{}
	}

	s.mu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn
	s.mu.Unlock()

	return &observerSubscription{store: s, id: id}
}

// applyBackendSession reconciles a backend initiated change notification.
// Only the change listener calls it. The role is recomputed on every event;
// a cached role from an earlier event is never reused.
func (s *Store) applyBackendSession(event ChangeEvent, sess *Session) {
	if sess == nil {
		s.logger.Debug("backend event %s: no session", event)
		s.setAnonymous()
		return
	}

	s.logger.Debug("backend event %s for %s", event, sess.Identity.Email)
	s.setAuthenticated(sess)
}

func (s *Store) setAuthenticated(sess *Session) {
	user := deriveUser(sess.Identity, s.resolver)

	s.mu.Lock()
	s.state = StateAuthenticated
	s.session = sess
	s.user = user
	snapshot := Snapshot{State: s.state, User: s.user, Loading: s.loading > 0}
	observers := s.collectObservers()
	s.mu.Unlock()

	notify(observers, snapshot)
}

func (s *Store) setAnonymous() {
	s.mu.Lock()
	s.state = StateAnonymous
	s.session = nil
	s.user = nil
	snapshot := Snapshot{State: s.state, Loading: s.loading > 0}
	observers := s.collectObservers()
	s.mu.Unlock()

	notify(observers, snapshot)
}

// commitSignIn installs the session only when gen is still the most recent
// sign in initiation. The check and the install share one lock acquisition
// so a stale attempt resolving late can never clobber the winner's state.
func (s *Store) commitSignIn(gen uint64, sess *Session) bool {
	user := deriveUser(sess.Identity, s.resolver)

	s.mu.Lock()
	if gen != s.signInGen {
		s.mu.Unlock()
		return false
	}
	s.state = StateAuthenticated
	s.session = sess
	s.user = user
	snapshot := Snapshot{State: s.state, User: s.user, Loading: s.loading > 0}
	observers := s.collectObservers()
	s.mu.Unlock()

	notify(observers, snapshot)
	return true
}

// forceSignOut terminates the backend session and clears local state. Used
// by the admin gate; best effort on the backend side. The local clear is
// gated on gen so a superseded attempt cannot wipe a newer winner's state.
func (s *Store) forceSignOut(ctx context.Context, gen uint64) {
	if err := s.backend.SignOut(ctx); err != nil {
		s.logger.Warn("forced sign out failed on backend: %v", err)
	}

	s.mu.Lock()
	if gen != s.signInGen {
		s.mu.Unlock()
		return
	}
	s.state = StateAnonymous
	s.session = nil
	s.user = nil
	snapshot := Snapshot{State: s.state, Loading: s.loading > 0}
	observers := s.collectObservers()
	s.mu.Unlock()

	notify(observers, snapshot)
}

func (s *Store) nextSignInGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signInGen++
	return s.signInGen
}

func (s *Store) beginLoading() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
}

func (s *Store) endLoading() {
	s.mu.Lock()
	if s.loading > 0 {
		s.loading--
	}
	s.mu.Unlock()
}

func (s *Store) collectObservers() []func(Snapshot) {
	fns := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	return fns
}

func notify(observers []func(Snapshot), snapshot Snapshot) {
	for _, fn := range observers {
		fn(snapshot)
	}
}

type observerSubscription struct {
	store *Store
	once  sync.Once
	id    int
}

func (o *observerSubscription) Unsubscribe() {
	o.once.Do(func() {
		o.store.mu.Lock()
		delete(o.store.observers, o.id)
		o.store.mu.Unlock()
	})
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

func validateCredentials(email, password string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return err
	}
	return validation.Validate(password, validation.Required)
}

func validateSignUp(email, password, name string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "a valid email is required")
	}
	if err := validation.Validate(password, validation.Required, validation.Length(6, 0)); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "password must be at least 6 characters")
	}
	if err := validation.Validate(name, validation.Required); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "a display name is required")
	}
	return nil
}

// userMessage extracts a presentable message from a backend rejection,
// falling back to the generic credential message.
func userMessage(err error) string {
	var rich *errors.Error
	if errors.As(err, &rich) && rich.Message != "" {
		return rich.Message
	}
	return MsgInvalidCredentials
}
