package session_test

import (
	"context"
	"sync"

	"github.com/iateclube/go-session"
	"github.com/stretchr/testify/mock"
)

// MockBackend implements session.CredentialBackend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) CurrentSession(ctx context.Context) (*session.Session, error) {
	args := m.Called(ctx)
	sess, _ := args.Get(0).(*session.Session)
	return sess, args.Error(1)
}

func (m *MockBackend) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	args := m.Called(ctx, email, password)
	sess, _ := args.Get(0).(*session.Session)
	return sess, args.Error(1)
}

func (m *MockBackend) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*session.Identity, error) {
	args := m.Called(ctx, email, password, metadata)
	identity, _ := args.Get(0).(*session.Identity)
	return identity, args.Error(1)
}

func (m *MockBackend) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) RefreshSession(ctx context.Context) (*session.Session, error) {
	args := m.Called(ctx)
	sess, _ := args.Get(0).(*session.Session)
	return sess, args.Error(1)
}

func (m *MockBackend) OnSessionChange(fn func(session.ChangeEvent, *session.Session)) session.Subscription {
	args := m.Called(fn)
	sub, _ := args.Get(0).(session.Subscription)
	if sub == nil {
		return fakeSubscription{}
	}
	return sub
}

type fakeSubscription struct{}

func (fakeSubscription) Unsubscribe() {}

// fakeBackend is a scripted in-memory backend for flows where the testify
// mock gets in the way (interleaving, change events).
type fakeBackend struct {
	mu          sync.Mutex
	current     *session.Session
	signInFn    func(ctx context.Context, email, password string) (*session.Session, error)
	signOutErr  error
	subscribers []func(session.ChangeEvent, *session.Session)
	unsubCalls  int
}

func (f *fakeBackend) CurrentSession(ctx context.Context) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeBackend) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	if f.signInFn != nil {
		sess, err := f.signInFn(ctx, email, password)
		if err == nil {
			f.mu.Lock()
			f.current = sess
			f.mu.Unlock()
		}
		return sess, err
	}
	return nil, nil
}

func (f *fakeBackend) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*session.Identity, error) {
	return &session.Identity{ID: "new-user", Email: email, UserMetadata: metadata}, nil
}

func (f *fakeBackend) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
	return f.signOutErr
}

func (f *fakeBackend) RefreshSession(ctx context.Context) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeBackend) OnSessionChange(fn func(session.ChangeEvent, *session.Session)) session.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers = append(f.subscribers, fn)
	return &fakeBackendSubscription{backend: f}
}

func (f *fakeBackend) emit(event session.ChangeEvent, sess *session.Session) {
	f.mu.Lock()
	subs := append([]func(session.ChangeEvent, *session.Session){}, f.subscribers...)
	f.mu.Unlock()

	for _, fn := range subs {
		fn(event, sess)
	}
}

func (f *fakeBackend) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

type fakeBackendSubscription struct {
	backend *fakeBackend
}

func (s *fakeBackendSubscription) Unsubscribe() {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.subscribers = nil
	s.backend.unsubCalls++
}

// quiet discards log output during tests.
type quiet struct{}

func (quiet) Error(format string, args ...any) {}
func (quiet) Warn(format string, args ...any)  {}
func (quiet) Info(format string, args ...any)  {}
func (quiet) Debug(format string, args ...any) {}
