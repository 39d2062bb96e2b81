package session

import "sync"

// Listener keeps the Store consistent with asynchronous, backend initiated
// session events: token refreshes, external sign outs, sign ins from another
// tab or device. It subscribes once for the lifetime of the process and only
// propagates state in memory; a routine refresh never reloads the consuming
// application.
type Listener struct {
	store  *Store
	logger Logger

	startOnce sync.Once
	closeOnce sync.Once
	sub       Subscription
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger overrides the default logger.
func WithListenerLogger(logger Logger) ListenerOption {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewListener returns a Listener bound to the store's credential backend.
func NewListener(store *Store, opts ...ListenerOption) (*Listener, error) {
	if store == nil {
		return nil, ErrBackendRequired
	}

	listener := &Listener{
		store:  store,
		logger: store.logger,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(listener)
		}
	}

	return listener, nil
}

// Start subscribes to the backend's change notifications. Calling it more
// than once is a no-op; there is exactly one subscription per process.
func (l *Listener) Start() {
	l.startOnce.Do(func() {
		l.sub = l.store.backend.OnSessionChange(func(event ChangeEvent, sess *Session) {
			l.store.applyBackendSession(event, sess)
		})
		l.logger.Debug("session change listener started")
	})
}

// Close unsubscribes from the backend. Safe to call more than once; the
// underlying cleanup runs exactly one time.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		if l.sub != nil {
			l.sub.Unsubscribe()
		}
		l.logger.Debug("session change listener closed")
	})
}
