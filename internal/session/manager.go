// Package session tracks the identity of one browser client and keeps the
// record subscription in step with it.
package session

import (
	"context"
	"log/slog"

	"github.com/starford/daylens/internal/apperr"
	"github.com/starford/daylens/internal/identity"
	"github.com/starford/daylens/internal/models"
	"github.com/starford/daylens/internal/records"
)

// Phase is the session state shown to the render loop.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseSignedOut
	PhaseAnonymous
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseSignedOut:
		return "signed_out"
	case PhaseAnonymous:
		return "anonymous"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "loading"
	}
}

// MsgGuestWarning is shown whenever the session becomes anonymous.
const MsgGuestWarning = "You are signed in as a guest. Your data will not be saved permanently. Please sign up to save your logs."

// Provider is the identity provider as seen by one client.
type Provider interface {
	OnAuthStateChanged(fn func(*models.User)) func()
	SignInAnonymously(ctx context.Context) (models.User, error)
	CreateUserWithEmailAndPassword(ctx context.Context, email, password string) (models.User, error)
	SignInWithEmailAndPassword(ctx context.Context, email, password string) (models.User, error)
	SignInWithCustomToken(ctx context.Context, token string) (models.User, error)
	SignOut(ctx context.Context) error
}

var _ Provider = (*identity.Auth)(nil)

// Subscriptions starts and stops the live record query.
type Subscriptions interface {
	StartSubscription(user *models.User) error
	StopSubscription()
}

// Manager owns the session state machine. Like records.Adapter, every
// method runs on the executor's goroutine.
type Manager struct {
	provider     Provider
	exec         records.Executor
	notifier     records.Notifier
	subs         Subscriptions
	logger       *slog.Logger
	initialToken string
	onChange     func()

	phase            Phase
	user             *models.User
	reauthenticating bool
	manualSignOut    bool
	unsubscribe      func()
}

// Config groups the Manager collaborators.
type Config struct {
	Provider Provider
	Exec     records.Executor
	Notifier records.Notifier
	Subs     Subscriptions
	Logger   *slog.Logger
	// InitialToken is redeemed once, on the first automatic sign-in, before
	// falling back to an anonymous session.
	InitialToken string
	// OnChange runs after every phase transition.
	OnChange func()
}

func NewManager(cfg Config) *Manager {
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func() {}
	}
	return &Manager{
		provider:     cfg.Provider,
		exec:         cfg.Exec,
		notifier:     cfg.Notifier,
		subs:         cfg.Subs,
		logger:       cfg.Logger,
		initialToken: cfg.InitialToken,
		onChange:     onChange,
	}
}

// Start subscribes to provider state changes.
func (m *Manager) Start() {
	if m.unsubscribe != nil {
		return
	}
	m.unsubscribe = m.provider.OnAuthStateChanged(func(u *models.User) {
		m.exec.Post(func() { m.handleAuthState(u) })
	})
}

// Stop detaches from the provider and ends the record subscription.
func (m *Manager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.subs.StopSubscription()
}

func (m *Manager) Phase() Phase { return m.phase }

// User returns the current identity, or nil.
func (m *Manager) User() *models.User { return m.user }

// Reauthenticating reports whether a new session is being established
// automatically after the provider dropped the previous one.
func (m *Manager) Reauthenticating() bool { return m.reauthenticating }

func (m *Manager) handleAuthState(u *models.User) {
	m.user = u
	if u == nil {
		m.subs.StopSubscription()
		m.phase = PhaseSignedOut
		if !m.manualSignOut {
			m.reauthenticating = true
			m.onChange()
			m.reauthenticate()
			return
		}
		m.manualSignOut = false
		m.reauthenticating = false
		m.logger.Info("session: signed out")
		m.onChange()
		return
	}

	m.manualSignOut = false
	m.reauthenticating = false
	if u.Anonymous {
		m.phase = PhaseAnonymous
		m.subs.StopSubscription()
		m.logger.Info("session: anonymous", slog.String("uid", u.UID))
		m.onChange()
		m.notifier.Notify(MsgGuestWarning, true)
		return
	}

	m.phase = PhaseAuthenticated
	m.logger.Info("session: authenticated", slog.String("uid", u.UID))
	if err := m.subs.StartSubscription(u); err != nil {
		m.logger.Error("session: start subscription failed",
			slog.String("uid", u.UID),
			slog.String("error", err.Error()))
	}
	m.onChange()
}

// reauthenticate tries the initial token, then an anonymous session. The
// resulting identity arrives through the state listener.
func (m *Manager) reauthenticate() {
	token := m.initialToken
	m.initialToken = ""
	m.exec.Go(func(ctx context.Context) error {
		if token != "" {
			_, err := m.provider.SignInWithCustomToken(ctx, token)
			if err == nil {
				return nil
			}
			m.logger.Error("Error signing in with custom token",
				slog.String("code", identity.CodeOf(err)),
				slog.String("error", err.Error()))
		}
		_, err := m.provider.SignInAnonymously(ctx)
		return err
	}, func(err error) {
		if err == nil {
			return
		}
		m.logger.Error("Error signing in anonymously",
			slog.String("code", identity.CodeOf(err)),
			slog.String("error", err.Error()))
		if m.user == nil && m.reauthenticating {
			m.reauthenticating = false
			m.onChange()
		}
	})
}

// SignUp creates an account and signs it in.
func (m *Manager) SignUp(email, password string) {
	m.authenticate("sign up", "Sign Up Error", "Account created and logged in successfully!", "Error creating account: ",
		func(ctx context.Context) error {
			_, err := m.provider.CreateUserWithEmailAndPassword(ctx, email, password)
			return err
		})
}

// SignIn signs in an existing account.
func (m *Manager) SignIn(email, password string) {
	m.authenticate("sign in", "Sign In Error", "Logged in successfully!", "Error logging in: ",
		func(ctx context.Context) error {
			_, err := m.provider.SignInWithEmailAndPassword(ctx, email, password)
			return err
		})
}

// ContinueAsGuest starts an anonymous session.
func (m *Manager) ContinueAsGuest() {
	m.authenticate("sign in anonymously", "Anonymous Sign In Error", "Signed in as Guest.", "Error signing in anonymously: ",
		func(ctx context.Context) error {
			_, err := m.provider.SignInAnonymously(ctx)
			return err
		})
}

// SignOut ends the session without the automatic guest fallback.
func (m *Manager) SignOut() {
	m.manualSignOut = true
	m.subs.StopSubscription()
	m.exec.Go(func(ctx context.Context) error {
		return m.provider.SignOut(ctx)
	}, func(err error) {
		if err != nil {
			// No state change follows a failed sign-out.
			m.manualSignOut = false
			m.fail("sign out", "Sign Out Error", "Error signing out: ", err)
			return
		}
		m.notifier.Notify("Signed out successfully.", false)
	})
}

func (m *Manager) authenticate(op, diag, success, prefix string, call func(ctx context.Context) error) {
	m.exec.Go(call, func(err error) {
		if err != nil {
			m.fail(op, diag, prefix, err)
			return
		}
		m.notifier.Notify(success, false)
	})
}

func (m *Manager) fail(op, diag, prefix string, err error) {
	aerr := apperr.Authentication(op, err)
	m.notifier.Notify(prefix+aerr.Message, true)
	m.logger.Error(diag,
		slog.String("code", identity.CodeOf(err)),
		slog.String("error", err.Error()))
}
