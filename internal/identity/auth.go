package identity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/daylens/internal/models"
)

// Auth is the provider handle of one browser client. Sign-in state is
// persisted per client id, so a reloaded page resumes its session.
//
// State-change listeners are called on the goroutine that caused the
// change and must not block.
type Auth struct {
	dir      *Directory
	clientID string
	logger   *slog.Logger

	mu        sync.Mutex
	current   *models.User
	restored  bool
	listeners map[int]func(*models.User)
	seq       int
}

// NewAuth returns the provider handle for clientID.
func NewAuth(dir *Directory, clientID string, logger *slog.Logger) *Auth {
	return &Auth{
		dir:       dir,
		clientID:  clientID,
		logger:    logger,
		listeners: make(map[int]func(*models.User)),
	}
}

// OnAuthStateChanged registers fn. fn is first called asynchronously with
// the restored state, then once per sign-in or sign-out.
func (a *Auth) OnAuthStateChanged(fn func(*models.User)) func() {
	a.mu.Lock()
	a.seq++
	id := a.seq
	a.listeners[id] = fn
	a.mu.Unlock()

	go func() {
		u := a.restore()
		a.mu.Lock()
		_, active := a.listeners[id]
		a.mu.Unlock()
		if active {
			fn(u)
		}
	}()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *Auth) restore() *models.User {
	a.mu.Lock()
	if a.restored {
		u := copyUser(a.current)
		a.mu.Unlock()
		return u
	}
	a.mu.Unlock()

	u, err := a.dir.ClientUser(context.Background(), a.clientID)
	if err != nil {
		a.logger.Error("identity: restore session failed",
			slog.String("client_id", a.clientID),
			slog.String("error", err.Error()))
		u = nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.restored {
		a.restored = true
		a.current = u
	}
	return copyUser(a.current)
}

// CurrentUser returns the signed-in user, or nil.
func (a *Auth) CurrentUser() *models.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyUser(a.current)
}

// SignInAnonymously creates and signs in a fresh anonymous user.
func (a *Auth) SignInAnonymously(ctx context.Context) (models.User, error) {
	u, err := a.dir.CreateAnonymous(ctx)
	if err != nil {
		return models.User{}, err
	}
	return u, a.setUser(ctx, &u)
}

// CreateUserWithEmailAndPassword registers and signs in a new user.
func (a *Auth) CreateUserWithEmailAndPassword(ctx context.Context, email, password string) (models.User, error) {
	u, err := a.dir.CreateUser(ctx, email, password)
	if err != nil {
		return models.User{}, err
	}
	return u, a.setUser(ctx, &u)
}

// SignInWithEmailAndPassword signs in an existing user.
func (a *Auth) SignInWithEmailAndPassword(ctx context.Context, email, password string) (models.User, error) {
	u, err := a.dir.VerifyPassword(ctx, email, password)
	if err != nil {
		return models.User{}, err
	}
	return u, a.setUser(ctx, &u)
}

// SignInWithCustomToken redeems a minted token.
func (a *Auth) SignInWithCustomToken(ctx context.Context, token string) (models.User, error) {
	u, err := a.dir.RedeemCustomToken(ctx, token)
	if err != nil {
		return models.User{}, err
	}
	return u, a.setUser(ctx, &u)
}

// SignOut ends the client's session.
func (a *Auth) SignOut(ctx context.Context) error {
	return a.setUser(ctx, nil)
}

func (a *Auth) setUser(ctx context.Context, u *models.User) error {
	var err error
	if u == nil {
		err = a.dir.UnbindClient(ctx, a.clientID)
	} else {
		err = a.dir.BindClient(ctx, a.clientID, u.UID)
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.restored = true
	a.current = copyUser(u)
	fns := make([]func(*models.User), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(copyUser(u))
	}
	return nil
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
