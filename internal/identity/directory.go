// Package identity is the DayLens identity provider: a SQLite user
// directory with email/password, anonymous and custom-token sign-in, and a
// per-client Auth handle that reports sign-in state changes.
package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/starford/daylens/internal/models"
)

// Schema creates the identity tables.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	uid           TEXT PRIMARY KEY,
	email         TEXT UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	anonymous     INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS custom_tokens (
	token      TEXT PRIMARY KEY,
	uid        TEXT NOT NULL REFERENCES users(uid) ON DELETE CASCADE,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS client_sessions (
	client_id  TEXT PRIMARY KEY,
	uid        TEXT NOT NULL REFERENCES users(uid) ON DELETE CASCADE,
	signed_in  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Provider error codes.
const (
	CodeInvalidEmail       = "auth/invalid-email"
	CodeWeakPassword       = "auth/weak-password"
	CodeEmailInUse         = "auth/email-already-in-use"
	CodeInvalidCredential  = "auth/invalid-credential"
	CodeInvalidCustomToken = "auth/invalid-custom-token"
	CodeInternal           = "auth/internal-error"
)

// Error is a provider rejection.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the text shown to the user.
func (e *Error) UserMessage() string { return e.Message }

// CodeOf returns the provider code of err, or "" if it is not a provider error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func internalErr(op string, err error) *Error {
	return &Error{Code: CodeInternal, Message: "An internal error occurred.", Err: fmt.Errorf("identity: %s: %w", op, err)}
}

// Directory stores users, custom tokens and client session bindings.
type Directory struct {
	conn           *sql.DB
	minPasswordLen int
	bcryptCost     int
	now            func() time.Time
	afterWrite     func()
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithMinPasswordLength sets the minimum accepted password length.
func WithMinPasswordLength(n int) DirectoryOption {
	return func(d *Directory) { d.minPasswordLen = n }
}

// WithBcryptCost sets the bcrypt cost for new passwords.
func WithBcryptCost(cost int) DirectoryOption {
	return func(d *Directory) { d.bcryptCost = cost }
}

// WithWriteHook sets a function run after every successful write, for
// callers that share the connection with a file watcher.
func WithWriteHook(fn func()) DirectoryOption {
	return func(d *Directory) { d.afterWrite = fn }
}

// NewDirectory wraps an open connection whose schema includes Schema.
func NewDirectory(conn *sql.DB, opts ...DirectoryOption) *Directory {
	d := &Directory{
		conn:           conn,
		minPasswordLen: 6,
		bcryptCost:     bcrypt.DefaultCost,
		now:            time.Now,
		afterWrite:     func() {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.conn.ExecContext(ctx, query, args...)
	if err == nil {
		d.afterWrite()
	}
	return res, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (d *Directory) validateCredentials(email, password string) error {
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return &Error{Code: CodeInvalidEmail, Message: "The email address is badly formatted."}
	}
	if err := validation.Validate(password, validation.Required, validation.RuneLength(d.minPasswordLen, 0)); err != nil {
		return &Error{Code: CodeWeakPassword, Message: fmt.Sprintf("Password should be at least %d characters.", d.minPasswordLen)}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateUser registers a new email/password user.
func (d *Directory) CreateUser(ctx context.Context, email, password string) (models.User, error) {
	email = normalizeEmail(email)
	if err := d.validateCredentials(email, password); err != nil {
		return models.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.bcryptCost)
	if err != nil {
		return models.User{}, internalErr("hash password", err)
	}
	u := models.User{UID: uuid.NewString(), Email: email}
	_, err = d.exec(ctx,
		`INSERT INTO users (uid, email, password_hash, anonymous, created_at) VALUES (?, ?, ?, 0, ?)`,
		u.UID, email, string(hash), d.now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, &Error{Code: CodeEmailInUse, Message: "The email address is already in use by another account."}
		}
		return models.User{}, internalErr("insert user", err)
	}
	return u, nil
}

// VerifyPassword checks email/password and returns the user.
func (d *Directory) VerifyPassword(ctx context.Context, email, password string) (models.User, error) {
	email = normalizeEmail(email)
	var uid, hash string
	err := d.conn.QueryRowContext(ctx,
		`SELECT uid, password_hash FROM users WHERE email = ? AND anonymous = 0`, email).Scan(&uid, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, invalidCredential()
	}
	if err != nil {
		return models.User{}, internalErr("lookup user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return models.User{}, invalidCredential()
	}
	return models.User{UID: uid, Email: email}, nil
}

func invalidCredential() *Error {
	return &Error{Code: CodeInvalidCredential, Message: "Invalid email or password."}
}

// CreateAnonymous registers a new anonymous user.
func (d *Directory) CreateAnonymous(ctx context.Context) (models.User, error) {
	u := models.User{UID: uuid.NewString(), Anonymous: true}
	_, err := d.exec(ctx,
		`INSERT INTO users (uid, email, anonymous, created_at) VALUES (?, NULL, 1, ?)`,
		u.UID, d.now().UTC())
	if err != nil {
		return models.User{}, internalErr("insert anonymous user", err)
	}
	return u, nil
}

// LookupEmail returns the registered user with the given email.
func (d *Directory) LookupEmail(ctx context.Context, email string) (models.User, error) {
	email = normalizeEmail(email)
	var uid string
	err := d.conn.QueryRowContext(ctx,
		`SELECT uid FROM users WHERE email = ? AND anonymous = 0`, email).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, &Error{Code: CodeInvalidCredential, Message: fmt.Sprintf("No user with email %s.", email)}
	}
	if err != nil {
		return models.User{}, internalErr("lookup email", err)
	}
	return models.User{UID: uid, Email: email}, nil
}

func (d *Directory) userByID(ctx context.Context, uid string) (models.User, error) {
	var email sql.NullString
	var anonymous bool
	err := d.conn.QueryRowContext(ctx,
		`SELECT email, anonymous FROM users WHERE uid = ?`, uid).Scan(&email, &anonymous)
	if err != nil {
		return models.User{}, err
	}
	return models.User{UID: uid, Email: email.String, Anonymous: anonymous}, nil
}

// MintCustomToken issues a single-use sign-in token for a registered user.
func (d *Directory) MintCustomToken(ctx context.Context, email string, ttl time.Duration) (string, error) {
	u, err := d.LookupEmail(ctx, email)
	if err != nil {
		return "", err
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", internalErr("generate token", err)
	}
	token := hex.EncodeToString(raw)
	_, err = d.exec(ctx,
		`INSERT INTO custom_tokens (token, uid, expires_at) VALUES (?, ?, ?)`,
		token, u.UID, d.now().Add(ttl).UTC())
	if err != nil {
		return "", internalErr("store token", err)
	}
	return token, nil
}

// RedeemCustomToken consumes token and returns its user.
func (d *Directory) RedeemCustomToken(ctx context.Context, token string) (models.User, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.User{}, internalErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var uid string
	var expires time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT uid, expires_at FROM custom_tokens WHERE token = ?`, token).Scan(&uid, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, &Error{Code: CodeInvalidCustomToken, Message: "The custom token is invalid."}
	}
	if err != nil {
		return models.User{}, internalErr("lookup token", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM custom_tokens WHERE token = ?`, token); err != nil {
		return models.User{}, internalErr("consume token", err)
	}
	if err := tx.Commit(); err != nil {
		return models.User{}, internalErr("commit", err)
	}
	d.afterWrite()
	if d.now().After(expires) {
		return models.User{}, &Error{Code: CodeInvalidCustomToken, Message: "The custom token has expired."}
	}
	u, err := d.userByID(ctx, uid)
	if err != nil {
		return models.User{}, internalErr("load token user", err)
	}
	return u, nil
}

// BindClient records that clientID is signed in as uid.
func (d *Directory) BindClient(ctx context.Context, clientID, uid string) error {
	_, err := d.exec(ctx, `
		INSERT INTO client_sessions (client_id, uid, signed_in) VALUES (?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET uid = excluded.uid, signed_in = excluded.signed_in
	`, clientID, uid, d.now().UTC())
	if err != nil {
		return internalErr("bind client", err)
	}
	return nil
}

// ClientUser returns the user bound to clientID, or nil when signed out.
func (d *Directory) ClientUser(ctx context.Context, clientID string) (*models.User, error) {
	var uid string
	err := d.conn.QueryRowContext(ctx,
		`SELECT uid FROM client_sessions WHERE client_id = ?`, clientID).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, internalErr("load client session", err)
	}
	u, err := d.userByID(ctx, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, internalErr("load client user", err)
	}
	return &u, nil
}

// UnbindClient signs clientID out.
func (d *Directory) UnbindClient(ctx context.Context, clientID string) error {
	if _, err := d.exec(ctx, `DELETE FROM client_sessions WHERE client_id = ?`, clientID); err != nil {
		return internalErr("unbind client", err)
	}
	return nil
}
