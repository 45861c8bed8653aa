// Package records stores day logs in the document store on behalf of a
// signed-in user and keeps a live, in-memory copy of the user's logs.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/daylens/internal/apperr"
	"github.com/starford/daylens/internal/docstore"
	"github.com/starford/daylens/internal/formcodec"
	"github.com/starford/daylens/internal/models"
)

// User-facing messages.
const (
	MsgSaveSignedOut   = "Please sign in or create an account to save day logs."
	MsgDeleteSignedOut = "Please sign in or create an account to delete day logs."
	MsgInvalidDate     = "Invalid date provided for saving."
	MsgNotFound        = "Log not found for editing."
)

// timestampLayout is fixed width so stored values sort lexically in time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// DocumentStore is the subset of the document store used by records.
type DocumentStore interface {
	Add(ctx context.Context, collection string, data any) (string, error)
	Set(ctx context.Context, collection, id string, data any, opts ...docstore.SetOption) error
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection, id string) (docstore.Document, error)
	Query(ctx context.Context, q docstore.Query) (docstore.Snapshot, error)
	OnSnapshot(q docstore.Query, onNext func(docstore.Snapshot), onError func(error)) func()
}

var _ DocumentStore = (*docstore.Store)(nil)

// document is the stored shape of a day log.
type document struct {
	UserID    string                `json:"userId"`
	Date      string                `json:"date"`
	Create    []models.CreateEntry  `json:"create"`
	Connect   []models.ConnectEntry `json:"connect"`
	Learn     []models.LearnEntry   `json:"learn"`
	Meditate  models.Meditate       `json:"meditate"`
	Notes     string                `json:"notes"`
	CreatedAt string                `json:"createdAt,omitempty"`
	UpdatedAt string                `json:"updatedAt"`
}

// Repository reads and writes day logs synchronously.
type Repository struct {
	store  DocumentStore
	appID  string
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewRepository creates a repository for the given app namespace. Dates
// entered as YYYY-MM-DD are interpreted in loc.
func NewRepository(store DocumentStore, appID string, loc *time.Location, logger *slog.Logger) *Repository {
	if loc == nil {
		loc = time.UTC
	}
	return &Repository{store: store, appID: appID, loc: loc, now: time.Now, logger: logger}
}

// Location is the zone used for calendar dates.
func (r *Repository) Location() *time.Location { return r.loc }

// Collection is the document collection holding uid's logs.
func (r *Repository) Collection(uid string) string {
	return fmt.Sprintf("artifacts/%s/users/%s/dayLogs", r.appID, uid)
}

func (r *Repository) query(uid string) docstore.Query {
	return docstore.Query{Collection: r.Collection(uid), OrderBy: "date", Descending: true}
}

// ParseDate accepts YYYY-MM-DD (midnight in the repository location) or RFC 3339.
func (r *Repository) ParseDate(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(formcodec.DateLayout, s, r.loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(r.loc), nil
}

func validateForm(f formcodec.LogForm) error {
	return validation.ValidateStruct(&f.Meditate,
		validation.Field(&f.Meditate.Duration, validation.Min(0.0)),
	)
}

// Save creates a log, or updates existing when it has an id. The owner is
// always user, whatever the form says. Updates merge into the stored
// document, keeping its createdAt.
func (r *Repository) Save(ctx context.Context, user *models.User, form formcodec.LogForm, existing *models.DayLog) (models.DayLog, error) {
	const op = "save day log"
	if !user.CanPersist() {
		return models.DayLog{}, apperr.Validation(op, MsgSaveSignedOut)
	}
	date, err := r.ParseDate(form.Date)
	if err != nil {
		return models.DayLog{}, apperr.Validation(op, MsgInvalidDate)
	}
	form = form.Compact()
	if err := validateForm(form); err != nil {
		return models.DayLog{}, &apperr.Error{Kind: apperr.KindValidation, Op: op, Message: "Invalid meditation duration.", Err: err}
	}

	now := r.now().UTC()
	if existing != nil && now.Before(existing.UpdatedAt) {
		now = existing.UpdatedAt.UTC()
	}

	log := models.DayLog{
		ID:        "",
		UserID:    user.UID,
		Date:      date,
		Create:    form.Create,
		Connect:   form.Connect,
		Learn:     form.Learn,
		Meditate:  form.Meditate,
		Notes:     form.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc := toDocument(log)
	collection := r.Collection(user.UID)

	if existing != nil && existing.ID != "" {
		current, err := r.store.Get(ctx, collection, existing.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			return models.DayLog{}, apperr.NotFound(op, MsgNotFound)
		}
		if err != nil {
			return models.DayLog{}, apperr.Remote(op, err)
		}
		var stored document
		if err := current.Decode(&stored); err == nil && stored.CreatedAt != "" {
			// Left out of the patch: merge keeps the stored value.
			doc.CreatedAt = ""
			if t, perr := time.Parse(timestampLayout, stored.CreatedAt); perr == nil {
				log.CreatedAt = t
			}
		} else if !existing.CreatedAt.IsZero() {
			log.CreatedAt = existing.CreatedAt.UTC()
			doc.CreatedAt = log.CreatedAt.Format(timestampLayout)
		}
		if err := r.store.Set(ctx, collection, existing.ID, doc, docstore.Merge()); err != nil {
			return models.DayLog{}, apperr.Remote(op, err)
		}
		log.ID = existing.ID
		return log, nil
	}

	id, err := r.store.Add(ctx, collection, doc)
	if err != nil {
		return models.DayLog{}, apperr.Remote(op, err)
	}
	log.ID = id
	return log, nil
}

// Delete removes a log owned by user.
func (r *Repository) Delete(ctx context.Context, user *models.User, id string) error {
	const op = "delete day log"
	if !user.CanPersist() {
		return apperr.Validation(op, MsgDeleteSignedOut)
	}
	if err := r.store.Delete(ctx, r.Collection(user.UID), id); err != nil {
		return apperr.Remote(op, err)
	}
	return nil
}

// Get returns one of user's logs.
func (r *Repository) Get(ctx context.Context, user *models.User, id string) (models.DayLog, error) {
	const op = "get day log"
	if !user.CanPersist() {
		return models.DayLog{}, apperr.Validation(op, MsgSaveSignedOut)
	}
	d, err := r.store.Get(ctx, r.Collection(user.UID), id)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.DayLog{}, apperr.NotFound(op, MsgNotFound)
	}
	if err != nil {
		return models.DayLog{}, apperr.Remote(op, err)
	}
	return r.fromDocument(d)
}

// List returns user's logs, newest date first.
func (r *Repository) List(ctx context.Context, user *models.User) ([]models.DayLog, error) {
	const op = "list day logs"
	if !user.CanPersist() {
		return nil, apperr.Validation(op, MsgSaveSignedOut)
	}
	snap, err := r.store.Query(ctx, r.query(user.UID))
	if err != nil {
		return nil, apperr.Remote(op, err)
	}
	return r.decodeSnapshot(snap), nil
}

// Subscribe starts a live query over user's logs. Each snapshot is decoded
// and handed to onNext in full.
func (r *Repository) Subscribe(user models.User, onNext func([]models.DayLog), onError func(error)) func() {
	return r.store.OnSnapshot(r.query(user.UID),
		func(s docstore.Snapshot) { onNext(r.decodeSnapshot(s)) },
		func(err error) { onError(apperr.Remote("fetch day logs", err)) },
	)
}

func (r *Repository) decodeSnapshot(s docstore.Snapshot) []models.DayLog {
	logs := make([]models.DayLog, 0, len(s.Docs))
	for _, d := range s.Docs {
		l, err := r.fromDocument(d)
		if err != nil {
			r.logger.Warn("records: skipping malformed document",
				slog.String("id", d.ID),
				slog.String("error", err.Error()))
			continue
		}
		logs = append(logs, l)
	}
	return logs
}

func toDocument(l models.DayLog) document {
	return document{
		UserID:    l.UserID,
		Date:      l.Date.UTC().Format(timestampLayout),
		Create:    nonNil(l.Create),
		Connect:   nonNil(l.Connect),
		Learn:     nonNil(l.Learn),
		Meditate:  l.Meditate,
		Notes:     l.Notes,
		CreatedAt: l.CreatedAt.UTC().Format(timestampLayout),
		UpdatedAt: l.UpdatedAt.UTC().Format(timestampLayout),
	}
}

func (r *Repository) fromDocument(d docstore.Document) (models.DayLog, error) {
	var doc document
	if err := d.Decode(&doc); err != nil {
		return models.DayLog{}, fmt.Errorf("records: decode %s: %w", d.ID, err)
	}
	date, err := time.Parse(timestampLayout, doc.Date)
	if err != nil {
		return models.DayLog{}, fmt.Errorf("records: %s: bad date: %w", d.ID, err)
	}
	l := models.DayLog{
		ID:       d.ID,
		UserID:   doc.UserID,
		Date:     date.In(r.loc),
		Create:   nonNil(doc.Create),
		Connect:  nonNil(doc.Connect),
		Learn:    nonNil(doc.Learn),
		Meditate: doc.Meditate,
		Notes:    doc.Notes,
	}
	// Timestamps are informational; a malformed one is left zero.
	l.CreatedAt, _ = time.Parse(timestampLayout, doc.CreatedAt)
	l.UpdatedAt, _ = time.Parse(timestampLayout, doc.UpdatedAt)
	return l, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
