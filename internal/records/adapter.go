package records

import (
	"context"
	"log/slog"

	"github.com/starford/daylens/internal/apperr"
	"github.com/starford/daylens/internal/formcodec"
	"github.com/starford/daylens/internal/models"
)

// Executor runs work for a single-threaded owner. Post queues fn on the
// owner's goroutine and never blocks. Go runs work elsewhere and then
// queues done with its result.
type Executor interface {
	Post(fn func())
	Go(work func(ctx context.Context) error, done func(error))
}

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(msg string, isError bool)
}

// Adapter keeps the signed-in user's logs in memory. All methods must be
// called on the executor's goroutine.
type Adapter struct {
	repo     *Repository
	exec     Executor
	notifier Notifier
	logger   *slog.Logger
	onChange func()

	unsubscribe func()
	gen         uint64
	logs        []models.DayLog
}

// NewAdapter creates an adapter. onChange runs on the executor after every
// collection change.
func NewAdapter(repo *Repository, exec Executor, notifier Notifier, logger *slog.Logger, onChange func()) *Adapter {
	return &Adapter{
		repo:     repo,
		exec:     exec,
		notifier: notifier,
		logger:   logger,
		onChange: onChange,
	}
}

// Logs returns the latest snapshot, newest date first. Callers must not
// modify it.
func (a *Adapter) Logs() []models.DayLog { return a.logs }

// Find returns the log with id from the latest snapshot.
func (a *Adapter) Find(id string) (models.DayLog, bool) {
	return models.FindLog(a.logs, id)
}

// Active reports whether a live query is running.
func (a *Adapter) Active() bool { return a.unsubscribe != nil }

// StartSubscription replaces any running live query with one over user's
// logs. Anonymous and missing users get an empty collection.
func (a *Adapter) StartSubscription(user *models.User) error {
	a.StopSubscription()
	if !user.CanPersist() {
		return apperr.Validation("start subscription", "day logs are disabled for this session")
	}

	gen := a.gen
	owner := *user
	a.unsubscribe = a.repo.Subscribe(owner,
		func(logs []models.DayLog) {
			a.exec.Post(func() {
				if a.gen != gen {
					return
				}
				a.logs = logs
				a.logger.Debug("records: snapshot applied",
					slog.String("uid", owner.UID),
					slog.Int("count", len(logs)))
				a.onChange()
			})
		},
		func(err error) {
			a.exec.Post(func() {
				if a.gen != gen {
					return
				}
				a.notifier.Notify("Error fetching day logs: "+apperr.MessageOf(err), true)
				a.logger.Error("Fetch Day Logs Error",
					slog.String("uid", owner.UID),
					slog.String("kind", apperr.KindOf(err).String()),
					slog.String("error", err.Error()))
			})
		},
	)
	a.logger.Debug("records: subscription started", slog.String("uid", owner.UID))
	return nil
}

// StopSubscription ends the live query and clears the collection. Safe to
// call when nothing is running.
func (a *Adapter) StopSubscription() {
	a.gen++
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
		a.logger.Debug("records: subscription stopped")
	}
	a.logs = nil
}

// Save writes form as a new log, or over existing when it is non-nil.
// done runs on the executor when the write has finished, whatever the
// outcome. The collection is not touched; the live query reports the change.
func (a *Adapter) Save(user *models.User, form formcodec.LogForm, existing *models.DayLog, done func(error)) {
	owner := copyUser(user)
	var prior *models.DayLog
	if existing != nil {
		c := *existing
		prior = &c
	}
	a.exec.Go(func(ctx context.Context) error {
		_, err := a.repo.Save(ctx, owner, form, prior)
		return err
	}, func(err error) {
		switch {
		case err == nil && prior != nil && prior.ID != "":
			a.notifier.Notify("Day log updated successfully!", false)
		case err == nil:
			a.notifier.Notify("Day log added successfully!", false)
		default:
			a.reportFailure("Save Day Log Error", "Error saving day log: ", err)
		}
		done(err)
	})
}

// Delete removes the log with id. done runs on the executor afterwards,
// whatever the outcome.
func (a *Adapter) Delete(user *models.User, id string, done func(error)) {
	owner := copyUser(user)
	a.exec.Go(func(ctx context.Context) error {
		return a.repo.Delete(ctx, owner, id)
	}, func(err error) {
		if err == nil {
			a.notifier.Notify("Day log deleted successfully!", false)
		} else {
			a.reportFailure("Delete Day Log Error", "Error deleting day log: ", err)
		}
		done(err)
	})
}

func (a *Adapter) reportFailure(diag, prefix string, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.MessageOf(err)
	if kind == apperr.KindRemoteOperation {
		msg = prefix + msg
	}
	a.notifier.Notify(msg, true)
	a.logger.Error(diag,
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()))
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
