// Package client runs the per-browser application state. Each Controller
// owns its state on a single goroutine, rebuilds the whole view after
// every mutation and pushes the result to a sink.
package client

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/daylens/internal/formcodec"
	"github.com/starford/daylens/internal/metrics"
	"github.com/starford/daylens/internal/records"
	"github.com/starford/daylens/internal/session"
	"github.com/starford/daylens/internal/view"
)

// DefaultMessageTTL is how long a notification stays on screen.
const DefaultMessageTTL = 5 * time.Second

// Frame is one rendered state of the UI.
type Frame struct {
	Generation uint64 `json:"generation"`
	App        string `json:"app"`
	Modal      string `json:"modal"`
}

// Options configures a Controller.
type Options struct {
	ID           string
	Provider     session.Provider
	Repo         *records.Repository
	Sink         func(Frame)
	Logger       *slog.Logger
	// InitialToken is a single-use sign-in token for this client only.
	InitialToken string
	MessageTTL   time.Duration
	Location     *time.Location
	Now          func() time.Time
}

// Controller is the application state of one browser client.
type Controller struct {
	id     string
	logger *slog.Logger
	sink   func(Frame)
	ttl    time.Duration
	loc    *time.Location
	now    func() time.Time
	after  func(time.Duration, func())

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	work      sync.WaitGroup
	closeOnce sync.Once

	frameMu  sync.RWMutex
	lastPage view.Page
	last     Frame

	lastActive atomic.Int64
	streams    atomic.Int32

	// Owned by the loop goroutine.
	session  *session.Manager
	records  *records.Adapter
	vm       view.ViewModel
	gen      uint64
	bindings view.Bindings
	toastGen uint64
}

var (
	_ records.Executor = (*Controller)(nil)
	_ records.Notifier = (*Controller)(nil)
)

// New starts a controller. The first render shows the loading screen; the
// session is restored asynchronously.
func New(opts Options) *Controller {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.MessageTTL
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	sink := opts.Sink
	if sink == nil {
		sink = func(Frame) {}
	}
	logger := opts.Logger.With(slog.String("client_id", opts.ID))

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:      opts.ID,
		logger:  logger,
		sink:    sink,
		ttl:     ttl,
		loc:     loc,
		now:     now,
		after:   func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.vm.WeekAnchor = now().In(loc)
	c.touch()

	c.records = records.NewAdapter(opts.Repo, c, c, logger, c.render)
	c.session = session.NewManager(session.Config{
		Provider:     opts.Provider,
		Exec:         c,
		Notifier:     c,
		Subs:         c.records,
		Logger:       logger,
		InitialToken: opts.InitialToken,
		OnChange:     c.render,
	})

	metrics.ActiveClients.Inc()
	go c.run()
	c.Post(func() {
		c.render()
		c.session.Start()
	})
	return c
}

// ID is the client id.
func (c *Controller) ID() string { return c.id }

func (c *Controller) run() {
	defer close(c.stopped)
	for range c.wake {
		for {
			fn := c.next()
			if fn == nil {
				break
			}
			fn()
		}
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
	}
}

func (c *Controller) next() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	fn := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return fn
}

// Post queues fn on the loop. It never blocks; after Close it drops fn.
func (c *Controller) Post(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, fn)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Go runs work off the loop and posts done with its result.
func (c *Controller) Go(work func(ctx context.Context) error, done func(error)) {
	c.work.Add(1)
	go func() {
		defer c.work.Done()
		err := work(c.ctx)
		c.Post(func() { done(err) })
	}()
}

// Close stops the session and the loop, then waits for in-flight work.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.Post(func() {
			c.session.Stop()
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
		})
		<-c.stopped
		c.cancel()
		c.work.Wait()
		metrics.ActiveClients.Dec()
		c.logger.Debug("client: closed")
	})
}

// Notify shows msg until it is replaced or its time runs out.
func (c *Controller) Notify(msg string, isError bool) {
	c.vm.Message = msg
	c.vm.MessageIsError = isError
	c.toastGen++
	gen := c.toastGen
	c.after(c.ttl, func() {
		c.Post(func() {
			if c.toastGen != gen {
				return
			}
			c.vm.Message = ""
			c.vm.MessageIsError = false
			c.render()
		})
	})
	c.render()
}

func (c *Controller) state() view.State {
	return view.State{
		Phase:            c.session.Phase(),
		Reauthenticating: c.session.Reauthenticating(),
		User:             c.session.User(),
		Logs:             c.records.Logs(),
		VM:               c.vm,
		Location:         c.loc,
		Now:              c.now(),
	}
}

// render rebuilds the view, replaces the binding table and pushes the frame.
func (c *Controller) render() {
	c.gen++
	page := view.Build(c.state(), c.gen)
	c.bindings = page.Bindings

	app, modal, err := view.Render(page)
	if err != nil {
		c.logger.Error("client: render failed", slog.String("error", err.Error()))
		return
	}
	frame := Frame{Generation: c.gen, App: app, Modal: modal}

	c.frameMu.Lock()
	c.lastPage = page
	c.last = frame
	c.frameMu.Unlock()

	metrics.Render()
	c.sink(frame)
}

// Frame returns the latest render.
func (c *Controller) Frame() Frame {
	c.frameMu.RLock()
	defer c.frameMu.RUnlock()
	return c.last
}

// Document returns the latest render as a complete HTML page.
func (c *Controller) Document() (string, error) {
	c.frameMu.RLock()
	page := c.lastPage
	c.frameMu.RUnlock()
	return view.RenderDocument(page)
}

// Dispatch queues the action bound to bindingID. values are the submitted
// form fields, if any.
func (c *Controller) Dispatch(bindingID string, values url.Values) {
	c.touch()
	c.Post(func() { c.dispatch(bindingID, values) })
}

func (c *Controller) dispatch(id string, values url.Values) {
	b, ok := c.bindings[id]
	if !ok {
		// Raised against an earlier render; resend the current one.
		c.logger.Debug("client: stale binding", slog.String("binding", id))
		metrics.Action("stale")
		c.render()
		return
	}
	metrics.Action("ok")
	c.apply(b, values)
}

func (c *Controller) apply(b view.Binding, values url.Values) {
	switch b.Action {
	case view.ActionToggleAuthMode:
		c.vm.SignUpMode = !c.vm.SignUpMode
		c.render()

	case view.ActionSubmitAuth:
		email, password := values.Get("email"), values.Get("password")
		if c.vm.SignUpMode {
			c.session.SignUp(email, password)
		} else {
			c.session.SignIn(email, password)
		}

	case view.ActionContinueAsGuest:
		c.session.ContinueAsGuest()

	case view.ActionSignOut:
		c.vm.CloseModal()
		c.session.SignOut()
		c.render()

	case view.ActionAddLog:
		c.vm.OpenEditor(nil, c.now().In(c.loc))
		c.render()

	case view.ActionPrevWeek:
		c.vm.ShiftWeek(-1)
		c.render()

	case view.ActionNextWeek:
		c.vm.ShiftWeek(1)
		c.render()

	case view.ActionEditLog:
		log, ok := c.records.Find(b.LogID)
		if !ok {
			c.Notify(records.MsgNotFound, true)
			return
		}
		c.vm.OpenEditor(&log, c.now().In(c.loc))
		c.render()

	case view.ActionDeleteLog:
		c.vm.OpenDeleteConfirm(b.LogID)
		c.render()

	case view.ActionAddEntry:
		c.vm.Draft = formcodec.Decode(values).WithBlankEntry(b.Category)
		c.render()

	case view.ActionSubmitLog:
		c.submitLog(values)

	case view.ActionCancelLog, view.ActionCancelDelete:
		c.vm.CloseModal()
		c.render()

	case view.ActionConfirmDelete:
		c.confirmDelete(b.LogID)

	case view.ActionDismissMessage:
		c.vm.Message = ""
		c.vm.MessageIsError = false
		c.toastGen++
		c.render()
	}
}

func (c *Controller) submitLog(values url.Values) {
	if c.vm.Pending {
		metrics.Action("ignored")
		return
	}
	c.vm.Draft = formcodec.Decode(values)
	form := c.vm.Draft.Compact()
	existing := c.vm.Selected
	c.vm.Pending = true
	c.render()

	c.records.Save(c.session.User(), form, existing, c.settle(c.vm.ModalSeq))
}

func (c *Controller) confirmDelete(id string) {
	if c.vm.Pending || id == "" {
		metrics.Action("ignored")
		return
	}
	c.vm.Pending = true
	c.render()

	c.records.Delete(c.session.User(), id, c.settle(c.vm.ModalSeq))
}

// settle ends a save or delete started from the dialog with seq. The dialog
// is closed only if it is still the one shown.
func (c *Controller) settle(seq uint64) func(error) {
	return func(error) {
		c.vm.Pending = false
		if c.vm.ModalSeq == seq {
			c.vm.CloseModal()
		}
		c.render()
	}
}

func (c *Controller) touch() { c.lastActive.Store(c.now().UnixNano()) }

// Attach marks an open event stream and returns its release function. A
// client with an open stream is never idle.
func (c *Controller) Attach() func() {
	c.streams.Add(1)
	c.touch()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.streams.Add(-1)
			c.touch()
		})
	}
}

// IdleSince reports when the client was last used, and whether it is idle
// at all.
func (c *Controller) IdleSince() (time.Time, bool) {
	if c.streams.Load() > 0 {
		return time.Time{}, false
	}
	return time.Unix(0, c.lastActive.Load()), true
}
