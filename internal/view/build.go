package view

import (
	"fmt"
	"strconv"
	"time"

	"github.com/starford/daylens/internal/formcodec"
	"github.com/starford/daylens/internal/models"
	"github.com/starford/daylens/internal/session"
)

// Screen is the main view.
type Screen int

const (
	ScreenLoading Screen = iota
	ScreenAuth
	ScreenDashboard
)

// Page is the description of one render.
type Page struct {
	Generation uint64
	Screen     Screen
	Toast      *Toast
	Auth       *AuthForm
	Dashboard  *Dashboard
	Editor     *Editor
	Confirm    *Confirm
	Bindings   Bindings
}

type Toast struct {
	Text      string
	IsError   bool
	DismissID string
}

type AuthForm struct {
	SignUp       bool
	Title        string
	TogglePrompt string
	ToggleLabel  string
	SubmitID     string
	ToggleID     string
	GuestID      string
}

type Dashboard struct {
	UserLabel  string
	SignOutID  string
	AddLogID   string
	PrevWeekID string
	NextWeekID string
	WeekLabel  string
	Cards      []Card
}

// Card is one log in the week list.
type Card struct {
	LogID     string
	DateLabel string
	Create    []string
	Connect   []string
	Learn     []string
	Meditate  string
	Notes     string
	EditID    string
	DeleteID  string
}

// Input is one named editor field.
type Input struct {
	Name        string
	Value       string
	Placeholder string
}

// Row is one repeatable entry of the editor.
type Row []Input

type Section struct {
	Category models.Category
	Title    string
	Rows     []Row
	AddID    string
}

type Editor struct {
	Title            string
	Date             Input
	Sections         []Section
	MeditateDuration Input
	MeditateType     Input
	Notes            Input
	SubmitID         string
	CancelID         string
	Disabled         bool
}

type Confirm struct {
	ConfirmID string
	CancelID  string
	Disabled  bool
}

// Date formats used on the dashboard.
const (
	dateLabelLayout = "Monday, January 2, 2006"
	weekLabelLayout = "1/2/2006"
)

// Week returns the half-open range [start, end) of the Sunday-based week
// containing anchor, in loc.
func Week(anchor time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	a := anchor.In(loc)
	day := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, loc)
	start = day.AddDate(0, 0, -int(day.Weekday()))
	return start, start.AddDate(0, 0, 7)
}

// InWeek returns the logs dated within the week containing anchor, keeping
// their order.
func InWeek(logs []models.DayLog, anchor time.Time, loc *time.Location) []models.DayLog {
	start, end := Week(anchor, loc)
	out := make([]models.DayLog, 0, len(logs))
	for _, l := range logs {
		if !l.Date.Before(start) && l.Date.Before(end) {
			out = append(out, l)
		}
	}
	return out
}

// binder hands out binding ids for one render.
type binder struct {
	gen uint64
	seq int
	tbl Bindings
}

func (b *binder) bind(a Action, logID string, c models.Category) string {
	b.seq++
	id := strconv.FormatUint(b.gen, 10) + "-" + strconv.Itoa(b.seq)
	b.tbl[id] = Binding{ID: id, Action: a, LogID: logID, Category: c}
	return id
}

// Build describes the UI for st. gen is embedded in every binding id so
// that ids from earlier renders never resolve.
func Build(st State, gen uint64) Page {
	b := &binder{gen: gen, tbl: Bindings{}}
	p := Page{Generation: gen}

	switch {
	case st.Phase == session.PhaseLoading, st.Phase == session.PhaseSignedOut && st.Reauthenticating:
		p.Screen = ScreenLoading
	case st.User == nil:
		p.Screen = ScreenAuth
		p.Auth = buildAuth(st.VM, b)
	default:
		p.Screen = ScreenDashboard
		p.Dashboard = buildDashboard(st, b)
	}

	if st.VM.Message != "" {
		p.Toast = &Toast{
			Text:      st.VM.Message,
			IsError:   st.VM.MessageIsError,
			DismissID: b.bind(ActionDismissMessage, "", ""),
		}
	}

	if p.Screen == ScreenDashboard {
		switch st.VM.Modal {
		case ModalLogEditor:
			p.Editor = buildEditor(st, b)
		case ModalDeleteConfirm:
			p.Confirm = &Confirm{Disabled: st.VM.Pending}
			if !st.VM.Pending {
				p.Confirm.ConfirmID = b.bind(ActionConfirmDelete, st.VM.PendingDeleteID, "")
				p.Confirm.CancelID = b.bind(ActionCancelDelete, "", "")
			}
		}
	}

	p.Bindings = b.tbl
	return p
}

func buildAuth(vm ViewModel, b *binder) *AuthForm {
	f := &AuthForm{
		SignUp:       vm.SignUpMode,
		Title:        "Login",
		TogglePrompt: "Don't have an account?",
		ToggleLabel:  "Sign Up",
	}
	if vm.SignUpMode {
		f.Title = "Sign Up"
		f.TogglePrompt = "Already have an account?"
		f.ToggleLabel = "Login"
	}
	f.SubmitID = b.bind(ActionSubmitAuth, "", "")
	f.ToggleID = b.bind(ActionToggleAuthMode, "", "")
	f.GuestID = b.bind(ActionContinueAsGuest, "", "")
	return f
}

func buildDashboard(st State, b *binder) *Dashboard {
	start, end := Week(st.VM.WeekAnchor, st.Location)
	d := &Dashboard{
		UserLabel:  st.User.DisplayName(),
		SignOutID:  b.bind(ActionSignOut, "", ""),
		AddLogID:   b.bind(ActionAddLog, "", ""),
		PrevWeekID: b.bind(ActionPrevWeek, "", ""),
		NextWeekID: b.bind(ActionNextWeek, "", ""),
		WeekLabel: fmt.Sprintf("Week of %s - %s",
			start.Format(weekLabelLayout), end.AddDate(0, 0, -1).Format(weekLabelLayout)),
	}
	for _, l := range InWeek(st.Logs, st.VM.WeekAnchor, st.Location) {
		d.Cards = append(d.Cards, buildCard(l, st.Location, b))
	}
	return d
}

func buildCard(l models.DayLog, loc *time.Location, b *binder) Card {
	c := Card{
		LogID:     l.ID,
		DateLabel: "N/A",
		Notes:     l.Notes,
		EditID:    b.bind(ActionEditLog, l.ID, ""),
		DeleteID:  b.bind(ActionDeleteLog, l.ID, ""),
	}
	if !l.Date.IsZero() {
		if loc == nil {
			loc = time.UTC
		}
		c.DateLabel = l.Date.In(loc).Format(dateLabelLayout)
	}
	for _, e := range l.Create {
		c.Create = append(c.Create, e.Description)
	}
	for _, e := range l.Connect {
		c.Connect = append(c.Connect, e.People+" - "+e.Notes)
	}
	for _, e := range l.Learn {
		c.Learn = append(c.Learn, e.Topic+" ("+e.Method+")")
	}
	if l.Meditate.Duration != 0 {
		c.Meditate = fmt.Sprintf("%s mins (%s)", formcodec.FormatDuration(l.Meditate.Duration), l.Meditate.Type)
	}
	return c
}

var placeholders = map[string]string{
	"description": "Description",
	"people":      "People (comma-separated)",
	"notes":       "Notes",
	"topic":       "Topic",
	"method":      "Method",
}

var sectionTitles = map[models.Category]string{
	models.CategoryCreate:  "Create",
	models.CategoryConnect: "Connect",
	models.CategoryLearn:   "Learn",
}

func buildEditor(st State, b *binder) *Editor {
	draft := st.VM.Draft
	date := draft.Date
	if date == "" {
		now := st.Now
		if st.Location != nil {
			now = now.In(st.Location)
		}
		date = now.Format(formcodec.DateLayout)
	}

	e := &Editor{
		Title:            "Add New Day Log",
		Date:             Input{Name: formcodec.FieldDate, Value: date},
		MeditateDuration: Input{Name: formcodec.FieldMeditateDuration, Value: formcodec.FormatDuration(draft.Meditate.Duration)},
		MeditateType:     Input{Name: formcodec.FieldMeditateType, Value: draft.Meditate.Type, Placeholder: "e.g., Mindfulness, Vipassana"},
		Notes:            Input{Name: formcodec.FieldNotes, Value: draft.Notes},
		Disabled:         st.VM.Pending,
	}
	if st.VM.Selected != nil {
		e.Title = "Edit Day Log"
	}

	for _, c := range models.Categories {
		s := Section{Category: c, Title: sectionTitles[c]}
		for i, values := range entryValues(draft, c) {
			row := make(Row, 0, len(values))
			for j, field := range formcodec.Fields(c) {
				row = append(row, Input{
					Name:        formcodec.FieldName(c, i, field),
					Value:       values[j],
					Placeholder: placeholders[field],
				})
			}
			s.Rows = append(s.Rows, row)
		}
		if !st.VM.Pending {
			s.AddID = b.bind(ActionAddEntry, "", c)
		}
		e.Sections = append(e.Sections, s)
	}

	if !st.VM.Pending {
		e.SubmitID = b.bind(ActionSubmitLog, "", "")
		e.CancelID = b.bind(ActionCancelLog, "", "")
	}
	return e
}

// entryValues lists the field values of each entry of c in draft, with one
// blank entry when there are none.
func entryValues(f formcodec.LogForm, c models.Category) [][]string {
	var out [][]string
	switch c {
	case models.CategoryCreate:
		for _, e := range f.Create {
			out = append(out, []string{e.Description})
		}
	case models.CategoryConnect:
		for _, e := range f.Connect {
			out = append(out, []string{e.People, e.Notes})
		}
	case models.CategoryLearn:
		for _, e := range f.Learn {
			out = append(out, []string{e.Topic, e.Method})
		}
	}
	if len(out) == 0 {
		out = append(out, make([]string, len(formcodec.Fields(c))))
	}
	return out
}
