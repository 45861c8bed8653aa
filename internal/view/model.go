// Package view turns application state into a page description and its
// HTML. Everything here is a pure function of its input.
package view

import (
	"time"

	"github.com/starford/daylens/internal/formcodec"
	"github.com/starford/daylens/internal/models"
	"github.com/starford/daylens/internal/session"
)

// ModalKind selects the dialog shown over the dashboard.
type ModalKind int

const (
	ModalNone ModalKind = iota
	ModalLogEditor
	ModalDeleteConfirm
)

// ViewModel holds the UI fields that are not derived from the session or
// the record collection.
type ViewModel struct {
	Message        string
	MessageIsError bool
	SignUpMode     bool

	Modal ModalKind
	// Selected is the log being edited; nil while adding.
	Selected *models.DayLog
	// Draft is the editor content, including blank rows.
	Draft           formcodec.LogForm
	PendingDeleteID string

	WeekAnchor time.Time
	// Pending is set while a save or delete is in flight.
	Pending bool
	// ModalSeq changes each time a dialog opens or closes.
	ModalSeq uint64
}

// OpenEditor shows the editor for log, or for a new log dated today when
// log is nil.
func (vm *ViewModel) OpenEditor(log *models.DayLog, today time.Time) {
	vm.ModalSeq++
	vm.Modal = ModalLogEditor
	vm.PendingDeleteID = ""
	if log == nil {
		vm.Selected = nil
		vm.Draft = formcodec.LogForm{Date: today.Format(formcodec.DateLayout)}
		return
	}
	c := *log
	vm.Selected = &c
	vm.Draft = formcodec.FromLog(c)
}

// OpenDeleteConfirm asks to confirm deletion of id.
func (vm *ViewModel) OpenDeleteConfirm(id string) {
	vm.ModalSeq++
	vm.Modal = ModalDeleteConfirm
	vm.PendingDeleteID = id
	vm.Selected = nil
}

// CloseModal hides any dialog and forgets its selection.
func (vm *ViewModel) CloseModal() {
	vm.ModalSeq++
	vm.Modal = ModalNone
	vm.Selected = nil
	vm.Draft = formcodec.LogForm{}
	vm.PendingDeleteID = ""
}

// ShiftWeek moves the anchor by weeks.
func (vm *ViewModel) ShiftWeek(weeks int) {
	vm.WeekAnchor = vm.WeekAnchor.AddDate(0, 0, 7*weeks)
}

// State is everything Build reads.
type State struct {
	Phase            session.Phase
	Reauthenticating bool
	User             *models.User
	Logs             []models.DayLog
	VM               ViewModel
	Location         *time.Location
	// Now is the current time, used for the default editor date.
	Now time.Time
}

// Action is what a binding does when triggered.
type Action string

const (
	ActionToggleAuthMode  Action = "toggle-auth-mode"
	ActionSubmitAuth      Action = "submit-auth"
	ActionContinueAsGuest Action = "continue-as-guest"
	ActionSignOut         Action = "sign-out"
	ActionAddLog          Action = "add-log"
	ActionPrevWeek        Action = "prev-week"
	ActionNextWeek        Action = "next-week"
	ActionEditLog         Action = "edit-log"
	ActionDeleteLog       Action = "delete-log"
	ActionSubmitLog       Action = "submit-log"
	ActionAddEntry        Action = "add-entry"
	ActionCancelLog       Action = "cancel-log"
	ActionConfirmDelete   Action = "confirm-delete"
	ActionCancelDelete    Action = "cancel-delete"
	ActionDismissMessage  Action = "dismiss-message"
)

// Binding ties an interactive element of one render to an action.
type Binding struct {
	ID       string
	Action   Action
	LogID    string
	Category models.Category
}

// Bindings is the complete handler table of one render, keyed by id.
type Bindings map[string]Binding
