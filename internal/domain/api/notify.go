package api

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/lokus/internal/domain/event"
)

// NotificationType is the severity of a notification.
type NotificationType string

// Notification types.
const (
	NotifyInfo    NotificationType = "info"
	NotifySuccess NotificationType = "success"
	NotifyWarning NotificationType = "warning"
	NotifyError   NotificationType = "error"
)

// Notification is a transient message shown to the user.
type Notification struct {
	ID       string
	PluginID string
	Message  string
	Type     NotificationType
	Duration time.Duration
}

// Dialog describes a modal dialog.
type Dialog struct {
	Title   string
	Message string
	Buttons []string
	// Input requests a free-text field prefilled with this value when
	// non-nil.
	Input *string
}

// DialogResult is the user's answer to a dialog.
type DialogResult struct {
	Button    string
	Value     string
	Cancelled bool
}

// DialogRequest is the payload of dialog events. The host answers by
// calling Resolve; only the first call counts.
type DialogRequest struct {
	Dialog
	ID       string
	PluginID string
	Resolve  func(DialogResult)
}

// ShowNotification publishes a notification and returns its id.
func (a *API) ShowNotification(n Notification) (string, error) {
	if err := a.checkOpen(); err != nil {
		return "", err
	}
	if n.ID == "" {
		n.ID = a.newID()
	}
	if n.Type == "" {
		n.Type = NotifyInfo
	}
	n.PluginID = a.ID()
	a.bus.Emit(event.KindNotification, a.ID(), n)
	return n.ID, nil
}

// ShowDialog publishes a dialog request and waits until a host listener
// resolves it or ctx ends.
func (a *API) ShowDialog(ctx context.Context, d Dialog) (DialogResult, error) {
	if err := a.checkOpen(); err != nil {
		return DialogResult{}, err
	}
	if a.bus.Count(event.KindDialog) == 0 {
		return DialogResult{}, ErrNoDialogHandler
	}

	answer := make(chan DialogResult, 1)
	var once sync.Once
	req := DialogRequest{
		Dialog:   d,
		ID:       a.newID(),
		PluginID: a.ID(),
		Resolve: func(r DialogResult) {
			once.Do(func() { answer <- r })
		},
	}
	a.bus.Emit(event.KindDialog, a.ID(), req)

	select {
	case r := <-answer:
		return r, nil
	case <-ctx.Done():
		req.Resolve(DialogResult{Cancelled: true})
		return DialogResult{Cancelled: true}, ctx.Err()
	}
}
