package service

import "context"

// NoticeLevel classifies a user-facing notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeInfo    NoticeLevel = "info"
	NoticeError   NoticeLevel = "error"
)

// Notice is a short message for the reviewer who initiated an action.
type Notice struct {
	Level       NoticeLevel
	Title       string
	Description string
}

// Notifier delivers notices to the reviewer.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, notice Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, notice Notice) {
	f(ctx, notice)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notice) {}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

func errorNotice(err error) Notice {
	return Notice{Level: NoticeError, Title: "Error", Description: err.Error()}
}
