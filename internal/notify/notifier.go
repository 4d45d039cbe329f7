// Package notify is the fire-and-forget notification sink for fills,
// liquidations and order state changes.
package notify

import "context"

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
)

type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   Level  `json:"level"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
