package notify

import (
	"context"
	"log"
)

// LogNotifier writes notifications to the process log. Used when no
// Telegram credentials are configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	log.Printf("[Notify] %s: %s (%s)", n.Title, n.Message, n.Level)
}
