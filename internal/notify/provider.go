// Package notify is the notification sink collaborator: a generic
// "recipient set + deliver message" interface, plus the concrete webhook
// and SMTP providers storepulse ships.
package notify

import (
	"context"
	"time"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

// Notification is the fully-resolved message the Alert Dispatcher hands to
// a Provider: recipients are already looked up, subject/body already built.
type Notification struct {
	StoreID    string
	StoreName  string
	Kind       heartbeat.AlertKind
	Severity   heartbeat.Severity
	Subject    string
	Message    string
	Timestamp  time.Time
	Recipients []string
	Metadata   map[string]string
}

// Provider delivers a Notification to its recipients.
type Provider interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}
