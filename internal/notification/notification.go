// Package notification raises disease alerts for new scans through push
// providers such as shoutrrr service URLs.
package notification

import "context"

// Notification is one message handed to a provider.
type Notification struct {
	Title   string
	Message string
}

// Provider delivers notifications. Implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}
