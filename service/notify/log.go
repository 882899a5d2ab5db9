package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes notifications to the structured log. It is the default
// when no external alerting collaborator is configured.
type LogNotifier struct {
	log *logrus.Entry
}

// NewLogNotifier creates a logging notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logrus.WithField("component", "notify")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, notification *Notification) error {
	n.log.WithFields(logrus.Fields{
		"entity": notification.EntityType + "/" + notification.EntityID,
		"reason": notification.Reason,
	}).Warn(notification.Instructions)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
