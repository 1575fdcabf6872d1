package engine

import (
	"context"
	"log"
)

// Notification kinds delivered to commitment owners.
const (
	NotifyCompleted          = "completed"
	NotifyFailed             = "failed"
	NotifyDeadlineReminder   = "deadline_reminder"
	NotifyOverdue            = "overdue"
	NotifyComplaintSubmitted = "complaint_submitted"
	NotifyComplaintApproved  = "complaint_approved"
	NotifyComplaintRejected  = "complaint_rejected"
	NotifyRefundProcessed    = "refund_processed"
)

// Notifier delivers a message to a user. Delivery is best-effort: the engine
// never fails or rolls back a committed transition because a notifier errored,
// and duplicate deliveries are tolerated.
type Notifier interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]any) error
}

// LogNotifier writes notifications to a logger. It stands in for the outbound
// email/push integration.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(_ context.Context, userID, kind string, payload map[string]any) error {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notify user=%s kind=%s payload=%v", userID, kind, payload)
	return nil
}

// notify dispatches after the transaction has committed. It runs on the
// calling goroutine so tests observe deliveries synchronously; the Notifier
// itself must not block on remote I/O (queue-backed implementations enqueue
// and return).
func (e Engine) notify(userID, kind string, payload map[string]any) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(context.Background(), userID, kind, payload); err != nil {
		e.logger().Printf("notify %s to user %s failed: %v", kind, userID, err)
	}
}
