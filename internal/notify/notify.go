// Package notify delivers verification outcomes to users out-of-band.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dialcheck/dialcheck/internal/database/models"
	"github.com/dialcheck/dialcheck/internal/twilio"
)

// SMSSender sends a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (*twilio.Message, error)
}

// UserGetter loads the account a session belongs to.
type UserGetter interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// SMSNotifier texts the test outcome to users who opted in.
type SMSNotifier struct {
	sender SMSSender
	users  UserGetter
	logger *slog.Logger
}

// NewSMSNotifier creates an SMS notifier.
func NewSMSNotifier(sender SMSSender, users UserGetter, logger *slog.Logger) *SMSNotifier {
	return &SMSNotifier{
		sender: sender,
		users:  users,
		logger: logger.With("component", "notify"),
	}
}

// NotifyResult sends the outcome of a finished session to its owner.
// Users who have not opted in to SMS are skipped without error.
func (n *SMSNotifier) NotifyResult(ctx context.Context, session *models.VerificationSession, passed bool) error {
	user, err := n.users.GetByID(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("loading user %d: %w", session.UserID, err)
	}
	if user == nil {
		return fmt.Errorf("user %d not found for session %s", session.UserID, session.PublicID)
	}
	if !user.OptInSMS {
		n.logger.Debug("user not opted in to sms, skipping",
			"user_id", user.ID, "session", session.PublicID)
		return nil
	}

	body := fmt.Sprintf("DialCheck: verification of %s passed.", session.Phone)
	if !passed {
		body = fmt.Sprintf("DialCheck: verification of %s failed after %d attempts.",
			session.Phone, session.Attempts)
	}

	msg, err := n.sender.SendSMS(ctx, user.Phone, body)
	if err != nil {
		return fmt.Errorf("sending result sms: %w", err)
	}

	n.logger.Info("result sms sent",
		"session", session.PublicID, "passed", passed, "message_sid", msg.SID)
	return nil
}
