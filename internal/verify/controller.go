package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dialcheck/dialcheck/internal/database/models"
	"github.com/dialcheck/dialcheck/internal/twiml"
)

// Voice prompts spoken to the caller. The say-text never includes the code
// words themselves; those travel only as recognition hints.
const (
	sayInvalidSession = "Invalid session. Goodbye."
	sayTooManyTries   = "Too many attempts. Test failed. Goodbye."
	saySuccess        = "Verification successful. Thank you. Goodbye."
	sayIncorrect      = "Incorrect. Try again."
)

// Turn is one webhook invocation from the telephony provider: the caller's
// number plus whatever the provider transcribed since the last turn.
//
// TurnKey identifies the logical turn, not the call: every gather response
// embeds the session's current attempt index in its action URL, and the
// provider echoes it back when posting the transcript. The provider's call
// identifier cannot serve here because it is constant across all turns of
// one call.
type Turn struct {
	Caller       string // E.164 caller ID
	CallSID      string // provider call identifier, constant per call; logging only
	TurnKey      string // per-turn key echoed from the gather action URL
	SpeechText   string // transcript; empty on the first turn of a call
	RecordingURL string // recording reference, if the provider recorded
}

// SessionStore is the slice of the session repository the controller uses.
// GetActiveByPhone returns (nil, nil) when no active session exists; Save
// returns database.ErrConflict when the compare-and-swap loses.
type SessionStore interface {
	GetActiveByPhone(ctx context.Context, phone string) (*models.VerificationSession, error)
	Save(ctx context.Context, session *models.VerificationSession) error
}

// Notifier delivers the test outcome to the user out-of-band (e.g. SMS).
// Failures must not affect the call; the controller only logs them.
type Notifier interface {
	NotifyResult(ctx context.Context, session *models.VerificationSession, passed bool) error
}

// ControllerConfig tunes the IVR protocol.
type ControllerConfig struct {
	// WebhookPath is the action URL re-listen turns post back to.
	WebhookPath string
	// Language is the speech recognition language, e.g. "en-US".
	Language string
	// Tolerance is the per-word edit distance allowed by the matcher.
	Tolerance int
	// RecordAttempts asks the provider to record each spoken attempt.
	RecordAttempts bool
	// MaxAttempts is the fallback ceiling for sessions created before the
	// column existed; sessions normally carry their own.
	MaxAttempts int
}

// Controller is the voice verification state machine. It holds no per-call
// state: every decision is rederived from the persisted session plus the
// current turn, because the webhook channel can redeliver and reorder turns.
type Controller struct {
	sessions SessionStore
	notifier Notifier // may be nil
	cfg      ControllerConfig
	logger   *slog.Logger
}

// NewController creates the IVR controller. notifier may be nil when no
// out-of-band result delivery is configured.
func NewController(sessions SessionStore, notifier Notifier, cfg ControllerConfig, logger *slog.Logger) *Controller {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	return &Controller{
		sessions: sessions,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "ivr"),
	}
}

// HandleTurn runs one turn of the verification protocol and returns the
// voice script for the provider. The script always terminates the turn with
// a listen or a hangup; store failures degrade to the invalid-session
// goodbye so the call ends gracefully rather than erroring at the provider.
func (c *Controller) HandleTurn(ctx context.Context, turn Turn) twiml.Response {
	log := c.logger.With("caller", turn.Caller, "call_sid", turn.CallSID, "turn", turn.TurnKey)

	session, err := c.sessions.GetActiveByPhone(ctx, turn.Caller)
	if err != nil {
		log.Error("session lookup failed", "error", err)
		return c.hangupWith(sayInvalidSession)
	}
	if session == nil {
		log.Info("no active session for caller")
		return c.hangupWith(sayInvalidSession)
	}

	maxAttempts := session.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.MaxAttempts
	}

	// Attempts already exhausted, e.g. a retried delivery of the final
	// mismatch. Close the session out.
	if session.Attempts >= maxAttempts {
		session.Status = models.StatusFailed
		if err := c.save(ctx, session, log); err != nil {
			return c.hangupWith(sayInvalidSession)
		}
		return c.hangupWith(sayTooManyTries)
	}

	if turn.RecordingURL != "" {
		log.Debug("attempt recording available", "recording_url", turn.RecordingURL)
	}

	// First turn of a call carries no transcript: prompt and listen. A
	// caller who hangs up here and redials has consumed nothing.
	if strings.TrimSpace(turn.SpeechText) == "" {
		return c.listen(session, nil)
	}

	// Redelivery of a spoken turn that was already counted must not count
	// again. The incremented attempt count means the session now hands out a
	// new turn key, so replaying the old key reproduces the original
	// re-listen response exactly.
	if turn.TurnKey != "" && turn.TurnKey == session.LastTurnKey {
		log.Info("duplicate turn delivery, replaying response")
		return c.listen(session, twiml.Say{Text: sayIncorrect})
	}

	expected := session.Words()
	if Matches(turn.SpeechText, expected, c.cfg.Tolerance) {
		session.Status = models.StatusSuccess
		if err := c.save(ctx, session, log); err != nil {
			return c.hangupWith(sayInvalidSession)
		}
		log.Info("verification succeeded", "attempts", session.Attempts)
		c.notify(ctx, session, true, log)
		return c.hangupWith(saySuccess)
	}

	session.Attempts++
	session.LastTurnKey = turn.TurnKey
	log.Info("spoken phrase did not match",
		"attempts", session.Attempts,
		"max_attempts", maxAttempts,
	)

	if session.Attempts >= maxAttempts {
		session.Status = models.StatusFailed
		if err := c.save(ctx, session, log); err != nil {
			return c.hangupWith(sayInvalidSession)
		}
		c.notify(ctx, session, false, log)
		return c.hangupWith(sayTooManyTries)
	}

	if err := c.save(ctx, session, log); err != nil {
		return c.hangupWith(sayInvalidSession)
	}
	return c.listen(session, twiml.Say{Text: sayIncorrect})
}

// save persists the session and logs failures. Conflicts mean a concurrent
// turn already advanced the session; both cases fall back to the graceful
// invalid-session script at the call site.
func (c *Controller) save(ctx context.Context, session *models.VerificationSession, log *slog.Logger) error {
	if err := c.sessions.Save(ctx, session); err != nil {
		log.Error("session save failed", "error", err, "session_id", session.ID)
		return err
	}
	return nil
}

// listen builds the prompt-and-gather script, optionally preceded by a verb
// (e.g. the "incorrect" notice). The expected phrase rides along as
// recognition hints so the provider's speech engine is biased toward the
// right vocabulary; hints are not spoken. The action URL carries the current
// attempt index as the turn key the transcript will post back with.
func (c *Controller) listen(session *models.VerificationSession, before twiml.Verb) twiml.Response {
	words := session.Words()
	gather := twiml.Gather{
		Action:   fmt.Sprintf("%s?turn=%d", c.cfg.WebhookPath, session.Attempts),
		Hints:    strings.Join(words, ", "),
		Language: c.cfg.Language,
		Record:   c.cfg.RecordAttempts,
		Prompt:   fmt.Sprintf("Please read your %d code words clearly.", len(words)),
	}

	r := twiml.New()
	if before != nil {
		r = r.With(before)
	}
	return r.With(gather)
}

func (c *Controller) hangupWith(text string) twiml.Response {
	return twiml.New(twiml.Say{Text: text}, twiml.Hangup{})
}

// notify reports the outcome out-of-band; errors are logged and swallowed so
// notification problems never disturb the call.
func (c *Controller) notify(ctx context.Context, session *models.VerificationSession, passed bool, log *slog.Logger) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyResult(ctx, session, passed); err != nil {
		log.Warn("result notification failed", "error", err, "session_id", session.ID)
	}
}
