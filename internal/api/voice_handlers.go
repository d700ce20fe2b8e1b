package api

import (
	"net/http"

	"github.com/dialcheck/dialcheck/internal/twilio"
	"github.com/dialcheck/dialcheck/internal/verify"
)

// twilioSignatureHeader carries the HMAC Twilio computes over each webhook
// request.
const twilioSignatureHeader = "X-Twilio-Signature"

// handleVoiceWebhook is the single entry point for every turn of a
// verification call: the initial dial-in and each speech gather result.
// Responses are always TwiML; errors the caller can do nothing about
// still return a valid script so the call ends cleanly.
func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form payload")
		return
	}

	if s.cfg.ValidateWebhooks && s.cfg.TwilioAuthToken != "" {
		sig := r.Header.Get(twilioSignatureHeader)
		if !twilio.ValidateSignature(s.cfg.TwilioAuthToken, s.webhookURL(r), r.PostForm, sig) {
			s.logger.Warn("voice webhook: signature validation failed",
				"remote_addr", r.RemoteAddr,
				"call_sid", r.PostFormValue("CallSid"),
			)
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	// The turn key rides in the gather action URL query, not the form:
	// Twilio's CallSid is constant for the whole call and cannot
	// distinguish one spoken turn from the next.
	turn := verify.Turn{
		Caller:       r.PostFormValue("From"),
		CallSID:      r.PostFormValue("CallSid"),
		TurnKey:      r.URL.Query().Get("turn"),
		SpeechText:   r.PostFormValue("SpeechResult"),
		RecordingURL: r.PostFormValue("RecordingUrl"),
	}

	resp := s.controller.HandleTurn(r.Context(), turn)

	xml, err := resp.Render()
	if err != nil {
		s.logger.Error("voice webhook: rendering twiml", "error", err, "call_sid", turn.CallSID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(xml)
}

// webhookURL returns the URL Twilio signed: the configured public URL when
// available, otherwise reconstructed from the request. The signature covers
// the full URL including the query string, so the turn key must be carried
// through.
func (s *Server) webhookURL(r *http.Request) string {
	if u := s.cfg.WebhookURL(); u != "" {
		if r.URL.RawQuery != "" {
			u += "?" + r.URL.RawQuery
		}
		return u
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
