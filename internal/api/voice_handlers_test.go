package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
)

// doVoiceWebhook posts a Twilio-style form to the given webhook path. Gather
// callbacks carry the turn key in the path's query, the way the provider
// echoes the action URL it was handed.
func (e *testEnv) doVoiceWebhook(t *testing.T, path string, form url.Values, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, f := range mutate {
		f(req)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func callForm(from, callSid, speech string) url.Values {
	form := url.Values{}
	form.Set("From", from)
	form.Set("CallSid", callSid)
	if speech != "" {
		form.Set("SpeechResult", speech)
	}
	return form
}

func TestVoiceWebhookUnknownCaller(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doVoiceWebhook(t, "/webhooks/voice", callForm("+15559990000", "CA1", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("content-type = %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Invalid session. Goodbye.") {
		t.Errorf("expected invalid session prompt, got:\n%s", body)
	}
	if !strings.Contains(body, "<Hangup") {
		t.Errorf("expected hangup, got:\n%s", body)
	}
}

func TestVoiceWebhookFullCall(t *testing.T) {
	env := newTestEnv(t)
	cookie, csrf := env.signupAndLogin(t)

	if rr := env.doJSON(t, http.MethodPost, "/api/v1/tests", "", authenticate(cookie, csrf)); rr.Code != http.StatusCreated {
		t.Fatalf("creating test: expected 201, got %d", rr.Code)
	}

	// First turn: caller dials in, no speech yet.
	rr := env.doVoiceWebhook(t, "/webhooks/voice", callForm("+14155552671", "CA100", ""))
	body := rr.Body.String()
	if !strings.Contains(body, "<Gather") {
		t.Fatalf("expected gather on first turn, got:\n%s", body)
	}
	if !strings.Contains(body, `action="/webhooks/voice?turn=0"`) {
		t.Errorf("expected turn-keyed gather action, got:\n%s", body)
	}
	if !strings.Contains(body, "Please read your 5 code words clearly.") {
		t.Errorf("expected reading prompt, got:\n%s", body)
	}
	if !strings.Contains(body, "alpha, bravo, charlie, delta, echo") {
		t.Errorf("expected hints with the code words, got:\n%s", body)
	}

	// Second turn: correct phrase posted back to the gather action.
	rr = env.doVoiceWebhook(t, "/webhooks/voice?turn=0", callForm("+14155552671", "CA100", "alpha bravo charlie delta echo"))
	body = rr.Body.String()
	if !strings.Contains(body, "Verification successful. Thank you. Goodbye.") {
		t.Errorf("expected success prompt, got:\n%s", body)
	}

	sess, err := env.tests.GetActiveByPhone(context.Background(), "+14155552671")
	if err != nil {
		t.Fatalf("loading session: %v", err)
	}
	if sess != nil {
		t.Error("no session should remain active after success")
	}
}

func TestVoiceWebhookWrongThenCorrect(t *testing.T) {
	env := newTestEnv(t)
	cookie, csrf := env.signupAndLogin(t)

	if rr := env.doJSON(t, http.MethodPost, "/api/v1/tests", "", authenticate(cookie, csrf)); rr.Code != http.StatusCreated {
		t.Fatalf("creating test: expected 201, got %d", rr.Code)
	}

	// First read is wrong; the caller stays on the line.
	rr := env.doVoiceWebhook(t, "/webhooks/voice?turn=0", callForm("+14155552671", "CA150", "zulu zulu zulu zulu zulu"))
	body := rr.Body.String()
	if !strings.Contains(body, "Incorrect. Try again.") {
		t.Fatalf("expected retry prompt, got:\n%s", body)
	}
	if !strings.Contains(body, `action="/webhooks/voice?turn=1"`) {
		t.Errorf("expected re-listen to hand out the next turn key, got:\n%s", body)
	}

	// Second read in the same call, same CallSid, must be evaluated and pass.
	rr = env.doVoiceWebhook(t, "/webhooks/voice?turn=1", callForm("+14155552671", "CA150", "alpha bravo charlie delta echo"))
	if !strings.Contains(rr.Body.String(), "Verification successful. Thank you. Goodbye.") {
		t.Errorf("expected success on second attempt, got:\n%s", rr.Body.String())
	}

	sess, err := env.tests.GetActiveByPhone(context.Background(), "+14155552671")
	if err != nil {
		t.Fatalf("loading session: %v", err)
	}
	if sess != nil {
		t.Error("no session should remain active after success")
	}
}

func TestVoiceWebhookWrongThenExhausted(t *testing.T) {
	env := newTestEnv(t)
	cookie, csrf := env.signupAndLogin(t)

	if rr := env.doJSON(t, http.MethodPost, "/api/v1/tests", "", authenticate(cookie, csrf)); rr.Code != http.StatusCreated {
		t.Fatalf("creating test: expected 201, got %d", rr.Code)
	}

	rr := env.doVoiceWebhook(t, "/webhooks/voice?turn=0", callForm("+14155552671", "CA200", "zulu zulu zulu zulu zulu"))
	if !strings.Contains(rr.Body.String(), "Incorrect. Try again.") {
		t.Errorf("expected retry prompt, got:\n%s", rr.Body.String())
	}

	rr = env.doVoiceWebhook(t, "/webhooks/voice?turn=1", callForm("+14155552671", "CA200", "zulu zulu zulu zulu zulu"))
	if !strings.Contains(rr.Body.String(), "Too many attempts. Test failed. Goodbye.") {
		t.Errorf("expected failure prompt, got:\n%s", rr.Body.String())
	}

	sess, err := env.tests.GetActiveByPhone(context.Background(), "+14155552671")
	if err != nil {
		t.Fatalf("loading session: %v", err)
	}
	if sess != nil {
		t.Error("failed session should no longer be active")
	}
}

func TestVoiceWebhookDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	cookie, csrf := env.signupAndLogin(t)

	if rr := env.doJSON(t, http.MethodPost, "/api/v1/tests", "", authenticate(cookie, csrf)); rr.Code != http.StatusCreated {
		t.Fatalf("creating test: expected 201, got %d", rr.Code)
	}

	form := callForm("+14155552671", "CA300", "zulu zulu zulu zulu zulu")
	first := env.doVoiceWebhook(t, "/webhooks/voice?turn=0", form)

	// The provider retrying the same gather callback must not burn a
	// second attempt, and must get the original response back.
	replay := env.doVoiceWebhook(t, "/webhooks/voice?turn=0", form)
	if first.Body.String() != replay.Body.String() {
		t.Errorf("replayed response differs from original:\n%s\nvs\n%s",
			replay.Body.String(), first.Body.String())
	}

	sess, err := env.tests.GetActiveByPhone(context.Background(), "+14155552671")
	if err != nil || sess == nil {
		t.Fatalf("loading session: %v", err)
	}
	if sess.Attempts != 1 {
		t.Errorf("attempts = %d after duplicate delivery, want 1", sess.Attempts)
	}
}

func TestVoiceWebhookSignatureValidation(t *testing.T) {
	env := newTestEnv(t)
	env.server.cfg.ValidateWebhooks = true
	env.server.cfg.TwilioAuthToken = "test-token"

	form := callForm("+15559990000", "CA400", "")

	// Missing signature → rejected.
	rr := env.doVoiceWebhook(t, "/webhooks/voice", form)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", rr.Code)
	}

	// Correctly signed request → accepted.
	sig := signForm("test-token", "http://dialcheck.test/webhooks/voice", form)
	rr = env.doVoiceWebhook(t, "/webhooks/voice", form, func(r *http.Request) {
		r.Header.Set(twilioSignatureHeader, sig)
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid signature, got %d", rr.Code)
	}

	// Gather callbacks are signed over the full URL including the turn key.
	gatherForm := callForm("+15559990000", "CA400", "alpha bravo charlie delta echo")
	sig = signForm("test-token", "http://dialcheck.test/webhooks/voice?turn=0", gatherForm)
	rr = env.doVoiceWebhook(t, "/webhooks/voice?turn=0", gatherForm, func(r *http.Request) {
		r.Header.Set(twilioSignatureHeader, sig)
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with query-inclusive signature, got %d", rr.Code)
	}

	// A signature computed without the query must not validate.
	sig = signForm("test-token", "http://dialcheck.test/webhooks/voice", gatherForm)
	rr = env.doVoiceWebhook(t, "/webhooks/voice?turn=0", gatherForm, func(r *http.Request) {
		r.Header.Set(twilioSignatureHeader, sig)
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for query-less signature, got %d", rr.Code)
	}
}

// signForm reproduces Twilio's webhook signature scheme.
func signForm(token, reqURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := reqURL
	for _, k := range keys {
		for _, v := range form[k] {
			payload += k + v
		}
	}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
