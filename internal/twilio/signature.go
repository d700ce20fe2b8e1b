package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
)

// ValidateSignature checks the X-Twilio-Signature header of a webhook
// request. Twilio signs the full request URL concatenated with the form
// parameters sorted by key (names and values appended without separators),
// HMAC-SHA1 keyed with the account auth token, base64-encoded.
func ValidateSignature(authToken, requestURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	expected := computeSignature(authToken, requestURL, form)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func computeSignature(authToken, requestURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := requestURL
	for _, k := range keys {
		for _, v := range form[k] {
			payload += k + v
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
