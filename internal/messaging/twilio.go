package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// ValidateTwilioSignature checks the HMAC-SHA1 Twilio puts on every webhook.
// webhookURL must be the public URL Twilio posted to, not the one the proxy
// forwarded.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	got := r.Header.Get(twilioSignatureHeader)
	if got == "" || r.ParseForm() != nil {
		return false
	}
	want := computeSignature(buildSignaturePayload(webhookURL, r.PostForm), authToken)
	return hmac.Equal([]byte(got), []byte(want))
}

func buildSignaturePayload(webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(webhookURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k + v)
		}
	}
	return b.String()
}

func computeSignature(data, authToken string) string {
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// TwilioWebhookRequest is one inbound WhatsApp message. ProfileName and WaID
// are only sent on the WhatsApp channel.
type TwilioWebhookRequest struct {
	MessageSid  string
	AccountSid  string
	From        string
	To          string
	Body        string
	ProfileName string
	WaID        string
	NumMedia    int
}

func ParseTwilioWebhook(r *http.Request) (*TwilioWebhookRequest, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse form: %w", err)
	}
	field := func(name string) string { return strings.TrimSpace(r.FormValue(name)) }

	req := &TwilioWebhookRequest{
		MessageSid:  field("MessageSid"),
		AccountSid:  field("AccountSid"),
		From:        r.FormValue("From"),
		To:          r.FormValue("To"),
		Body:        field("Body"),
		ProfileName: field("ProfileName"),
		WaID:        field("WaId"),
	}
	if raw := field("NumMedia"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("messaging: bad NumMedia %q", raw)
		}
		req.NumMedia = n
	}
	return req, nil
}
