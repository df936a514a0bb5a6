package messaging

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedRequest(t *testing.T, target, token string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("X-Twilio-Signature", computeSignature(buildSignaturePayload(target, form), token))
	}
	return req
}

func TestValidateTwilioSignature(t *testing.T) {
	form := url.Values{"MessageSid": {"SM123"}, "From": {"whatsapp:+5511999990000"}, "Body": {"Oi"}}
	target := "https://clinica.example.com/webhooks/twilio"

	assert.True(t, ValidateTwilioSignature(signedRequest(t, target, "secret", form), "secret", target))
	assert.False(t, ValidateTwilioSignature(signedRequest(t, target, "other", form), "secret", target))
	assert.False(t, ValidateTwilioSignature(signedRequest(t, target, "", form), "secret", target))
	assert.False(t, ValidateTwilioSignature(signedRequest(t, target, "secret", form), "secret", "https://elsewhere/webhooks/twilio"))
}

func TestBuildSignaturePayloadSortsKeys(t *testing.T) {
	got := buildSignaturePayload("https://x/y", url.Values{"To": {"b"}, "Body": {"a"}, "From": {"c"}})
	assert.Equal(t, "https://x/yBodyaFromcTob", got)
}

func TestParseTwilioWebhook(t *testing.T) {
	form := url.Values{
		"MessageSid":  {" SM1 "},
		"From":        {"whatsapp:+5511999990000"},
		"To":          {"whatsapp:+5511300000000"},
		"Body":        {"  quero marcar  "},
		"NumMedia":    {"1"},
		"ProfileName": {"Ana"},
		"WaId":        {"5511999990000"},
	}
	got, err := ParseTwilioWebhook(signedRequest(t, "https://x/webhooks/twilio", "", form))
	require.NoError(t, err)
	assert.Equal(t, "SM1", got.MessageSid)
	assert.Equal(t, "quero marcar", got.Body)
	assert.Equal(t, 1, got.NumMedia)
	assert.Equal(t, "Ana", got.ProfileName)
	assert.Equal(t, "5511999990000", got.WaID)

	for _, bad := range []string{"one", "-1"} {
		form.Set("NumMedia", bad)
		_, err = ParseTwilioWebhook(signedRequest(t, "https://x/webhooks/twilio", "", form))
		assert.Error(t, err, bad)
	}
}

func TestNormalizeContact(t *testing.T) {
	tests := map[string]string{
		"whatsapp:+5511999990000":       "whatsapp:+5511999990000",
		"WhatsApp: +55 (11) 99999-0000": "whatsapp:+5511999990000",
		" +55 11 99999-0000 ":           "+5511999990000",
		"5511999990000":                 "+5511999990000",
		"":                              "",
		"whatsapp:":                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeContact(in), in)
	}
	assert.True(t, IsWhatsApp("whatsapp:+5511999990000"))
	assert.False(t, IsWhatsApp("+5511999990000"))
}
