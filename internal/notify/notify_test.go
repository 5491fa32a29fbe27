package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	r, err := NewRendererFromStrings(map[string]string{
		"sms_otp": "Your {{ .Brand }} OTP is {{ .OTP }}. Valid for {{ .ExpiryMinutes }} minutes.\n",
	})
	require.NoError(t, err, "Error parsing templates")

	out, err := r.Render("sms_otp", TplData{Brand: "Demo Store", OTP: "123456", ExpiryMinutes: 5})
	require.NoError(t, err, "Error rendering template")
	assert.Equal(t, "Your Demo Store OTP is 123456. Valid for 5 minutes.", string(out), "rendered body doesn't match")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRendererFromStrings(map[string]string{"sms_otp": "{{ .OTP }}"})
	require.NoError(t, err)

	_, err = r.Render("does_not_exist", TplData{})
	assert.Error(t, err, "unknown template should fail")
}

func TestTplName(t *testing.T) {
	assert.Equal(t, "sms_otp", tplName("/static/sms_otp.tpl"))
	assert.Equal(t, "email_otp", tplName("email_otp.tpl"))
	assert.Equal(t, "plain", tplName("plain"))
}
