package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xnovu/worker/api"
)

func TestRenderChannelEmail(t *testing.T) {
	content, err := RenderChannel(api.ChannelEmail, "<p>Hello</p>", "Weekly digest", ChannelOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Weekly digest", content.Subject)
	assert.Equal(t, "<p>Hello</p>", content.Body)
	assert.Empty(t, content.Text)
}

func TestRenderChannelEmailInlineSubject(t *testing.T) {
	body := "Subject: Order shipped\n<p>Your order is on its way.</p>"
	content, err := RenderChannel(api.ChannelEmail, body, "", ChannelOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Order shipped", content.Subject)
	assert.Equal(t, "<p>Your order is on its way.</p>", content.Body)
}

func TestRenderChannelEmailSubjectPrefix(t *testing.T) {
	content, err := RenderChannel(api.ChannelEmail, "<p>x</p>", "Digest", ChannelOptions{SubjectPrefix: "[Acme] "})
	require.NoError(t, err)
	assert.Equal(t, "[Acme] Digest", content.Subject)
}

func TestRenderChannelEmailRejectsScript(t *testing.T) {
	_, err := RenderChannel(api.ChannelEmail, "<p>x</p><script>alert(1)</script>", "s", ChannelOptions{})
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindValidation))
}

func TestRenderChannelEmailRejectsOversizedBody(t *testing.T) {
	body := strings.Repeat("a", maxEmailBodyBytes+1)
	_, err := RenderChannel(api.ChannelEmail, body, "s", ChannelOptions{})
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindValidation))
}

func TestRenderChannelEmailTextVersion(t *testing.T) {
	content, err := RenderChannel(api.ChannelEmail,
		"<h1>Hi</h1><p>See <a href=\"https://example.com\">the docs</a>.</p>",
		"s", ChannelOptions{GenerateText: true})
	require.NoError(t, err)
	assert.NotEmpty(t, content.Text)
	assert.NotContains(t, content.Text, "<p>")
	assert.Contains(t, content.Text, "Hi")
	assert.Contains(t, content.Text, "https://example.com")
}

func TestRenderChannelInApp(t *testing.T) {
	content, err := RenderChannel(api.ChannelInApp, `<p>hi</p><script>alert(1)</script>`, "", ChannelOptions{})
	require.NoError(t, err)
	assert.Contains(t, content.Body, "<p>hi</p>")
	assert.NotContains(t, strings.ToLower(content.Body), "<script")
}

func TestRenderChannelSMS(t *testing.T) {
	content, err := RenderChannel(api.ChannelSMS, "<p>Your code is <b>1234</b></p>", "", ChannelOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Your code is 1234", content.Body)
}

func TestRenderChannelSMSTruncates(t *testing.T) {
	content, err := RenderChannel(api.ChannelSMS, strings.Repeat("ü", 200), "", ChannelOptions{})
	require.NoError(t, err)
	runes := []rune(content.Body)
	assert.Len(t, runes, maxSMSRunes)
	assert.Equal(t, '…', runes[len(runes)-1])
}

func TestRenderChannelSMSShortBodyUntouched(t *testing.T) {
	content, err := RenderChannel(api.ChannelSMS, "short", "", ChannelOptions{})
	require.NoError(t, err)
	assert.Equal(t, "short", content.Body)
}

func TestRenderChannelPush(t *testing.T) {
	content, err := RenderChannel(api.ChannelPush, "<p>New <b>message</b></p>", "Inbox", ChannelOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Inbox", content.Title)
	assert.Equal(t, "New message", content.Body)
}

func TestRenderChannelChat(t *testing.T) {
	content, err := RenderChannel(api.ChannelChat, "# Update\n\nDeploy **done**.", "", ChannelOptions{})
	require.NoError(t, err)
	assert.Contains(t, content.Body, "<h1>Update</h1>")
	assert.Contains(t, content.Body, "<strong>done</strong>")
	assertInAppSafe(t, content.Body)
}

func TestRenderChannelUnknown(t *testing.T) {
	_, err := RenderChannel(api.Channel("FAX"), "x", "", ChannelOptions{})
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindValidation))
}
