package template

import (
	"bytes"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/yuin/goldmark"

	"github.com/xnovu/worker/api"
)

const (
	// maxEmailBodyBytes bounds a rendered email body.
	maxEmailBodyBytes = 100 * 1024

	// maxSMSRunes bounds an SMS body; longer bodies are truncated with a
	// final ellipsis.
	maxSMSRunes = 160
)

type (
	// ChannelContent is the channel-specific artifact produced from a
	// rendered template.
	ChannelContent struct {
		// Subject is set for EMAIL.
		Subject string
		// Body is the channel's primary payload.
		Body string
		// Text is the plain-text alternative for EMAIL when requested.
		Text string
		// Title is set for PUSH.
		Title string
	}

	// ChannelOptions tunes per-channel rendering.
	ChannelOptions struct {
		// SubjectPrefix is prepended to email subjects when set.
		SubjectPrefix string
		// GenerateText derives a plain-text version of email bodies.
		GenerateText bool
	}
)

// subjectLineRe extracts an inline subject from the first body line when no
// subject template exists.
var subjectLineRe = regexp.MustCompile(`(?i)^Subject:\s*(.+?)\n`)

var htmlToText = md.NewConverter("", true, nil)

// RenderChannel finalizes a rendered body and subject for the channel.
func RenderChannel(channel api.Channel, body, subject string, opts ChannelOptions) (ChannelContent, error) {
	switch channel {
	case api.ChannelEmail:
		return renderEmail(body, subject, opts)
	case api.ChannelInApp:
		return ChannelContent{Body: SanitizeInApp(body)}, nil
	case api.ChannelSMS:
		return ChannelContent{Body: renderSMS(body)}, nil
	case api.ChannelPush:
		return ChannelContent{Title: subject, Body: StripHTML(body)}, nil
	case api.ChannelChat:
		return renderChat(body)
	default:
		return ChannelContent{}, api.Errorf(api.KindValidation, "unknown channel %q", channel)
	}
}

func renderEmail(body, subject string, opts ChannelOptions) (ChannelContent, error) {
	if strings.Contains(strings.ToLower(body), "<script") {
		return ChannelContent{}, api.Errorf(api.KindValidation, "email body contains a script tag")
	}
	if subject == "" {
		if m := subjectLineRe.FindStringSubmatch(body); m != nil {
			subject = strings.TrimSpace(m[1])
			body = subjectLineRe.ReplaceAllString(body, "")
		}
	}
	if opts.SubjectPrefix != "" {
		subject = opts.SubjectPrefix + subject
	}
	if len(body) > maxEmailBodyBytes {
		return ChannelContent{}, api.Errorf(api.KindValidation,
			"email body of %d bytes exceeds the %d byte limit", len(body), maxEmailBodyBytes)
	}
	content := ChannelContent{Subject: subject, Body: body}
	if opts.GenerateText {
		text, err := htmlToText.ConvertString(body)
		if err != nil {
			// The HTML version still ships; a text alternative is best
			// effort.
			text = StripHTML(body)
		}
		content.Text = text
	}
	return content, nil
}

func renderSMS(body string) string {
	text := StripHTML(body)
	runes := []rune(text)
	if len(runes) <= maxSMSRunes {
		return text
	}
	return string(runes[:maxSMSRunes-1]) + "…"
}

func renderChat(body string) (ChannelContent, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		return ChannelContent{}, api.WrapError(api.KindTemplateMalformed, err, "render chat markdown")
	}
	return ChannelContent{Body: SanitizeInApp(buf.String())}, nil
}
