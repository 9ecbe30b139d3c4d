package service

import (
	"bytes"
	_ "embed"
	"fmt"
	htmltemplate "html/template"
	"sync"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"

	"lead-relay/config"
	"lead-relay/models"
)

//go:embed templates/lead.html
var leadTemplate string

var (
	htmlTpl = htmltemplate.Must(htmltemplate.New("lead").Parse(leadTemplate))
	textTpl = texttemplate.Must(texttemplate.New("lead").Parse(leadTemplate))

	strictPolicy *bluemonday.Policy
	policyOnce   sync.Once
)

func sanitize(s string) string {
	policyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy.Sanitize(s)
}

// renderBody fills the notification template according to mode:
// escape auto-escapes every field, sanitize strips markup with a strict
// policy, raw embeds the fields verbatim.
func renderBody(mode string, sub models.Submission) (string, error) {
	var buf bytes.Buffer

	switch mode {
	case config.BodyModeEscape, "":
		if err := htmlTpl.Execute(&buf, sub); err != nil {
			return "", fmt.Errorf("render body: %w", err)
		}
	case config.BodyModeSanitize:
		clean := models.Submission{
			Name:           sanitize(sub.Name),
			Email:          sanitize(sub.Email),
			WhatsApp:       sanitize(sub.WhatsApp),
			Destination:    sanitize(sub.Destination),
			ReferralSource: sanitize(sub.ReferralSource),
		}
		if err := textTpl.Execute(&buf, clean); err != nil {
			return "", fmt.Errorf("render body: %w", err)
		}
	case config.BodyModeRaw:
		if err := textTpl.Execute(&buf, sub); err != nil {
			return "", fmt.Errorf("render body: %w", err)
		}
	default:
		return "", fmt.Errorf("render body: unknown body mode %q", mode)
	}

	return buf.String(), nil
}
