// Package validation checks lead-capture submissions before they are relayed.
package validation

import (
	"regexp"
	"strings"
	"unicode"

	"lead-relay/models"
)

// User-visible rejection messages.
const (
	MsgName           = "Nome é obrigatório e deve ser uma string válida."
	MsgEmail          = "Email é obrigatório e deve ser um email válido."
	MsgWhatsApp       = "WhatsApp é obrigatório e deve ser uma string válida."
	MsgDestination    = "Destino desejado é obrigatório e deve ser um texto válido."
	MsgReferralSource = "Por onde nos encontrou é obrigatório e deve ser um texto válido."
)

// emailPattern accepts local@domain.suffix where no part contains '@' or
// whitespace. Whitespace covers \s, \v, every Unicode Z* separator and the
// BOM. Consecutive dots and similar RFC violations are accepted.
var emailPattern = regexp.MustCompile(`^[^\s\v\p{Z}\x{FEFF}@]+@[^\s\v\p{Z}\x{FEFF}@]+\.[^\s\v\p{Z}\x{FEFF}@]+$`)

// ValidationError is a client-caused rejection of a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type rule struct {
	field   string
	message string
	valid   func(v any, present bool) bool
}

// Evaluated in order; the first failure wins.
var rules = []rule{
	{models.FieldName, MsgName, nonBlankText},
	{models.FieldEmail, MsgEmail, emailShaped},
	{models.FieldWhatsApp, MsgWhatsApp, nonBlankText},
	{models.FieldDestination, MsgDestination, nonBlankText},
	{models.FieldReferralSource, MsgReferralSource, nonBlankText},
}

// Validate returns nil when in is acceptable, otherwise a *ValidationError
// for the first failing field in the order nome, email, zap, destination,
// quest.
func Validate(in models.Input) error {
	for _, r := range rules {
		v, present := in[r.field]
		if !r.valid(v, present) {
			return &ValidationError{Field: r.field, Message: r.message}
		}
	}
	return nil
}

// ValidEmail reports whether s has the loose local@domain.tld shape.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

func nonBlankText(v any, present bool) bool {
	if !present {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return trim(s) != ""
}

func emailShaped(v any, present bool) bool {
	if !present {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return ValidEmail(s)
}

// trim strips the same set the email pattern treats as whitespace: tab, line
// feed, vertical tab, form feed, carriage return, the Zs separators, U+2028,
// U+2029 and the BOM. U+0085 is not in the set.
func trim(s string) string {
	return strings.TrimFunc(s, isBlank)
}

func isBlank(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', '\u2028', '\u2029', '\uFEFF':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}
