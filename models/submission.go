package models

// Form keys posted by the landing page.
const (
	FieldName           = "nome"
	FieldEmail          = "email"
	FieldWhatsApp       = "zap"
	FieldDestination    = "destination"
	FieldReferralSource = "quest"
)

// Input is a decoded request body before validation. Values keep whatever
// type the client sent: JSON numbers stay float64, repeated form keys
// become []string.
type Input map[string]any

// String returns the value at key when it is a string.
func (in Input) String(key string) (string, bool) {
	v, ok := in[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Submission is a validated lead-capture form.
type Submission struct {
	Name           string `json:"nome"`
	Email          string `json:"email"`
	WhatsApp       string `json:"zap"`
	Destination    string `json:"destination"`
	ReferralSource string `json:"quest"`
}

// SubmissionFromInput copies the string fields of in. Values are taken as
// sent, without trimming.
func SubmissionFromInput(in Input) Submission {
	var s Submission
	s.Name, _ = in.String(FieldName)
	s.Email, _ = in.String(FieldEmail)
	s.WhatsApp, _ = in.String(FieldWhatsApp)
	s.Destination, _ = in.String(FieldDestination)
	s.ReferralSource, _ = in.String(FieldReferralSource)
	return s
}
