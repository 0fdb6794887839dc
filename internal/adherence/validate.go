package adherence

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var hhmmRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return hhmmRe.MatchString(fl.Field().String())
	}); err != nil {
		panic("register hhmm validation: " + err.Error())
	}
	return v
}

// ValidTime reports whether s is a zero-padded 24h "HH:MM".
func ValidTime(s string) bool {
	return hhmmRe.MatchString(s)
}

func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, invalid("date", "expected YYYY-MM-DD, got "+s)
	}
	return d, nil
}

func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(strings.ToLower(fe.Field()), "failed "+fe.Tag())
	}
	return invalid("", err.Error())
}

func normalizeMedication(m *Medication) {
	m.Name = strings.TrimSpace(m.Name)
	m.Dosage = strings.TrimSpace(m.Dosage)
	m.Instructions = strings.TrimSpace(m.Instructions)
	freq := make([]string, 0, len(m.Frequency))
	for _, t := range m.Frequency {
		freq = append(freq, strings.TrimSpace(t))
	}
	sort.Strings(freq)
	m.Frequency = freq
}

func validateMedication(m *Medication) error {
	normalizeMedication(m)
	return checkStruct(m)
}

func validatePatient(p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if p.Conditions == nil {
		p.Conditions = []string{}
	}
	return checkStruct(p)
}

func validateRange(start, end string) error {
	s, err := ParseDate(start)
	if err != nil {
		return invalid("start", err.(*ValidationError).Msg)
	}
	e, err := ParseDate(end)
	if err != nil {
		return invalid("end", err.(*ValidationError).Msg)
	}
	if s.After(e) {
		return invalid("start", "must not be after end")
	}
	return nil
}
