// Package validate holds the pure field validators for user-supplied form
// values. Every validator returns a nil error for acceptable input and a
// *FieldError describing the reason otherwise. Nothing here touches the
// database; uniqueness checks happen in the handlers against the store.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// FieldError carries the user-facing reason a field was rejected.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

var (
	usernameRe     = regexp.MustCompile(`^[a-z0-9]{1,35}$`)
	amountRe       = regexp.MustCompile(`^[0-9]+\.[0-9]{2}$`)
	nameRe         = regexp.MustCompile(`^[a-zA-Z'-]{1,50}$`)
	doubleDashRe   = regexp.MustCompile(`--`)
	addressRe      = regexp.MustCompile(`^[0-9a-zA-Z. ]{1,100}$`)
	cityRe         = regexp.MustCompile(`^[a-zA-Z',.\- ]{1,60}$`)
	stateCountryRe = regexp.MustCompile(`^[a-zA-Z ]{2,55}$`)
)

// OWASP special character set, same as the registration front end accepts.
const specialChars = " !\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Amount parses a monetary amount string. Only one-or-more digits, a
// decimal point and exactly two fractional digits are accepted; positivity
// is a business rule enforced by the caller, not a format rule.
func Amount(raw string) (decimal.Decimal, error) {
	if !amountRe.MatchString(raw) {
		return decimal.Zero, &FieldError{
			Field:  "change",
			Reason: "Amount must be a positive number with exactly two decimal places",
		}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &FieldError{Field: "change", Reason: "Amount is not a valid number"}
	}
	return d, nil
}

// Username checks shape only: alphanumeric, 1-35 characters,
// case-insensitive.
func Username(input string) error {
	if !usernameRe.MatchString(strings.ToLower(input)) {
		return &FieldError{
			Field:  "username",
			Reason: "Username must be alphanumeric and be between 1 and 35 characters in length",
		}
	}
	return nil
}

// Name validates a first or last name.
func Name(field, input string) error {
	if !nameRe.MatchString(input) {
		return &FieldError{
			Field:  field,
			Reason: `Name must be between 1 and 50 characters in length and contain only alphabetical symbols, "'" and "-"`,
		}
	}
	if doubleDashRe.MatchString(input) {
		return &FieldError{Field: field, Reason: `Name cannot contain consecutive "-"`}
	}
	return nil
}

// Address validates a street address.
func Address(input string) error {
	if !addressRe.MatchString(input) {
		return &FieldError{
			Field:  "street",
			Reason: `Address must be between 1 and 100 characters in length and contain only alphanumeric symbols and "."`,
		}
	}
	return nil
}

// City validates a city name.
func City(input string) error {
	if !cityRe.MatchString(input) {
		return &FieldError{
			Field:  "city",
			Reason: `City must be between 1 and 60 characters in length and contain only alphabetical symbols, "'", ",", ".", and "-"`,
		}
	}
	if doubleDashRe.MatchString(input) {
		return &FieldError{Field: "city", Reason: `City cannot contain consecutive "-"`}
	}
	return nil
}

// StateCountry validates a state or country name.
func StateCountry(field, input string) error {
	if !stateCountryRe.MatchString(input) {
		return &FieldError{
			Field:  field,
			Reason: "State/country must be between 2 and 55 characters in length and contain only alphabetical symbols",
		}
	}
	return nil
}

// hasTripleRepeat reports whether s contains the same character three
// times in a row. Case-sensitive, like the registration front end's
// check. Written as a scan because RE2 has no backreferences.
func hasTripleRepeat(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= 3 {
				return true
			}
		} else {
			prev, run = r, 1
		}
	}
	return false
}

// Password enforces the OWASP-derived complexity rules the original form
// promised: length 10-128, at least one lowercase, uppercase, digit and
// special character, and no three identical characters in a row.
func Password(pass string) error {
	var reasons []string
	if len(pass) < 10 || len(pass) > 128 {
		reasons = append(reasons, "Must be at least 10 characters in length and no longer than 128 characters")
	}
	if !strings.ContainsAny(pass, specialChars) {
		reasons = append(reasons, "Must contain at least one special character")
	}
	if !strings.ContainsAny(pass, "abcdefghijklmnopqrstuvwxyz") {
		reasons = append(reasons, "Must contain at least one lowercase letter")
	}
	if !strings.ContainsAny(pass, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		reasons = append(reasons, "Must contain at least one uppercase letter")
	}
	if !strings.ContainsAny(pass, "0123456789") {
		reasons = append(reasons, "Must contain at least one digit")
	}
	if hasTripleRepeat(pass) {
		reasons = append(reasons, "Must not contain 2 identical characters in a row")
	}
	if len(reasons) > 0 {
		return &FieldError{Field: "password", Reason: strings.Join(reasons, ";")}
	}
	return nil
}

// FieldValidators maps every registration form field to its validator.
// The map is built once at init and checked exhaustively by tests, instead
// of resolving validators by string key at request time.
var FieldValidators = map[string]func(string) error{
	"first_name":    func(v string) error { return Name("first_name", v) },
	"last_name":     func(v string) error { return Name("last_name", v) },
	"street":        Address,
	"city":          City,
	"country_state": func(v string) error { return StateCountry("country_state", v) },
	"country":       func(v string) error { return StateCountry("country", v) },
	"username":      Username,
	"password":      Password,
}
