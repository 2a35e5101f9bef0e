package validate

import "testing"

func TestAmount(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"10.00", true},
		{"0.00", true}, // format-valid; positivity is a business rule
		{"12.34", true},
		{"1234567.89", true},
		{"10", false},
		{"10.1", false},
		{"10.123", false},
		{"-5.00", false},
		{"+5.00", false},
		{"abc", false},
		{"", false},
		{"10.00 ", false},
		{"1e2.00", false},
	}

	for _, tc := range cases {
		d, err := Amount(tc.in)
		if tc.valid && err != nil {
			t.Errorf("Amount(%q) unexpected error: %v", tc.in, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("Amount(%q) accepted, want rejection", tc.in)
		}
		if tc.valid && d.StringFixed(2) != tc.in {
			t.Errorf("Amount(%q) parsed as %s", tc.in, d.StringFixed(2))
		}
	}
}

func TestUsername(t *testing.T) {
	for _, ok := range []string{"alice", "Bob42", "a", "abcdefghijklmnopqrstuvwxyz123456789"} {
		if err := Username(ok); err != nil {
			t.Errorf("Username(%q) rejected: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "has space", "under_score", "waytoolongusernamewaytoolongusernamex", "émile"} {
		if err := Username(bad); err == nil {
			t.Errorf("Username(%q) accepted", bad)
		}
	}
}

func TestName(t *testing.T) {
	if err := Name("first_name", "O'Neil-Smith"); err != nil {
		t.Errorf("rejected valid name: %v", err)
	}
	if err := Name("first_name", "bad--dash"); err == nil {
		t.Error("accepted consecutive dashes")
	}
	if err := Name("first_name", "no spaces"); err == nil {
		t.Error("accepted space in name")
	}
}

func TestCity(t *testing.T) {
	if err := City("St. John's-on-Sea"); err != nil {
		t.Errorf("rejected valid city: %v", err)
	}
	if err := City("bad--city"); err == nil {
		t.Error("accepted consecutive dashes")
	}
	if err := City("city9"); err == nil {
		t.Error("accepted digit in city")
	}
}

func TestStateCountry(t *testing.T) {
	if err := StateCountry("country", "New South Wales"); err != nil {
		t.Errorf("rejected valid region: %v", err)
	}
	if err := StateCountry("country", "X"); err == nil {
		t.Error("accepted single character")
	}
	if err := StateCountry("country", "U.S.A."); err == nil {
		t.Error("accepted punctuation")
	}
}

func TestPassword(t *testing.T) {
	if err := Password("Str0ng!pass"); err != nil {
		t.Errorf("rejected valid password: %v", err)
	}
	// The repeat check is case-sensitive: A, a, a is not a triple.
	if err := Password("Aaa1!bcdef"); err != nil {
		t.Errorf("rejected mixed-case near-triple: %v", err)
	}

	bad := map[string]string{
		"short":          "Ab1!x",
		"no special":     "Abcdefgh12",
		"no lowercase":   "ABCDEFGH1!",
		"no uppercase":   "abcdefgh1!",
		"no digit":       "Abcdefghi!",
		"triple letter":  "Aaaa1!bcde",
		"triple digit":   "Abc111!def",
		"triple special": "Abc1!!!def",
	}
	for name, pass := range bad {
		if err := Password(pass); err == nil {
			t.Errorf("%s: Password(%q) accepted", name, pass)
		}
	}
}

// Every registration field must have a validator bound at init; a form
// field with no entry would silently skip validation.
func TestFieldValidatorsComplete(t *testing.T) {
	fields := []string{
		"first_name", "last_name", "street", "city",
		"country_state", "country", "username", "password",
	}
	if len(FieldValidators) != len(fields) {
		t.Fatalf("expected %d validators, got %d", len(fields), len(FieldValidators))
	}
	for _, f := range fields {
		if FieldValidators[f] == nil {
			t.Errorf("no validator bound for field %q", f)
		}
	}
}
