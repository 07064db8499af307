package validation

import (
	"strings"
	"testing"
)

func TestIsValidUserID(t *testing.T) {
	valid := []string{"farmer-123", "transporter_42", "usr9", "a1b"}
	for _, id := range valid {
		if !IsValidUserID(id) {
			t.Errorf("IsValidUserID(%q) = false, want true", id)
		}
	}

	invalid := []string{"", "ab", "-leading", strings.Repeat("x", 65), "has space", "weird!chars"}
	for _, id := range invalid {
		if IsValidUserID(id) {
			t.Errorf("IsValidUserID(%q) = true, want false", id)
		}
	}
}

func TestIsValidPhone(t *testing.T) {
	valid := []string{
		"+250788123456",
		"250788123456",
		"0788123456",
		"0722123456",
		"0733123456",
		"0792123456",
	}
	for _, p := range valid {
		if !IsValidPhone(p) {
			t.Errorf("IsValidPhone(%q) = false, want true", p)
		}
	}

	invalid := []string{
		"",
		"078812345",     // too short
		"07881234567",   // too long
		"+250712345678", // 071x is not a mobile prefix
		"+254788123456", // wrong country
		"not-a-phone",
	}
	for _, p := range invalid {
		if IsValidPhone(p) {
			t.Errorf("IsValidPhone(%q) = true, want false", p)
		}
	}
}

func TestIsValidAmount(t *testing.T) {
	valid := []string{"5000", "1500.50", "0.01"}
	for _, a := range valid {
		if !IsValidAmount(a) {
			t.Errorf("IsValidAmount(%q) = false, want true", a)
		}
	}

	invalid := []string{"", "0", "0.00", "-100", "abc", "1.2.3"}
	for _, a := range invalid {
		if IsValidAmount(a) {
			t.Errorf("IsValidAmount(%q) = true, want false", a)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello  ", 100); got != "hello" {
		t.Errorf("SanitizeString trim = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString truncate = %q", got)
	}
	if got := SanitizeString("a\x00b", 100); got != "ab" {
		t.Errorf("SanitizeString null bytes = %q", got)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("farmerId", ""),
		ValidAmount("amount", "-5"),
		ValidPhone("phone", "+250788123456"),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %+v", len(errs), errs)
	}
	if errs[0].Field != "farmerId" || errs[1].Field != "amount" {
		t.Errorf("unexpected error fields: %+v", errs)
	}
	if !strings.Contains(errs.Error(), "farmerId") {
		t.Errorf("Error() = %q", errs.Error())
	}
}

func TestValidate_OptionalFieldsSkipEmpty(t *testing.T) {
	errs := Validate(
		ValidUserID("userId", ""),
		ValidPhone("phone", ""),
		ValidAmount("amount", ""),
	)
	if len(errs) != 0 {
		t.Fatalf("empty optional fields should pass, got %+v", errs)
	}
}

func TestMaxLength(t *testing.T) {
	if err := MaxLength("note", strings.Repeat("x", 11), 10)(); err == nil {
		t.Error("expected error for over-length value")
	}
	if err := MaxLength("note", "short", 10)(); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
}
