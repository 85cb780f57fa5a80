package content

import (
	"strings"
	"testing"
)

func TestApplyWordFilter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean text untouched", "hello world", "hello world"},
		{"single word masked", "this is spam", "this is ****"},
		{"case insensitive", "SPAM and Spam", "**** and ****"},
		{"mask length matches word", "pure hate here", "pure **** here"},
		{"substring not masked", "spammer is fine", "spammer is fine"},
		{"multiple words", "toxic scam abuse", "***** **** *****"},
		{"punctuation boundary", "spam, really?", "****, really?"},
		{"longer word", "badword1 stays out", "******** stays out"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyWordFilter(tc.in)
			if got != tc.want {
				t.Errorf("ApplyWordFilter(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	got := Sanitize(`hello <script>alert("x")</script> world`)
	if strings.Contains(got, "<script>") {
		t.Errorf("Sanitize left script tag in place: %q", got)
	}
	if !strings.Contains(got, "hello") || !strings.Contains(got, "world") {
		t.Errorf("Sanitize dropped plain text: %q", got)
	}
}

func TestRenderMarkdown(t *testing.T) {
	got := RenderMarkdown("some **bold** text")
	if !strings.Contains(got, "<strong>bold</strong>") {
		t.Errorf("expected bold markup, got %q", got)
	}

	got = RenderMarkdown(`[click](javascript:alert(1))`)
	if strings.Contains(got, "javascript:") {
		t.Errorf("javascript link survived sanitizing: %q", got)
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"alice", "bob_99", "Luna_Dev", "a.b-c"}
	for _, u := range valid {
		if err := ValidateUsername(u); err != nil {
			t.Errorf("ValidateUsername(%q) = %v, want nil", u, err)
		}
	}

	invalid := []string{"", "with space", "<tag>", "семен"}
	for _, u := range invalid {
		if err := ValidateUsername(u); err == nil {
			t.Errorf("ValidateUsername(%q) = nil, want error", u)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail("user@gmail.com"); err != nil {
		t.Errorf("expected valid email, got %v", err)
	}
	if err := ValidateEmail("User@Gmail.Com"); err != nil {
		t.Errorf("expected case-insensitive match, got %v", err)
	}

	invalid := []string{"", "user@example.com", "@gmail.com", "user gmail.com"}
	for _, e := range invalid {
		if err := ValidateEmail(e); err == nil {
			t.Errorf("ValidateEmail(%q) = nil, want error", e)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("123"); err != nil {
		t.Errorf("three characters should pass, got %v", err)
	}
	if err := ValidatePassword("12"); err == nil {
		t.Error("two characters should fail")
	}
}
