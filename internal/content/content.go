package content

import (
	"bytes"
	"errors"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy        = bluemonday.UGCPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	// The service only accepts gmail addresses, matching the signup flow.
	emailRegex = regexp.MustCompile(`^[^@\s]+@gmail\.com$`)

	md = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

// ForbiddenWords is the fixed list applied to every outgoing text message.
// Replacement follows list order over the already-partially-masked string.
var ForbiddenWords = []string{"spam", "abuse", "hate", "toxic", "scam", "badword1", "badword2"}

var forbiddenPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(ForbiddenWords))
	for i, w := range ForbiddenWords {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return patterns
}()

// ApplyWordFilter replaces whole-word, case-insensitive occurrences of each
// forbidden word with an equal-length run of '*'. Substrings inside larger
// words (e.g. "spammer") are left untouched.
func ApplyWordFilter(text string) string {
	for i, re := range forbiddenPatterns {
		mask := strings.Repeat("*", len(ForbiddenWords[i]))
		text = re.ReplaceAllString(text, mask)
	}
	return text
}

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for sanitizing user inputs like usernames and messages.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// RenderMarkdown converts message text to sanitized HTML for delivery.
// On a conversion failure it falls back to the escaped plain text.
func RenderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return Escape(text)
	}
	return policy.Sanitize(buf.String())
}

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// ValidateEmail checks the address against the accepted domain.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(strings.ToLower(email)) {
		return errors.New("a valid @gmail.com address is required")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < 3 {
		return errors.New("password must be at least 3 characters")
	}
	return nil
}
