// Package validate provides shared input validation for all Flicknest
// HTTP services.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ValidationError describes a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiError collects multiple validation errors for a single request.
type MultiError struct {
	Errors []ValidationError
}

// Add appends a validation error. If err is nil, Add is a no-op.
func (m *MultiError) Add(err error) {
	if err == nil {
		return
	}
	if ve, ok := err.(*ValidationError); ok {
		m.Errors = append(m.Errors, *ve)
	} else {
		m.Errors = append(m.Errors, ValidationError{Field: "request", Message: err.Error()})
	}
}

// HasErrors reports whether any errors have been collected.
func (m *MultiError) HasErrors() bool { return len(m.Errors) > 0 }

// Error returns a pipe-delimited summary of all errors.
func (m *MultiError) Error() string {
	parts := make([]string, len(m.Errors))
	for i, e := range m.Errors {
		parts[i] = e.Error()
	}
	return strings.Join(parts, " | ")
}

// NonEmptyString validates that value is not empty or whitespace-only.
func NonEmptyString(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "must not be empty"}
	}
	return nil
}

// MinLength validates that value contains at least min runes.
func MinLength(field, value string, min int) error {
	if utf8.RuneCountInString(value) < min {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at least %d characters", min)}
	}
	return nil
}

// MaxLength validates that value does not exceed max rune count.
func MaxLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must not exceed %d characters", max)}
	}
	return nil
}

var emailRE = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// IsEmail validates that value looks like an email address.
func IsEmail(field, value string) error {
	v := strings.TrimSpace(value)
	if len(v) > 254 || !emailRE.MatchString(v) {
		return &ValidationError{Field: field, Message: "must be a valid email address"}
	}
	return nil
}

// MediaTypes lists the playable media kinds accepted by the playback and
// wallet services. Order matches the catalog UI tabs.
var MediaTypes = []string{"movie", "tvseries", "episode", "trailer"}

// IsMediaType validates that value is one of the known media types.
func IsMediaType(field, value string) error {
	for _, mt := range MediaTypes {
		if value == mt {
			return nil
		}
	}
	return &ValidationError{Field: field, Message: "must be one of movie, tvseries, episode, trailer"}
}

// IsURL validates that value is a valid http(s) URL.
// Blocks private/localhost hosts unless allowLocal is set (SSRF guard;
// local hosts are legitimate for the internal streaming endpoint in dev).
func IsURL(field, value string, allowLocal bool) error {
	v := strings.TrimSpace(value)
	u, err := url.ParseRequestURI(v)
	if err != nil || u.Host == "" {
		return &ValidationError{Field: field, Message: "must be a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: field, Message: "must use http or https"}
	}
	if allowLocal {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	rawHost := strings.ToLower(u.Host)
	if host == "localhost" || host == "127.0.0.1" || host == "::1" ||
		strings.Contains(rawHost, "::") ||
		strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "192.168.") ||
		strings.HasPrefix(host, "172.") {
		return &ValidationError{Field: field, Message: "must not be a private/internal address"}
	}
	return nil
}

// IntInRange validates that value is within [min, max] inclusive.
func IntInRange(field string, value, min, max int) error {
	if value < min || value > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %d and %d", min, max)}
	}
	return nil
}

// PasswordPolicy validates minimum password strength: at least 10 chars,
// one letter and one digit. Kept deliberately simple; length carries most
// of the entropy.
func PasswordPolicy(field, value string) error {
	if utf8.RuneCountInString(value) < 10 {
		return &ValidationError{Field: field, Message: "must be at least 10 characters"}
	}
	var hasLetter, hasDigit bool
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
	}
	if !hasLetter || !hasDigit {
		return &ValidationError{Field: field, Message: "must contain at least one letter and one digit"}
	}
	return nil
}
