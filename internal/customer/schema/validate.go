package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// NameMaxLength is the longest accepted name, in characters.
const NameMaxLength = 50

// Field names used as FieldErrors keys.
const (
	FieldName  = "name"
	FieldEmail = "email"
)

// Messages returned by Validate.
const (
	MsgNameRequired  = "Name is required"
	MsgNameTooLong   = "Name must not exceed 50 characters"
	MsgNamePattern   = "Name can only contain alphabets and spaces"
	MsgNameDuplicate = "A customer with this name already exists"
	MsgEmailInvalid  = "Please enter a valid email address"
)

var (
	namePattern  = regexp.MustCompile(`^[A-Za-z\s]+$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// FieldErrors maps a field name to a human-readable message.
// An empty map means the candidate is valid.
type FieldErrors map[string]string

// OK reports whether there are no field errors.
func (fe FieldErrors) OK() bool {
	return len(fe) == 0
}

// Err returns fe as a *ValidationError, or nil if there are no errors.
func (fe FieldErrors) Err() error {
	if fe.OK() {
		return nil
	}
	return &ValidationError{Fields: fe}
}

// ValidationError is returned when a candidate record fails validation.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewDuplicateNameError returns the validation error reported when a name is taken.
func NewDuplicateNameError() *ValidationError {
	return &ValidationError{Fields: FieldErrors{FieldName: MsgNameDuplicate}}
}

// ValidateName checks the name rules that don't depend on other records.
// Returns "" if the name is well-formed.
func ValidateName(name string) string {
	if strings.TrimSpace(name) == "" {
		return MsgNameRequired
	}
	if utf8.RuneCountInString(name) > NameMaxLength {
		return MsgNameTooLong
	}
	if !namePattern.MatchString(name) {
		return MsgNamePattern
	}
	return ""
}

// ValidateEmail checks an optional email. Returns "" if it is empty or well-formed.
func ValidateEmail(email string) string {
	if strings.TrimSpace(email) == "" {
		return ""
	}
	if !emailPattern.MatchString(email) {
		return MsgEmailInvalid
	}
	return ""
}

// Validate checks a candidate for well-formedness and name uniqueness against
// existing. The record whose ID equals excludeID is skipped in the uniqueness
// check, so an edit does not collide with itself.
func Validate(c Customer, existing []Customer, excludeID string) FieldErrors {
	errs := FieldErrors{}

	if msg := ValidateName(c.Name); msg != "" {
		errs[FieldName] = msg
	} else if nameTaken(c.Name, existing, excludeID) {
		errs[FieldName] = MsgNameDuplicate
	}

	if msg := ValidateEmail(c.Email); msg != "" {
		errs[FieldEmail] = msg
	}

	return errs
}

func nameTaken(name string, existing []Customer, excludeID string) bool {
	key := NormalizeName(name)
	for i := range existing {
		if excludeID != "" && existing[i].ID == excludeID {
			continue
		}
		if existing[i].NameKey() == key {
			return true
		}
	}
	return false
}
