package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	existing := []Customer{
		{ID: "c-1", Name: "Ann Lee", Role: RoleAdmin},
		{ID: "c-2", Name: "Bob", Email: "bob@example.com", Role: RoleManager},
	}

	tests := []struct {
		name      string
		candidate Customer
		excludeID string
		want      FieldErrors
	}{
		{
			name:      "valid new customer",
			candidate: Customer{Name: "Carol", Email: "carol@example.com"},
			want:      FieldErrors{},
		},
		{
			name:      "empty name",
			candidate: Customer{Name: ""},
			want:      FieldErrors{FieldName: MsgNameRequired},
		},
		{
			name:      "whitespace name",
			candidate: Customer{Name: "   "},
			want:      FieldErrors{FieldName: MsgNameRequired},
		},
		{
			name:      "exactly 50 characters",
			candidate: Customer{Name: strings.Repeat("a", 50)},
			want:      FieldErrors{},
		},
		{
			name:      "51 characters",
			candidate: Customer{Name: strings.Repeat("a", 51)},
			want:      FieldErrors{FieldName: MsgNameTooLong},
		},
		{
			name:      "symbol in name",
			candidate: Customer{Name: "John@Doe"},
			want:      FieldErrors{FieldName: MsgNamePattern},
		},
		{
			name:      "digits in name",
			candidate: Customer{Name: "R2D2"},
			want:      FieldErrors{FieldName: MsgNamePattern},
		},
		{
			name:      "too long wins over pattern",
			candidate: Customer{Name: strings.Repeat("1", 51)},
			want:      FieldErrors{FieldName: MsgNameTooLong},
		},
		{
			name:      "duplicate name differs in case and spacing",
			candidate: Customer{Name: "  ann LEE "},
			want:      FieldErrors{FieldName: MsgNameDuplicate},
		},
		{
			name:      "edit keeps own name",
			candidate: Customer{ID: "c-1", Name: "Ann Lee"},
			excludeID: "c-1",
			want:      FieldErrors{},
		},
		{
			name:      "edit to another record's name",
			candidate: Customer{ID: "c-1", Name: "bob"},
			excludeID: "c-1",
			want:      FieldErrors{FieldName: MsgNameDuplicate},
		},
		{
			name:      "invalid email",
			candidate: Customer{Name: "Dave", Email: "dave@example"},
			want:      FieldErrors{FieldEmail: MsgEmailInvalid},
		},
		{
			name:      "whitespace email is absent",
			candidate: Customer{Name: "Dave", Email: "  "},
			want:      FieldErrors{},
		},
		{
			name:      "both fields invalid",
			candidate: Customer{Name: "", Email: "nope"},
			want:      FieldErrors{FieldName: MsgNameRequired, FieldEmail: MsgEmailInvalid},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.candidate, existing, tt.excludeID)
			if len(got) != len(tt.want) {
				t.Fatalf("Validate() = %v, want %v", got, tt.want)
			}
			for field, msg := range tt.want {
				if got[field] != msg {
					t.Errorf("Validate()[%q] = %q, want %q", field, got[field], msg)
				}
			}
		})
	}
}

func TestValidate_NameCountsCharacters(t *testing.T) {
	// Multi-byte letters still fail the pattern, but must not trip the length rule first.
	name := strings.Repeat("é", 30)
	got := Validate(Customer{Name: name}, nil, "")
	if got[FieldName] != MsgNamePattern {
		t.Errorf("Validate() name error = %q, want %q", got[FieldName], MsgNamePattern)
	}
}

func TestFieldErrors_Err(t *testing.T) {
	if err := (FieldErrors{}).Err(); err != nil {
		t.Errorf("empty FieldErrors.Err() = %v, want nil", err)
	}

	err := FieldErrors{FieldName: MsgNameRequired}.Err()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Err() = %T, want *ValidationError", err)
	}
	if verr.Fields[FieldName] != MsgNameRequired {
		t.Errorf("Fields[name] = %q, want %q", verr.Fields[FieldName], MsgNameRequired)
	}
	if !strings.Contains(err.Error(), "name: Name is required") {
		t.Errorf("Error() = %q, missing field message", err.Error())
	}
}
