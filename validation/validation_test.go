package validation_test

import (
	"testing"

	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/sops-mcp/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nested struct {
	ID string `json:"id" validate:"required"`
}

type sample struct {
	Name    string   `json:"name" validate:"required"`
	Email   string   `json:"email" validate:"required,mailbox"`
	Level   string   `json:"level" validate:"oneof=low medium high"`
	Count   *int     `json:"count" validate:"required,between=1 20"`
	CC      []string `json:"cc" validate:"omitempty,dive,mailbox"`
	Items   []nested `json:"items" validate:"omitempty,dive"`
	private string
}

func intPtr(v int) *int { return &v }

func valid() sample {
	return sample{
		Name:  "name",
		Email: "a@b.com",
		Level: "low",
		Count: intPtr(5),
	}
}

func TestStruct(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name  string
		mod   func(s *sample)
		field string
		msg   string
	}{
		{
			name:  "required",
			mod:   func(s *sample) { s.Name = "" },
			field: "name",
			msg:   "name is required and cannot be empty",
		},
		{
			name:  "email",
			mod:   func(s *sample) { s.Email = "not-an-email" },
			field: "email",
			msg:   `invalid email address in email: "not-an-email"`,
		},
		{
			name:  "email_no_dot",
			mod:   func(s *sample) { s.Email = "a@b" },
			field: "email",
			msg:   `invalid email address in email: "a@b"`,
		},
		{
			name:  "enum",
			mod:   func(s *sample) { s.Level = "urgent-ish" },
			field: "level",
			msg:   `invalid level "urgent-ish": must be one of: low, medium, high`,
		},
		{
			name:  "enum_case",
			mod:   func(s *sample) { s.Level = "Low" },
			field: "level",
			msg:   `invalid level "Low": must be one of: low, medium, high`,
		},
		{
			name:  "range_high",
			mod:   func(s *sample) { s.Count = intPtr(21) },
			field: "count",
			msg:   "count must be between 1 and 20, got 21",
		},
		{
			name:  "range_zero",
			mod:   func(s *sample) { s.Count = intPtr(0) },
			field: "count",
			msg:   "count must be between 1 and 20, got 0",
		},
		{
			name:  "cc",
			mod:   func(s *sample) { s.CC = []string{"x@y.org", "broken"} },
			field: "cc",
			msg:   `invalid email address in cc: "broken"`,
		},
		{
			name:  "nested",
			mod:   func(s *sample) { s.Items = []nested{{ID: "1"}, {}} },
			field: "items[1].id",
			msg:   "items[1].id is required and cannot be empty",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			s := valid()
			tc.mod(&s)
			err := validation.Struct(&s)
			require.Error(t, err)

			te, ok := toolerr.As(err)
			require.True(t, ok)
			assert.Equal(t, toolerr.KindValidation, te.Kind)
			assert.Equal(t, tc.field, te.Field)
			assert.Equal(t, tc.msg, te.Message)
		})
	}

	s := valid()
	s.CC = []string{"x@y.org"}
	assert.NoError(t, validation.Struct(&s))
}

func TestTrimStrings(t *testing.T) {
	t.Parallel()

	s := sample{
		Name:    "  name \n",
		Email:   " a@b.com ",
		CC:      []string{" x@y.org", "   ", ""},
		Items:   []nested{{ID: " 1 "}},
		private: " keep ",
	}
	validation.TrimStrings(&s)
	assert.Equal(t, "name", s.Name)
	assert.Equal(t, "a@b.com", s.Email)
	assert.Equal(t, []string{"x@y.org", "", ""}, s.CC)
	assert.Equal(t, "1", s.Items[0].ID)
	assert.Equal(t, " keep ", s.private)

	// whitespace-only fails required after trimming
	s2 := valid()
	s2.Name = "   "
	validation.TrimStrings(&s2)
	assert.True(t, toolerr.IsKind(validation.Struct(&s2), toolerr.KindValidation))

	validation.TrimStrings(nil)
}

func TestIsEmail(t *testing.T) {
	t.Parallel()

	for _, e := range []string{"a@b.com", "first.last+tag@sub.example.org"} {
		assert.True(t, validation.IsEmail(e), e)
	}
	for _, e := range []string{"", "a@b", "@b.com", "a b@c.com", "a@@b.com"} {
		assert.False(t, validation.IsEmail(e), e)
	}
}
