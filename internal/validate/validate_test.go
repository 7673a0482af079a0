package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillbot/internal/schema"
)

func fields() schema.Registry {
	s := schema.ActionSchema{Fields: []schema.FieldDescriptor{
		{Name: "name", Label: "Name", Type: schema.TypeText, Required: true, MinLength: 2, MaxLength: 10},
		{Name: "email", Label: "Email", Type: schema.TypeEmail},
		{Name: "phone", Label: "Phone", Type: schema.TypePhone},
		{Name: "site", Label: "Website", Type: schema.TypeURL},
		{Name: "amount", Label: "Amount", Type: schema.TypeCurrency},
		{Name: "count", Label: "Count", Type: schema.TypeNumber, Pattern: `^[0-9]+$`},
		{Name: "close", Label: "Close Date", Type: schema.TypeDate},
		{Name: "stage", Label: "Stage", Type: schema.TypeSelect, Options: []schema.Option{
			{Value: "open", Label: "Open"}, {Value: "won", Label: "Closed Won"},
		}},
		{Name: "code", Label: "Code", Type: schema.TypeText, Pattern: `^[A-Z]{3}$`},
	}}
	return s.Registry()
}

func TestFieldValue(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		raw     any
		want    schema.Value
		wantErr string
	}{
		{"required empty", "name", "  ", schema.Value{}, "Name is required"},
		{"required nil", "name", nil, schema.Value{}, "Name is required"},
		{"optional empty", "email", "", schema.Value{}, ""},
		{"text trimmed", "name", " Acme ", schema.String("Acme"), ""},
		{"too short", "name", "A", schema.Value{}, "Name must be at least 2 characters"},
		{"too long", "name", "Acme Corporation", schema.Value{}, "Name must be at most 10 characters"},
		{"email ok", "email", "a@b.co", schema.String("a@b.co"), ""},
		{"email bad", "email", "not-an-email", schema.Value{}, "Invalid email format"},
		{"phone ok", "phone", "+1 (555) 010-2030", schema.String("+1 (555) 010-2030"), ""},
		{"phone short", "phone", "555-12", schema.Value{}, "Phone number must contain at least 7 digits"},
		{"phone letters", "phone", "call me", schema.Value{}, "Invalid phone number"},
		{"url ok", "site", "https://acme.com", schema.String("https://acme.com"), ""},
		{"url no scheme", "site", "acme.com", schema.Value{}, "Invalid URL"},
		{"currency string", "amount", "$25,000", schema.Number(25000), ""},
		{"currency float", "amount", 12.5, schema.Number(12.5), ""},
		{"number int", "count", 4, schema.Number(4), ""},
		{"number bad", "count", "four", schema.Value{}, "Count must be a number"},
		{"number pattern", "count", "4.5", schema.Value{}, "Count has an invalid format"},
		{"date iso", "close", "2026-12-31", schema.Date(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)), ""},
		{"date long", "close", "December 31, 2026", schema.Date(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)), ""},
		{"date bad", "close", "someday", schema.Value{}, "Close Date must be a valid date (YYYY-MM-DD)"},
		{"select value", "stage", "won", schema.String("won"), ""},
		{"select label", "stage", "closed won", schema.String("won"), ""},
		{"select number", "stage", "1", schema.String("open"), ""},
		{"select miss", "stage", "lost", schema.Value{}, "Stage must be one of: Open, Closed Won"},
		{"pattern ok", "code", "ABC", schema.String("ABC"), ""},
		{"pattern bad", "code", "abc", schema.Value{}, "Code has an invalid format"},
		{"unknown", "nope", "x", schema.Value{}, "Unknown field: nope"},
	}
	reg := fields()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := FieldValue(tt.field, tt.raw, reg)
			assert.Equal(t, tt.wantErr, msg)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFieldValueMonotonic(t *testing.T) {
	reg := fields()
	inputs := map[string]any{
		"name":   "Acme",
		"email":  "a@b.co",
		"phone":  "555 010 2030",
		"site":   "https://acme.com",
		"amount": "$1,200.50",
		"count":  "7",
		"close":  "Jan 2, 2026",
		"stage":  "Closed Won",
		"code":   "XYZ",
	}
	for name, raw := range inputs {
		first, msg := FieldValue(name, raw, reg)
		require.Empty(t, msg, name)

		again, msg := FieldValue(name, first, reg)
		assert.Empty(t, msg, name)
		assert.Equal(t, first, again, name)

		plain, msg := FieldValue(name, first.Interface(), reg)
		assert.Empty(t, msg, name)
		assert.Equal(t, first, plain, name)
	}
}

func TestEntityDataCreate(t *testing.T) {
	reg := fields()
	values, errs := EntityData(map[string]any{
		"name":    "Acme",
		"email":   "bad",
		"phone":   "12",
		"id":      "ignored",
		"unknown": "ignored",
	}, reg, []string{"name"}, []string{"id"}, schema.OpCreate)

	assert.Nil(t, values)
	assert.Equal(t, map[string]string{
		"email": "Invalid email format",
		"phone": "Phone number must contain at least 7 digits",
	}, errs)
}

func TestEntityDataRequiredOnlyOnCreate(t *testing.T) {
	reg := fields()

	_, errs := EntityData(map[string]any{"email": "a@b.co"}, reg, []string{"name"}, nil, schema.OpCreate)
	assert.Equal(t, map[string]string{"name": "Name is required"}, errs)

	values, errs := EntityData(map[string]any{"email": "a@b.co"}, reg, []string{"name"}, nil, schema.OpUpdate)
	assert.Empty(t, errs)
	assert.Equal(t, schema.Values{"email": schema.String("a@b.co")}, values)
}

func TestEntityDataSkipsSystemFields(t *testing.T) {
	reg := fields()
	values, errs := EntityData(map[string]any{"name": "Acme", "code": "bad"}, reg, []string{"name"}, []string{"code"}, schema.OpCreate)
	assert.Empty(t, errs)
	assert.Equal(t, schema.Values{"name": schema.String("Acme")}, values)
}

func TestSchemaHelper(t *testing.T) {
	s := schema.ActionSchema{
		Operation: schema.OpCreate,
		Fields:    []schema.FieldDescriptor{{Name: "name", Type: schema.TypeText, Required: true}},
	}
	values, errs := Schema(s, map[string]any{"name": "Acme"})
	assert.Empty(t, errs)
	assert.Equal(t, "Acme", values["name"].Str)
}
