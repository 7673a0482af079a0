// Package validate checks user input against field descriptors and narrows it
// to typed schema values.
package validate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"skillbot/internal/schema"
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// MinPhoneDigits is the fewest digits a phone number may contain.
const MinPhoneDigits = 7

var dateLayouts = []string{
	schema.DateLayout,
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	time.RFC3339,
}

// FieldValue validates one raw value against the named field. It returns the
// narrowed value, or the first failing error message. Optional fields accept
// an empty value and yield a null Value.
func FieldValue(name string, raw any, fields schema.Registry) (schema.Value, string) {
	f, ok := fields[name]
	if !ok {
		return schema.Value{}, fmt.Sprintf("Unknown field: %s", name)
	}
	if v, ok := raw.(schema.Value); ok {
		raw = v.Interface()
	}

	if isEmpty(raw) {
		if f.Required {
			return schema.Value{}, fmt.Sprintf("%s is required", f.DisplayLabel())
		}
		return schema.Value{}, ""
	}

	v, msg := coerce(f, raw)
	if msg != "" {
		return schema.Value{}, msg
	}
	if msg := constraints(f, v); msg != "" {
		return schema.Value{}, msg
	}
	return v, ""
}

func isEmpty(raw any) bool {
	switch r := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(r) == ""
	}
	return false
}

func coerce(f schema.FieldDescriptor, raw any) (schema.Value, string) {
	label := f.DisplayLabel()
	switch f.Type {
	case schema.TypeEmail:
		s := strings.TrimSpace(toString(raw))
		if !emailRe.MatchString(s) {
			return schema.Value{}, "Invalid email format"
		}
		return schema.String(s), ""

	case schema.TypePhone:
		s := strings.TrimSpace(toString(raw))
		digits := 0
		for _, r := range s {
			switch {
			case r >= '0' && r <= '9':
				digits++
			case strings.ContainsRune(" +-().", r):
			default:
				return schema.Value{}, "Invalid phone number"
			}
		}
		if digits < MinPhoneDigits {
			return schema.Value{}, fmt.Sprintf("Phone number must contain at least %d digits", MinPhoneDigits)
		}
		return schema.String(s), ""

	case schema.TypeURL:
		s := strings.TrimSpace(toString(raw))
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return schema.Value{}, "Invalid URL"
		}
		return schema.String(s), ""

	case schema.TypeNumber, schema.TypeCurrency:
		n, ok := toNumber(raw, f.Type == schema.TypeCurrency)
		if !ok {
			return schema.Value{}, fmt.Sprintf("%s must be a number", label)
		}
		return schema.Number(n), ""

	case schema.TypeDate:
		if t, ok := raw.(time.Time); ok {
			return schema.Date(truncateDay(t)), ""
		}
		s := strings.TrimSpace(toString(raw))
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return schema.Date(truncateDay(t)), ""
			}
		}
		return schema.Value{}, fmt.Sprintf("%s must be a valid date (YYYY-MM-DD)", label)

	case schema.TypeSelect:
		opt, ok := MatchOption(f.Options, toString(raw))
		if !ok {
			return schema.Value{}, fmt.Sprintf("%s must be one of: %s", label, optionList(f.Options))
		}
		return schema.String(opt.Value), ""

	default:
		return schema.String(strings.TrimSpace(toString(raw))), ""
	}
}

func constraints(f schema.FieldDescriptor, v schema.Value) string {
	label := f.DisplayLabel()
	if v.Kind == schema.KindString {
		n := len([]rune(v.Str))
		if f.MinLength > 0 && n < f.MinLength {
			return fmt.Sprintf("%s must be at least %d characters", label, f.MinLength)
		}
		if f.MaxLength > 0 && n > f.MaxLength {
			return fmt.Sprintf("%s must be at most %d characters", label, f.MaxLength)
		}
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil || !re.MatchString(v.String()) {
			return fmt.Sprintf("%s has an invalid format", label)
		}
	}
	return ""
}

// MatchOption maps an answer to a select option by value, then label
// (case-insensitive), then 1-based option number.
func MatchOption(opts []schema.Option, answer string) (schema.Option, bool) {
	a := strings.TrimSpace(answer)
	for _, o := range opts {
		if strings.EqualFold(o.Value, a) {
			return o, true
		}
	}
	for _, o := range opts {
		if o.Label != "" && strings.EqualFold(o.Label, a) {
			return o, true
		}
	}
	if i, err := strconv.Atoi(a); err == nil && i >= 1 && i <= len(opts) {
		return opts[i-1], true
	}
	return schema.Option{}, false
}

func optionList(opts []schema.Option) string {
	names := make([]string, len(opts))
	for i, o := range opts {
		names[i] = o.Display()
	}
	return strings.Join(names, ", ")
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func toString(raw any) string {
	switch r := raw.(type) {
	case string:
		return r
	case fmt.Stringer:
		return r.String()
	case float64:
		return strconv.FormatFloat(r, 'f', -1, 64)
	default:
		return fmt.Sprint(r)
	}
}

func toNumber(raw any, currency bool) (float64, bool) {
	switch r := raw.(type) {
	case float64:
		return r, true
	case float32:
		return float64(r), true
	case int:
		return float64(r), true
	case int64:
		return float64(r), true
	case int32:
		return float64(r), true
	case json.Number:
		n, err := r.Float64()
		return n, err == nil
	case string:
		s := strings.TrimSpace(r)
		if currency {
			s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
		}
		n, err := strconv.ParseFloat(s, 64)
		return n, err == nil
	}
	return 0, false
}
