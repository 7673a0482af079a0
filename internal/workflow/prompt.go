package workflow

import (
	"fmt"
	"sort"
	"strings"

	"skillbot/internal/domain"
	"skillbot/internal/schema"
)

// Question renders the prompt for a field.
func Question(f schema.FieldDescriptor, p Progress) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d/%d)", f.DisplayLabel(), p.Answered, p.Total)
	if f.Description != "" {
		sb.WriteString("\n" + f.Description)
	}
	if f.Type == schema.TypeSelect {
		sb.WriteString("\nChoose one:")
		for i, o := range f.Options {
			fmt.Fprintf(&sb, "\n%d. %s", i+1, o.Display())
		}
	} else if f.Placeholder != "" {
		sb.WriteString("\ne.g. " + f.Placeholder)
	}
	return sb.String()
}

// FieldError renders a validation error followed by the same question.
func FieldError(f schema.FieldDescriptor, p Progress, msg string) string {
	return msg + ". Please try again.\n\n" + Question(f, p)
}

func introduction(s schema.ActionSchema) string {
	return fmt.Sprintf("Let's %s. Type \"cancel\" at any time to stop.", strings.ToLower(s.Name))
}

func entityLabel(s schema.ActionSchema) string {
	for _, prefix := range []string{"Create ", "Update ", "Delete ", "Show "} {
		if label, ok := strings.CutPrefix(s.Name, prefix); ok {
			return strings.ToLower(label)
		}
	}
	return s.Entity
}

// Cancelled is the neutral acknowledgement of a cancelled form.
func Cancelled(s schema.ActionSchema) string {
	return fmt.Sprintf("Okay, I've stopped the %s form. Nothing was saved.", entityLabel(s))
}

// Summary lists the collected values in field order.
func Summary(s schema.ActionSchema, values schema.Values) string {
	var lines []string
	seen := make(map[string]bool)
	for _, f := range s.Fields {
		if v, ok := values[f.Name]; ok && !v.IsEmpty() {
			lines = append(lines, fmt.Sprintf("- %s: %s", f.DisplayLabel(), display(f, v)))
			seen[f.Name] = true
		}
	}
	var extra []string
	for name, v := range values {
		if !seen[name] && !v.IsEmpty() {
			extra = append(extra, fmt.Sprintf("- %s: %s", name, v.String()))
		}
	}
	sort.Strings(extra)
	return strings.Join(append(lines, extra...), "\n")
}

func display(f schema.FieldDescriptor, v schema.Value) string {
	if f.Type == schema.TypeSelect {
		for _, o := range f.Options {
			if o.Value == v.Str {
				return o.Display()
			}
		}
	}
	return v.String()
}

// Completed renders the reply for a finished form. optimistic is true when the
// submission is still running.
func Completed(s schema.ActionSchema, values schema.Values, optimistic bool) string {
	label := entityLabel(s)
	id := values[schema.IDField].String()
	var head string
	switch s.Operation {
	case schema.OpCreate:
		head = fmt.Sprintf("Done! Your new %s has been saved.", label)
		if optimistic {
			head = fmt.Sprintf("Done! I'm saving your new %s now.", label)
		}
	case schema.OpUpdate:
		head = fmt.Sprintf("Done! %s %s has been updated.", capitalize(label), id)
	case schema.OpDelete:
		head = fmt.Sprintf("Done! %s %s has been deleted.", capitalize(label), id)
	default:
		head = "Done!"
	}
	if sum := Summary(s, withoutID(values)); sum != "" {
		head += "\n\n" + sum
	}
	return head
}

// RecordText renders a record returned by a read.
func RecordText(s schema.ActionSchema, rec *domain.Record) string {
	if rec == nil {
		return fmt.Sprintf("I couldn't find that %s.", entityLabel(s))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", capitalize(entityLabel(s)), rec.ID)
	keys := make([]string, 0, len(rec.Data))
	for k := range rec.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n- %s: %v", k, rec.Data[k])
	}
	return sb.String()
}

// SubmissionFailed is the user-facing reply when a confirmed submission fails.
func SubmissionFailed(s schema.ActionSchema, kind domain.ErrorKind) string {
	return fmt.Sprintf("Sorry, I couldn't %s. %s", strings.ToLower(s.Name), domain.Hint(kind))
}

func withoutID(values schema.Values) schema.Values {
	out := make(schema.Values, len(values))
	for k, v := range values {
		if k != schema.IDField {
			out[k] = v
		}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
