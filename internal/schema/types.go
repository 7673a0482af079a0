// Package schema holds the data-only description of domain actions: field
// descriptors, action schemas and the catalog they are loaded from.
package schema

import "fmt"

// FieldType is the input type of a field.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeEmail    FieldType = "email"
	TypePhone    FieldType = "phone"
	TypeURL      FieldType = "url"
	TypeNumber   FieldType = "number"
	TypeCurrency FieldType = "currency"
	TypeDate     FieldType = "date"
	TypeSelect   FieldType = "select"
	TypeTextarea FieldType = "textarea"
)

var knownTypes = map[FieldType]bool{
	TypeText: true, TypeEmail: true, TypePhone: true, TypeURL: true, TypeNumber: true,
	TypeCurrency: true, TypeDate: true, TypeSelect: true, TypeTextarea: true,
}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool { return knownTypes[t] }

// Option is one allowed value of a select field.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Display returns the label, or the value when no label is set.
func (o Option) Display() string {
	if o.Label != "" {
		return o.Label
	}
	return o.Value
}

// FieldDescriptor describes one field of an action. Descriptors are
// configuration and are never mutated at runtime.
type FieldDescriptor struct {
	Name        string    `json:"name" yaml:"name"`
	Label       string    `json:"label" yaml:"label"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	MinLength   int       `json:"minLength,omitempty" yaml:"min_length,omitempty"`
	MaxLength   int       `json:"maxLength,omitempty" yaml:"max_length,omitempty"`
	Pattern     string    `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Options     []Option  `json:"options,omitempty" yaml:"options,omitempty"`
	Placeholder string    `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// DisplayLabel returns Label, falling back to Name.
func (f FieldDescriptor) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// Operation is the kind of repository call an action performs.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpRead   Operation = "read"
)

// Operations lists every operation in prompt order.
var Operations = []Operation{OpCreate, OpUpdate, OpDelete, OpRead}

// ParseOperation maps a string to an Operation.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpCreate, OpUpdate, OpDelete, OpRead:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// IDField is the record identifier field injected into update, delete and read actions.
const IDField = "id"

// ActionSchema describes one domain action and its fields.
type ActionSchema struct {
	ID           string            `json:"id"`
	Domain       string            `json:"domain"`
	Entity       string            `json:"entity"`
	Intent       string            `json:"intent"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Operation    Operation         `json:"operation"`
	Fields       []FieldDescriptor `json:"fields"`
	SystemFields []string          `json:"systemFields,omitempty"`
}

// Registry is a lookup from field name to descriptor.
type Registry map[string]FieldDescriptor

// Registry indexes the schema's fields by name.
func (s ActionSchema) Registry() Registry {
	reg := make(Registry, len(s.Fields))
	for _, f := range s.Fields {
		reg[f.Name] = f
	}
	return reg
}

// Required returns the required fields in declaration order.
func (s ActionSchema) Required() []FieldDescriptor {
	var out []FieldDescriptor
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// RequiredNames returns the names of the required fields.
func (s ActionSchema) RequiredNames() []string {
	req := s.Required()
	names := make([]string, len(req))
	for i, f := range req {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field by name.
func (s ActionSchema) Field(name string) (FieldDescriptor, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}
