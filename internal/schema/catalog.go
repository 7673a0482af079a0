package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var builtinFS embed.FS

// Entity is one record type of a domain. Its action schemas are derived from
// the declared fields: create uses them as declared, update makes every field
// optional behind a required id, delete and read need only the id.
type Entity struct {
	Name         string            `yaml:"name"`
	Label        string            `yaml:"label"`
	Intent       string            `yaml:"intent"`
	Keywords     []string          `yaml:"keywords"`
	SystemFields []string          `yaml:"system_fields"`
	Operations   []Operation       `yaml:"operations"`
	Fields       []FieldDescriptor `yaml:"fields"`
}

// Domain is a named group of entities, loaded from one catalog file.
type Domain struct {
	Name        string   `yaml:"domain"`
	Description string   `yaml:"description"`
	Entities    []Entity `yaml:"entities"`
}

// Catalog indexes domains by name.
type Catalog struct {
	domains map[string]*Domain
	order   []string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{domains: make(map[string]*Domain)}
}

// Add inserts or replaces a domain after validating it.
func (c *Catalog) Add(d Domain) error {
	if err := d.validate(); err != nil {
		return err
	}
	if _, exists := c.domains[d.Name]; !exists {
		c.order = append(c.order, d.Name)
	}
	c.domains[d.Name] = &d
	return nil
}

// Domain looks up a domain by name.
func (c *Catalog) Domain(name string) (*Domain, bool) {
	d, ok := c.domains[name]
	return d, ok
}

// Domains returns the domains in load order.
func (c *Catalog) Domains() []*Domain {
	out := make([]*Domain, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.domains[name])
	}
	return out
}

// Schemas returns every derived action schema, sorted by domain then id.
func (c *Catalog) Schemas() []ActionSchema {
	var out []ActionSchema
	for _, d := range c.Domains() {
		for _, e := range d.Entities {
			for _, op := range e.ops() {
				out = append(out, e.Action(d.Name, op))
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EntityByIntent finds the entity handling intent.
func (d *Domain) EntityByIntent(intent string) (*Entity, bool) {
	for i := range d.Entities {
		if d.Entities[i].Intent == intent {
			return &d.Entities[i], true
		}
	}
	return nil, false
}

// Action returns the schema for intent and op.
func (d *Domain) Action(intent string, op Operation) (ActionSchema, bool) {
	e, ok := d.EntityByIntent(intent)
	if !ok || !e.Supports(op) {
		return ActionSchema{}, false
	}
	return e.Action(d.Name, op), true
}

func (e Entity) ops() []Operation {
	if len(e.Operations) == 0 {
		return Operations
	}
	return e.Operations
}

// Supports reports whether the entity exposes op.
func (e Entity) Supports(op Operation) bool {
	for _, o := range e.ops() {
		if o == op {
			return true
		}
	}
	return false
}

// DisplayLabel returns the label or a capitalised name.
func (e Entity) DisplayLabel() string {
	if e.Label != "" {
		return e.Label
	}
	if e.Name == "" {
		return ""
	}
	return strings.ToUpper(e.Name[:1]) + e.Name[1:]
}

// Action derives the schema for op.
func (e Entity) Action(domain string, op Operation) ActionSchema {
	label := e.DisplayLabel()
	s := ActionSchema{
		ID:           e.Name + "-" + string(op),
		Domain:       domain,
		Entity:       e.Name,
		Intent:       e.Intent,
		Operation:    op,
		SystemFields: append([]string(nil), e.SystemFields...),
	}
	idField := FieldDescriptor{
		Name:        IDField,
		Label:       label + " ID",
		Type:        TypeText,
		Required:    true,
		Description: "The identifier of the " + strings.ToLower(label) + ".",
	}

	switch op {
	case OpCreate:
		s.Name = "Create " + label
		s.Description = "Create a new " + strings.ToLower(label) + "."
		s.Fields = append([]FieldDescriptor(nil), e.Fields...)
	case OpUpdate:
		s.Name = "Update " + label
		s.Description = "Change an existing " + strings.ToLower(label) + "."
		s.Fields = append(s.Fields, idField)
		for _, f := range e.Fields {
			f.Required = false
			s.Fields = append(s.Fields, f)
		}
	case OpDelete:
		s.Name = "Delete " + label
		s.Description = "Remove an existing " + strings.ToLower(label) + "."
		s.Fields = []FieldDescriptor{idField}
	case OpRead:
		s.Name = "Show " + label
		s.Description = "Look up an existing " + strings.ToLower(label) + "."
		s.Fields = []FieldDescriptor{idField}
	}
	// The id is assigned by the store on create, so it is never user input there.
	if op != OpCreate {
		s.SystemFields = removeString(s.SystemFields, IDField)
	}
	return s
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func (d Domain) validate() error {
	if d.Name == "" {
		return fmt.Errorf("catalog domain has no name")
	}
	intents := make(map[string]bool)
	for _, e := range d.Entities {
		if e.Name == "" || e.Intent == "" {
			return fmt.Errorf("domain %s: entity needs name and intent", d.Name)
		}
		if intents[e.Intent] {
			return fmt.Errorf("domain %s: duplicate intent %q", d.Name, e.Intent)
		}
		intents[e.Intent] = true
		for _, op := range e.Operations {
			if _, err := ParseOperation(string(op)); err != nil {
				return fmt.Errorf("domain %s entity %s: %w", d.Name, e.Name, err)
			}
		}
		seen := make(map[string]bool)
		for _, f := range e.Fields {
			if f.Name == "" {
				return fmt.Errorf("domain %s entity %s: field without name", d.Name, e.Name)
			}
			if f.Name == IDField {
				return fmt.Errorf("domain %s entity %s: field name %q is reserved", d.Name, e.Name, IDField)
			}
			if seen[f.Name] {
				return fmt.Errorf("domain %s entity %s: duplicate field %q", d.Name, e.Name, f.Name)
			}
			seen[f.Name] = true
			if !f.Type.Valid() {
				return fmt.Errorf("domain %s entity %s field %s: unknown type %q", d.Name, e.Name, f.Name, f.Type)
			}
			if f.Type == TypeSelect && len(f.Options) == 0 {
				return fmt.Errorf("domain %s entity %s field %s: select needs options", d.Name, e.Name, f.Name)
			}
			if f.Pattern != "" {
				if _, err := regexp.Compile(f.Pattern); err != nil {
					return fmt.Errorf("domain %s entity %s field %s: bad pattern: %w", d.Name, e.Name, f.Name, err)
				}
			}
		}
	}
	return nil
}

// ParseDomain decodes one catalog document.
func ParseDomain(data []byte) (Domain, error) {
	var d Domain
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Domain{}, fmt.Errorf("parse catalog: %w", err)
	}
	return d, nil
}

// LoadFS adds every .yaml/.yml file under dir of fsys to the catalog.
func (c *Catalog) LoadFS(fsys fs.FS, dir string, logger *slog.Logger) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read catalog dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		p := path.Join(dir, name)
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read catalog file %s: %w", p, err)
		}
		d, err := ParseDomain(data)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if d.Name == "" {
			d.Name = strings.TrimSuffix(name, path.Ext(name))
		}
		if err := c.Add(d); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		logger.Info("catalog domain loaded", "domain", d.Name, "entities", len(d.Entities), "path", p)
	}
	return nil
}

// Builtin returns the catalog embedded in the binary.
func Builtin(logger *slog.Logger) (*Catalog, error) {
	c := NewCatalog()
	if err := c.LoadFS(builtinFS, "catalog", logger); err != nil {
		return nil, err
	}
	return c, nil
}

// Load returns the builtin catalog overlaid with the files in dir. A missing
// dir is not an error.
func Load(dir string, logger *slog.Logger) (*Catalog, error) {
	c, err := Builtin(logger)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return c, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("catalog directory does not exist, skipping", "dir", dir)
		return c, nil
	}
	if err := c.LoadFS(os.DirFS(dir), ".", logger); err != nil {
		return nil, err
	}
	return c, nil
}
