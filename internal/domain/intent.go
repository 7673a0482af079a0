package domain

// Intent is a classified user request: which domain entity it is about and
// which operation the user wants, with any values picked out of the message.
type Intent struct {
	Domain     string         `json:"domain"`
	Label      string         `json:"intent"`
	Operation  string         `json:"operation"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
}

// SkillID returns the id of the workflow skill that handles the intent.
func (i Intent) SkillID() string { return WorkflowSkillID(i.Label) }
