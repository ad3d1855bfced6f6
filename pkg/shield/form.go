package shield

// Form is an HTML-agnostic description of an input form. Transport
// adapters decide how to render it.
type Form struct {
	Inputs []Input `json:"inputs"`
}

type InputKind string

const (
	InputKindText     InputKind = "text"
	InputKindEmail    InputKind = "email"
	InputKindPassword InputKind = "password"
	InputKindHidden   InputKind = "hidden"
	InputKindSubmit   InputKind = "submit"
)

type Input struct {
	Name        string    `json:"name"`
	Kind        InputKind `json:"kind"`
	Label       string    `json:"label,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Value       string    `json:"value,omitempty"`
}

// ActionForms is the nested action -> method -> provider form tree
// returned by (*Shield).Forms for UI rendering.
type ActionForms struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Methods []MethodForms `json:"methods"`
}

type MethodForms struct {
	ID        string          `json:"id"`
	Providers []ProviderForms `json:"providers"`
}

type ProviderForms struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Forms []Form `json:"forms"`
}
