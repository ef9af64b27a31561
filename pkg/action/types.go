package action

// Type tags a step with the executor that handles its payload. The vocabulary
// is closed: anything else coming out of a generator is coerced to TypeReason
// by the plan validator.
type Type string

const (
	// TypeReason runs a single text-generation pass over the payload prompt.
	TypeReason Type = "reason"

	// TypeAutomate resolves a free-form intent through the two-tier
	// dispatcher.
	TypeAutomate Type = "automate"

	// TypeMessage sends a message through the configured messenger.
	TypeMessage Type = "message"

	// TypeSearch runs a query against the search collaborator.
	TypeSearch Type = "search"

	// TypeRecall looks a topic up in the knowledge collaborator.
	TypeRecall Type = "recall"
)

// AllTypes returns the closed action vocabulary.
func AllTypes() []Type {
	return []Type{TypeReason, TypeAutomate, TypeMessage, TypeSearch, TypeRecall}
}

// ParseType returns the matching Type and whether the value is part of the
// vocabulary.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypeReason, TypeAutomate, TypeMessage, TypeSearch, TypeRecall:
		return Type(s), true
	default:
		return "", false
	}
}
