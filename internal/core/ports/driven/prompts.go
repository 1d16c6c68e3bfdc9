package driven

// PromptStore provides access to generation prompt templates.
// Implementations may load prompts from files or embed them in the binary.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	// Unknown names return an error.
	Load(name string) (string, error)

	// Reload clears any cached prompts, forcing fresh loads on next access.
	Reload()
}

// Well-known prompt names.
const (
	// PromptAnswerSystem is the system prompt for answer generation.
	// It has no format placeholders.
	PromptAnswerSystem = "answer_system"

	// PromptAnswerUser is the user prompt for answer generation.
	// The template expects %s placeholders for the question, the context
	// and the annotated document content, in that order.
	PromptAnswerUser = "answer_user"
)
