package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/logger"
)

// Ensure PromptStore implements the interface.
var _ driven.PromptStore = (*PromptStore)(nil)

// PromptStore loads generation prompts from user-editable files on disk,
// falling back to built-in defaults.
//
// Files are created lazily on first Load, not in the constructor.
type PromptStore struct {
	mu        sync.RWMutex
	promptDir string
	cache     map[string]string
	initOnce  sync.Once
	initErr   error
}

// defaultPrompts contains the built-in prompts, also written out as the
// initial content of the prompt files.
//
//nolint:lll // Prompt content is intentionally long and should not be wrapped.
var defaultPrompts = map[string]string{
	driven.PromptAnswerSystem: `You are an AI assistant specialised in analysing documents for compliance and control requirements.
Evaluate the provided document content against the control question.
Be concise and explain your answer in a paragraph of 2-3 sentences. Avoid bullet points, lists or other markdown formatting.
Each passage of the document is prefixed with a marker such as [c:12]. Cite the passages that support your answer by repeating their markers inline.
If the document does not address the question, clearly state that.`,

	driven.PromptAnswerUser: `Control question:
%s

Control context:
%s

Document content:
%s`,
}

// placeholderCounts is the number of %s verbs each prompt must keep.
var placeholderCounts = map[string]int{
	driven.PromptAnswerSystem: 0,
	driven.PromptAnswerUser:   3,
}

// NewPromptStore creates a new file-based prompt store.
// If promptDir is empty, defaults to ~/.tally/prompts/.
func NewPromptStore(promptDir string) (*PromptStore, error) {
	if promptDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		promptDir = filepath.Join(home, ".tally", "prompts")
	}

	return &PromptStore{
		promptDir: promptDir,
		cache:     make(map[string]string),
	}, nil
}

// Load returns the prompt template for the given name. A customised file
// that lost its placeholders is ignored in favour of the default.
func (s *PromptStore) Load(name string) (string, error) {
	defaultPrompt, known := defaultPrompts[name]
	if !known {
		return "", fmt.Errorf("unknown prompt %q", name)
	}

	s.initOnce.Do(s.initialise)
	if s.initErr != nil {
		return defaultPrompt, nil
	}

	s.mu.RLock()
	if prompt, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return prompt, nil
	}
	s.mu.RUnlock()

	prompt, err := s.loadFromFile(name)
	if err != nil {
		return defaultPrompt, nil
	}
	if strings.Count(prompt, "%s") != placeholderCounts[name] {
		logger.Warn("prompt %s has the wrong number of %%s placeholders, using default", name)
		prompt = defaultPrompt
	}

	s.mu.Lock()
	if cached, ok := s.cache[name]; ok {
		prompt = cached
	} else {
		s.cache[name] = prompt
	}
	s.mu.Unlock()

	return prompt, nil
}

// Reload clears the prompt cache, forcing fresh loads from disk.
func (s *PromptStore) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}

// Dir returns the prompt directory path.
func (s *PromptStore) Dir() string {
	return s.promptDir
}

// initialise creates the prompt directory and default files.
func (s *PromptStore) initialise() {
	if err := os.MkdirAll(s.promptDir, 0700); err != nil {
		s.initErr = fmt.Errorf("create prompt directory: %w", err)
		return
	}

	for name, content := range defaultPrompts {
		path := filepath.Join(s.promptDir, name+".txt")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				s.initErr = fmt.Errorf("create default prompt %q: %w", name, err)
				return
			}
		}
	}

	if err := s.createReadme(); err != nil {
		s.initErr = err
	}
}

func (s *PromptStore) loadFromFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.promptDir, name+".txt"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *PromptStore) createReadme() error {
	path := filepath.Join(s.promptDir, "README.md")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}

	content := `# Tally Prompts

These files control how answers are generated for each grid cell.

- ` + "`answer_system.txt`" + ` - System prompt sent with every generation request
- ` + "`answer_user.txt`" + ` - Per-cell request. Keeps three ` + "`%s`" + ` placeholders for the
  control question, the control context and the document content, in that order.

Edits take effect the next time tally starts. Regenerate a column to apply
them to existing answers.
`
	return os.WriteFile(path, []byte(content), 0600)
}
