package assist

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks caller mistakes. The message of the wrapping error
// is safe to show to the user.
var ErrInvalidRequest = errors.New("invalid assist request")

type validationError struct{ msg string }

func (e *validationError) Error() string        { return e.msg }
func (e *validationError) Is(target error) bool { return target == ErrInvalidRequest }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type Action string

const (
	ActionImprove   Action = "improve"
	ActionGrammar   Action = "grammar"
	ActionShorter   Action = "shorter"
	ActionLonger    Action = "longer"
	ActionTranslate Action = "translate"
	ActionSummarize Action = "summarize"
	ActionContinue  Action = "continue"
	ActionCustom    Action = "custom"
	ActionChat      Action = "chat"
)

const (
	defaultSystemPrompt = "You are a helpful writing assistant. Always respond in English regardless of the input language. Follow instructions precisely and only return the requested content without any additional commentary or explanations."

	chatContextLimit = 4000
)

var instructionPrompts = map[Action]string{
	ActionImprove:   "Improve the following text by enhancing flow, clarity, and professional tone. Keep the same meaning but make it more polished. Respond in English only:\n\n",
	ActionGrammar:   "Fix all grammar, spelling, punctuation, and typing errors in the following text. Do not change the content or style, only correct errors. Respond in English only:\n\n",
	ActionShorter:   "Make the following text more concise while preserving all key information and meaning. Reduce wordiness and redundancy. Respond in English only:\n\n",
	ActionLonger:    "Expand the following text by adding relevant details, examples, or explanations. Make it more comprehensive while maintaining the original meaning. Respond in English only:\n\n",
	ActionTranslate: "Translate the following text to English. If it's already in English, confirm it's correct English:\n\n",
	ActionSummarize: "Provide a clear, concise summary of the following text, capturing all main points. Respond in English only:\n\n",
	ActionContinue:  "Continue writing the following text in a natural and coherent way. Write 2-3 more sentences that flow naturally from the context. Respond in English only:\n\n",
}

// Request is the body of POST /api/ai/assist.
type Request struct {
	Action          Action `json:"action"`
	Text            string `json:"text"`
	CustomPrompt    string `json:"customPrompt,omitempty"`
	DocumentContext string `json:"documentContext,omitempty"`
	DocumentTitle   string `json:"documentTitle,omitempty"`
}

// Prompt is a validated request turned into model input.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// BuildPrompt validates req and renders the prompts for its action.
func BuildPrompt(req Request) (Prompt, error) {
	if req.Action == "" {
		return Prompt{}, invalid("Missing required field: action")
	}
	if req.Text == "" && req.Action != ActionChat {
		return Prompt{}, invalid("Missing required field: text")
	}

	p := Prompt{
		System:      defaultSystemPrompt,
		Temperature: temperatureFor(req.Action),
		MaxTokens:   maxTokensFor(req.Action),
	}

	switch req.Action {
	case ActionCustom:
		if req.CustomPrompt == "" {
			return Prompt{}, invalid("Custom prompt is required for custom action")
		}
		p.User = req.CustomPrompt + "\n\nText: " + req.Text + "\n\nRespond in English only."
	case ActionChat:
		title := req.DocumentTitle
		if title == "" {
			title = "Untitled"
		}
		p.System = fmt.Sprintf(`You are Lex, a helpful AI writing assistant. You have access to the user's document titled "%s" and can answer questions about it, provide feedback, suggest improvements, and help with writing. Be conversational, helpful, and specific in your responses.`, title)
		p.User = "Document Context:\n" + contextPreview(req.DocumentContext) +
			"\n\nUser Question: " + req.Text +
			"\n\nProvide a helpful, conversational response based on the document context."
	default:
		instruction, ok := instructionPrompts[req.Action]
		if !ok {
			return Prompt{}, invalid("Invalid action")
		}
		p.User = instruction + req.Text
	}
	return p, nil
}

// contextPreview truncates to 4000 UTF-16 code units, matching what the
// editor counts, then appends an ellipsis.
func contextPreview(documentContext string) string {
	if documentContext == "" {
		return "No document content available"
	}
	units := 0
	for i, r := range documentContext {
		n := 1
		if r > 0xFFFF {
			n = 2
		}
		if units+n > chatContextLimit {
			return documentContext[:i] + "..."
		}
		units += n
	}
	return documentContext
}

func temperatureFor(action Action) float64 {
	if action == ActionGrammar {
		return 0.3
	}
	return 0.7
}

func maxTokensFor(action Action) int {
	switch action {
	case ActionLonger, ActionSummarize, ActionChat:
		return 1000
	default:
		return 500
	}
}

// Valid reports whether action is one of the nine supported actions.
func Valid(action Action) bool {
	if action == ActionCustom || action == ActionChat {
		return true
	}
	_, ok := instructionPrompts[action]
	return ok
}
