package provider

// Message is a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// JSON asks the backend to constrain output to a JSON object.
	JSON bool `json:"json,omitempty"`
}

// ChatResponse is a chat completion response.
type ChatResponse struct {
	Content      string `json:"content,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Usage is token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatEvent is one streaming event.
type ChatEvent struct {
	Type         string `json:"type"` // content, done, error
	Delta        string `json:"delta,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Error        error  `json:"-"`
}

// Event types.
const (
	EventTypeContent = "content"
	EventTypeDone    = "done"
	EventTypeError   = "error"
)

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReason constants.
const (
	FinishReasonStop   = "stop"
	FinishReasonLength = "length"
)
