package llm

// Message represents a chat message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request against one model.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature"`
}

// UserPrompt builds a request holding a single user message.
func UserPrompt(model, prompt string, maxTokens int, temperature float32) *Request {
	return &Request{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// Response represents a complete response from an LLM provider.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	// FinishReason is the backend's stop reason, e.g. "stop" or "length".
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
