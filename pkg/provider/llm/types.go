package llm

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is from the "user"
	// role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction. Providers without a
	// dedicated system field prepend it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// TopP is the nucleus-sampling cutoff. Zero means provider default.
	TopP float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...), when
	// the backend provides it.
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}
