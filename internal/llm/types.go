package llm

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest describes one chat completion call.
// Temperature is optional; it is omitted entirely for models that only
// accept the provider default (see SupportsTemperature).
type GenerateRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// GenerateResponse is the assistant's reply.
type GenerateResponse struct {
	Content      string
	FinishReason string
}

// Model describes one available model.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ModelList is the wire format for the model listing endpoint.
type ModelList struct {
	Object string  `json:"object,omitempty"`
	Data   []Model `json:"data"`
}
