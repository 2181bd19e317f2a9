package playground

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultMaxHistory bounds how many prior turns are forwarded upstream and returned.
const DefaultMaxHistory = 20

var (
	ErrEmptyMessage = errors.New("playground: message is required")
	ErrUnknownModel = errors.New("playground: unknown model")
	// ErrUpstream marks a failure of the chat backend. Callers may retry.
	ErrUpstream = errors.New("playground: upstream unavailable")
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a playground chat call.
type Request struct {
	Model     string
	Message   string
	History   []Message
	MaxTokens int
}

// Response carries the conversation including the new user turn and the reply.
type Response struct {
	Model               string    `json:"model"`
	ConversationHistory []Message `json:"conversationHistory"`
}

// Backend produces one assistant reply for a conversation that ends with a user turn.
type Backend interface {
	Reply(ctx context.Context, model string, conversation []Message, maxTokens int) (string, error)
}

// Chatter is the playground entry point used by the HTTP layer.
type Chatter interface {
	Chat(ctx context.Context, req Request) (Response, error)
	Models() []string
}

// Router picks a backend per model name. Names match case-insensitively.
type Router struct {
	backends     map[string]Backend
	names        map[string]string
	defaultModel string
	maxHistory   int
}

// NewRouter returns a router with no models registered.
func NewRouter(defaultModel string) *Router {
	return &Router{
		backends:     make(map[string]Backend),
		names:        make(map[string]string),
		defaultModel: defaultModel,
		maxHistory:   DefaultMaxHistory,
	}
}

// Register routes model to backend.
func (r *Router) Register(model string, backend Backend) {
	key := strings.ToLower(strings.TrimSpace(model))
	r.backends[key] = backend
	r.names[key] = strings.TrimSpace(model)
}

// Models lists registered model names in sorted order.
func (r *Router) Models() []string {
	out := make([]string, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Chat appends the user's message to the trimmed history, asks the model's backend for
// a reply and returns the extended conversation.
func (r *Router) Chat(ctx context.Context, req Request) (Response, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return Response{}, ErrEmptyMessage
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = r.defaultModel
	}
	key := strings.ToLower(model)
	backend, ok := r.backends[key]
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	conversation := append(r.trim(req.History, r.maxHistory-1), Message{Role: "user", Content: msg})
	reply, err := backend.Reply(ctx, r.names[key], conversation, req.MaxTokens)
	if err != nil {
		if errors.Is(err, ErrUpstream) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	conversation = append(conversation, Message{Role: "assistant", Content: reply})
	return Response{Model: r.names[key], ConversationHistory: r.trim(conversation, r.maxHistory)}, nil
}

// trim keeps the last n well-formed turns.
func (r *Router) trim(history []Message, n int) []Message {
	out := make([]Message, 0, len(history)+2)
	for _, m := range history {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if (role != "user" && role != "assistant") || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	if n < 0 {
		n = 0
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Simulated answers with a canned response for models that have no live backend.
type Simulated struct{}

func (Simulated) Reply(_ context.Context, model string, conversation []Message, _ int) (string, error) {
	last := ""
	if n := len(conversation); n > 0 {
		last = conversation[n-1].Content
	}
	return fmt.Sprintf("[%s] simulated response to: %s\n\n%s runs in simulation mode; choose a live model for real completions.",
		model, last, model), nil
}
