package mockllm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

// Call records one chat completion request made to the mock service.
type Call struct {
	Model          string
	System         string
	Prompt         string
	Temperature    float64
	MaxTokens      int
	ResponseFormat string
}

// Reply is what a Responder wants the server to send back.
type Reply struct {
	// Status defaults to 200.
	Status  int
	Content string
	// Delay holds the response, for timeout tests.
	Delay time.Duration
}

// Responder scripts the reply for a call.
type Responder func(Call) Reply

// Server implements a minimal OpenAI-compatible /v1/chat/completions surface.
type Server struct {
	mu        sync.Mutex
	calls     []Call
	responder Responder

	expectedAuthorization string
}

// New constructs a mock server. A nil responder selects SchemaEcho.
func New(responder Responder) *Server {
	if responder == nil {
		responder = SchemaEcho
	}
	return &Server{responder: responder}
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/chat/completions", s.handleChatCompletions)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	call := Call{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		switch m.Role {
		case goopenai.ChatMessageRoleSystem:
			call.System = m.Content
		case goopenai.ChatMessageRoleUser:
			call.Prompt = m.Content
		}
	}
	if req.ResponseFormat != nil {
		call.ResponseFormat = req.ResponseFormat.Type
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	responder := s.responder
	s.mu.Unlock()

	reply := responder(call)
	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}
	if reply.Status != 0 && reply.Status != http.StatusOK {
		writeError(w, reply.Status, reply.Content)
		return
	}

	resp := goopenai.ChatCompletionResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []goopenai.ChatCompletionChoice{{
			Index:        0,
			Message:      goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: reply.Content},
			FinishReason: goopenai.FinishReasonStop,
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "mock_error",
			"code":    status,
		},
	})
}

// Static always replies with content.
func Static(content string) Responder {
	return func(Call) Reply { return Reply{Content: content} }
}

var (
	fieldLineRe   = regexp.MustCompile(`(?m)^- ([A-Za-z_][A-Za-z0-9_]*) \((string|number|integer)(?: (-?\d+)-(-?\d+))?( or null)?\):`)
	productNameRe = regexp.MustCompile(`(?m)^\s*'product_name': '(.*)'$`)
)

// SchemaEcho answers with a well-typed object for the fields listed in the system
// instruction. Text values are derived from the product name so runs are reproducible.
func SchemaEcho(call Call) Reply {
	name := "unknown"
	if m := productNameRe.FindStringSubmatch(call.Prompt); m != nil {
		name = m[1]
	}
	words := strings.Fields(name)

	out := map[string]any{}
	for _, m := range fieldLineRe.FindAllStringSubmatch(call.System, -1) {
		field, typ, lo, nullable := m[1], m[2], m[3], m[5] != ""
		switch typ {
		case "number":
			if nullable {
				out[field] = nil
			} else {
				out[field] = 0
			}
		case "integer":
			v, _ := strconv.Atoi(lo)
			out[field] = v
		default:
			switch {
			case field == "brand" && len(words) > 0:
				out[field] = words[0]
			case nullable:
				out[field] = nil
			default:
				out[field] = name
			}
		}
	}
	b, _ := json.Marshal(out)
	return Reply{Content: string(b)}
}
