package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const testModel = "gemini-test"

type scriptedReply struct {
	resp *genai.GenerateContentResponse
	err  error
}

// scriptedChats hands out one chat per reply, in order.
type scriptedChats struct {
	mu      sync.Mutex
	replies []scriptedReply
	opened  []*scriptedChat
}

type scriptedChat struct {
	model  string
	config *genai.GenerateContentConfig
	reply  scriptedReply
	sent   []string
}

func (c *scriptedChat) SendMessage(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	for _, part := range parts {
		c.sent = append(c.sent, part.Text)
	}
	return c.reply.resp, c.reply.err
}

func (s *scriptedChats) Create(_ context.Context, model string, config *genai.GenerateContentConfig, _ []*genai.Content) (chatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	chat := &scriptedChat{model: model, config: config, reply: s.replies[0]}
	s.replies = s.replies[1:]
	s.opened = append(s.opened, chat)
	return chat, nil
}

func textReply(text string) scriptedReply {
	return scriptedReply{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}}
}

func errReply(code int, status, message string) scriptedReply {
	return scriptedReply{err: genai.APIError{Code: code, Status: status, Message: message}}
}

func newTestGenerator(retries int, replies ...scriptedReply) (*Generator, *scriptedChats) {
	chats := &scriptedChats{replies: replies}
	return &Generator{chats: chats, model: testModel, maxRetries: retries, logger: zap.NewNop()}, chats
}

func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	original := sleep
	sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { sleep = original })
	return &delays
}

func TestGeneratorRetryPolicy(t *testing.T) {
	internal := errReply(http.StatusInternalServerError, "INTERNAL", "")

	tests := []struct {
		name      string
		retries   int
		replies   []scriptedReply
		wantText  string
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "temporary error then success",
			retries:   2,
			replies:   []scriptedReply{internal, textReply("second try")},
			wantText:  "second try",
			wantCalls: 2,
		},
		{
			name:      "retries exhausted",
			retries:   2,
			replies:   []scriptedReply{internal, internal},
			wantErr:   true,
			wantCalls: 2,
		},
		{
			name:      "long quota delay is not retried",
			retries:   3,
			replies:   []scriptedReply{errReply(http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "quota exhausted, retry after 60 seconds")},
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name:      "client error is not retried",
			retries:   3,
			replies:   []scriptedReply{errReply(http.StatusBadRequest, "INVALID_ARGUMENT", "")},
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name:      "empty response",
			retries:   1,
			replies:   []scriptedReply{{resp: &genai.GenerateContentResponse{}}},
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recordSleeps(t)
			g, chats := newTestGenerator(tt.retries, tt.replies...)

			text, err := g.GenerateContent(context.Background(), "score vacancies", "vacancy list")
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if text != tt.wantText {
				t.Fatalf("unexpected text %q", text)
			}
			if len(chats.opened) != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, len(chats.opened))
			}
		})
	}
}

func TestGeneratorSendsSystemPromptOnEveryAttempt(t *testing.T) {
	recordSleeps(t)
	g, chats := newTestGenerator(2,
		errReply(http.StatusServiceUnavailable, "UNAVAILABLE", ""),
		textReply("ok"),
	)

	if _, err := g.GenerateContent(context.Background(), "score vacancies", "vacancy list"); err != nil {
		t.Fatalf("generate: %v", err)
	}

	for i, chat := range chats.opened {
		if chat.model != testModel {
			t.Fatalf("attempt %d used model %q", i, chat.model)
		}
		if chat.config == nil || chat.config.SystemInstruction == nil || chat.config.SystemInstruction.Parts[0].Text != "score vacancies" {
			t.Fatalf("attempt %d lost the system prompt", i)
		}
		if len(chat.sent) != 1 || chat.sent[0] != "vacancy list" {
			t.Fatalf("attempt %d sent %v", i, chat.sent)
		}
	}
}

func TestGeneratorHonoursShortQuotaDelay(t *testing.T) {
	delays := recordSleeps(t)
	g, chats := newTestGenerator(3,
		errReply(http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "Please retry in 2.5s."),
		textReply("ok"),
	)

	if _, err := g.GenerateContent(context.Background(), "", "vacancy list"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(*delays) != 1 || (*delays)[0] != 2500*time.Millisecond {
		t.Fatalf("expected the server suggested delay, got %v", *delays)
	}
	if chats.opened[0].config.SystemInstruction != nil {
		t.Fatalf("empty system prompt must not be sent")
	}
}

func TestGeneratorRejectsEmptyInput(t *testing.T) {
	g, chats := newTestGenerator(1)
	if _, err := g.GenerateContent(context.Background(), "score vacancies", "  "); err == nil {
		t.Fatal("expected error for empty message")
	}
	if len(chats.opened) != 0 {
		t.Fatalf("empty message must not reach the model")
	}

	var nilGen *Generator
	if _, err := nilGen.GenerateContent(context.Background(), "score vacancies", "vacancy list"); err == nil {
		t.Fatal("expected error for nil generator")
	}
}

func TestClientConfigBoundsRequests(t *testing.T) {
	cfg := clientConfig("key", 0)
	if cfg.HTTPOptions.Timeout == nil || *cfg.HTTPOptions.Timeout != DefaultTimeout {
		t.Fatalf("expected the default request timeout, got %v", cfg.HTTPOptions.Timeout)
	}

	cfg = clientConfig("key", 5*time.Second)
	if *cfg.HTTPOptions.Timeout != 5*time.Second || cfg.APIKey != "key" || cfg.Backend != genai.BackendGeminiAPI {
		t.Fatalf("unexpected client config %+v", cfg)
	}
}
