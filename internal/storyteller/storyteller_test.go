package storyteller

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
)

// scriptedModel streams its chunks, or returns them whole when stream is false.
type scriptedModel struct {
	chunks []string
	stream bool
	err    error

	prompt []llms.MessageContent
	opts   llms.CallOptions
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.prompt = messages
	for _, o := range options {
		o(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.stream && m.opts.StreamingFunc != nil {
		for _, c := range m.chunks {
			if err := m.opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(m.chunks, "")}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestTellStreams(t *testing.T) {
	m := &scriptedModel{chunks: []string{" The fog ", "took Ada."}, stream: true}
	teller := NewTeller(m, llms.WithTemperature(0.4))

	var got []string
	text, err := teller.Tell(context.Background(), []string{"Day 1: Ada (villager) was hanged by the village."}, func(c string) {
		got = append(got, c)
	})
	if err != nil {
		t.Fatal(err)
	}
	if text != "The fog took Ada." {
		t.Errorf("text = %q", text)
	}
	if len(got) != 2 {
		t.Errorf("chunks = %q", got)
	}
	if m.opts.Temperature != 0.4 {
		t.Errorf("temperature = %v", m.opts.Temperature)
	}
	human := m.prompt[1].Parts[0].(llms.TextContent).Text
	if !strings.Contains(human, "Ada (villager)") {
		t.Errorf("history missing from prompt: %q", human)
	}
}

func TestTellWithoutStreaming(t *testing.T) {
	m := &scriptedModel{chunks: []string{"Silence fell."}}
	text, err := NewTeller(m).Tell(context.Background(), nil, nil)
	if err != nil || text != "Silence fell." {
		t.Errorf("Tell = %q, %v", text, err)
	}
}

func TestTellError(t *testing.T) {
	boom := errors.New("rate limited")
	_, err := NewTeller(&scriptedModel{err: boom}).Tell(context.Background(), nil, nil)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestNew(t *testing.T) {
	log := zerolog.Nop()
	teller, err := New(context.Background(), Config{}, log)
	if teller != nil || err != nil {
		t.Errorf("disabled = %v, %v", teller, err)
	}
	if _, err := New(context.Background(), Config{Provider: "carrier-pigeon"}, log); err == nil {
		t.Error("unknown provider accepted")
	}
	if _, err := New(context.Background(), Config{Provider: "openai-compatible"}, log); err == nil {
		t.Error("openai-compatible without url accepted")
	}
	teller, err = New(context.Background(), Config{Provider: "ollama", Model: "llama3", OllamaURL: "http://localhost:11434"}, log)
	if err != nil || teller == nil {
		t.Errorf("ollama = %v, %v", teller, err)
	}
}

func TestCallOptions(t *testing.T) {
	var opts llms.CallOptions
	for _, o := range callOptions(Config{Temperature: 0.7, Thinking: "bogus"}, zerolog.Nop()) {
		o(&opts)
	}
	if opts.Temperature != 0.7 {
		t.Errorf("temperature = %v", opts.Temperature)
	}
	if n := len(callOptions(Config{Thinking: "low"}, zerolog.Nop())); n != 1 {
		t.Errorf("thinking options = %d", n)
	}
}
