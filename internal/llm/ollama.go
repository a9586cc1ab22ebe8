package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOllamaModel = "llama3.1"

// Ollama talks to a local Ollama server over its streaming chat API. Content
// chunks are concatenated; only a chunk with done=true makes the answer
// final.
type Ollama struct {
	url   string
	model string
	http  *http.Client
}

func NewOllama(url, model string) *Ollama {
	if url == "" {
		url = "http://localhost:11434"
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &Ollama{
		url:   strings.TrimRight(url, "/"),
		model: model,
		// Streaming: the caller's context bounds the call.
		http: &http.Client{Timeout: 0},
	}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (o *Ollama) Generate(ctx context.Context, p Prompt) (string, error) {
	messages := make([]Message, 0, len(p.Messages)+1)
	if p.System != "" {
		messages = append(messages, Message{Role: "system", Content: p.System})
	}
	messages = append(messages, p.Messages...)

	body, err := json.Marshal(map[string]any{
		"model":    o.model,
		"messages": messages,
		"stream":   true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var text strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var chunk ollamaChunk
			if jerr := json.Unmarshal(line, &chunk); jerr == nil {
				if chunk.Error != "" {
					return "", fmt.Errorf("ollama: %s", chunk.Error)
				}
				text.WriteString(chunk.Message.Content)
				if chunk.Done {
					return text.String(), nil
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return "", ErrNoFinalResponse
		}
		if err != nil {
			return "", fmt.Errorf("read ollama stream: %w", err)
		}
	}
}
