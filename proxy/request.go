package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/bionicotaku/tastesig-proxy/upstream"
)

// ChatRequest is the caller-supplied payload.
type ChatRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature"`
	System      string             `json:"system"`
	Messages    []upstream.Message `json:"messages"`
}

// requestError is a caller mistake reported as invalid_request.
type requestError struct {
	message string
}

func (e *requestError) Error() string { return e.message }

func invalid(format string, args ...any) error {
	return &requestError{message: fmt.Sprintf(format, args...)}
}

func decodeChatRequest(body []byte) (*ChatRequest, error) {
	var req ChatRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		return nil, &requestError{message: msgInvalidJSON}
	}
	return &req, nil
}

// toUpstream validates req against cfg and returns the request to forward. The token
// limit is clamped to cfg.MaxTokens rather than rejected.
func (req *ChatRequest) toUpstream(cfg Config) (upstream.Request, error) {
	if len(req.Messages) == 0 {
		return upstream.Request{}, &requestError{message: msgMessagesRequired}
	}

	total := 0
	for i, msg := range req.Messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			return upstream.Request{}, invalid("messages[%d].role must be \"user\" or \"assistant\"", i)
		}
		n, err := contentLength(msg.Content)
		if err != nil {
			return upstream.Request{}, invalid("messages[%d].content %v", i, err)
		}
		total += n
	}
	if total > cfg.MaxMessageChars {
		return upstream.Request{}, invalid("Messages exceed maximum length of %d characters", cfg.MaxMessageChars)
	}
	if utf8.RuneCountInString(req.System) > cfg.MaxSystemChars {
		return upstream.Request{}, invalid("System prompt exceeds maximum length of %d characters", cfg.MaxSystemChars)
	}

	model := req.Model
	if model == "" {
		model = cfg.DefaultModel
	}
	if len(cfg.AllowedModels) > 0 && !slices.Contains(cfg.AllowedModels, model) {
		return upstream.Request{}, &requestError{message: msgModelNotAllowed}
	}

	temperature := cfg.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature < 0 || temperature > 1 {
		return upstream.Request{}, &requestError{message: msgInvalidTemperature}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = cfg.DefaultMaxTokens
	}
	maxTokens = min(maxTokens, cfg.MaxTokens)

	return upstream.Request{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		System:      req.System,
		Messages:    req.Messages,
	}, nil
}

// contentLength counts characters of a string content or of the text blocks in an
// array content. Non-text blocks count their encoded size.
func contentLength(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("is required")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errors.New("is not a valid string")
		}
		return utf8.RuneCountInString(s), nil
	case '[':
		var blocks []json.RawMessage
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return 0, errors.New("is not a valid block array")
		}
		total := 0
		for _, block := range blocks {
			var text struct {
				Text *string `json:"text"`
			}
			if err := json.Unmarshal(block, &text); err == nil && text.Text != nil {
				total += utf8.RuneCountInString(*text.Text)
				continue
			}
			total += len(block)
		}
		return total, nil
	default:
		return 0, errors.New("must be a string or an array of blocks")
	}
}
