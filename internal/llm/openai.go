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
	"strconv"
	"strings"
	"time"
)

// HTTPProvider is a Provider for any OpenAI-compatible chat-completions
// endpoint. The same implementation backs every tier; only base URL, model
// and key differ.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPProvider creates a provider for an OpenAI-compatible endpoint.
func NewHTTPProvider(name, baseURL, apiKey, model string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name identifies the provider for logs and telemetry.
func (p *HTTPProvider) Name() string {
	return p.name
}

type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Tools       []wireTool `json:"tools,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature float32    `json:"temperature,omitempty"`
	Stream      bool       `json:"stream,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate runs a blocking chat completion.
func (p *HTTPProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	resp, err := p.do(ctx, req, false)
	if err != nil {
		return GenerateResponse{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return GenerateResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return GenerateResponse{}, &ProviderError{
			Provider: p.name,
			Kind:     KindUnavailable,
			Message:  "no choices returned",
		}
	}

	choice := chatResp.Choices[0]
	out := GenerateResponse{
		Text:             choice.Message.Content,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// StreamGenerate runs a streaming chat completion, reading Server-Sent
// Events and forwarding each text delta to the callback.
func (p *HTTPProvider) StreamGenerate(ctx context.Context, req GenerateRequest, callback func(chunk string) error) error {
	resp, err := p.do(ctx, req, true)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	const dataPrefix = "data: "
	const doneMarker = "[DONE]"

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimPrefix(line, dataPrefix)
		if data == doneMarker {
			break
		}

		var streamResp struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
			// Skip malformed chunks
			continue
		}
		if len(streamResp.Choices) == 0 {
			continue
		}
		if chunk := streamResp.Choices[0].Delta.Content; chunk != "" {
			if err := callback(chunk); err != nil {
				return fmt.Errorf("callback error: %w", err)
			}
		}
		if streamResp.Choices[0].FinishReason != "" {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return p.classifyTransport(err)
	}
	return nil
}

func (p *HTTPProvider) do(ctx context.Context, req GenerateRequest, stream bool) (*http.Response, error) {
	url := fmt.Sprintf("%s/v1/chat/completions", p.baseURL)

	payload := chatRequest{
		Model:       p.model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		raw, _ := io.ReadAll(resp.Body)
		return nil, p.classifyStatus(resp, string(raw))
	}
	return resp, nil
}

// classifyStatus maps an HTTP status to the error taxonomy. 429 carries the
// Retry-After header when the provider supplies one.
func (p *HTTPProvider) classifyStatus(resp *http.Response, body string) error {
	pe := &ProviderError{
		Provider: p.name,
		Status:   resp.StatusCode,
		Message:  truncate(body, 200),
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		pe.Kind = KindRateLimited
		pe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		pe.Kind = KindUnauthorized
	case resp.StatusCode >= 500:
		pe.Kind = KindUnavailable
	case resp.StatusCode == http.StatusRequestTimeout:
		pe.Kind = KindTimeout
	default:
		pe.Kind = KindBadRequest
	}
	return pe
}

func (p *HTTPProvider) classifyTransport(err error) error {
	kind := KindUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = KindTimeout
	}
	return &ProviderError{Provider: p.name, Kind: kind, Message: err.Error()}
}

// parseRetryAfter parses a Retry-After header value in seconds or HTTP-date
// form. Returns 0 when absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
