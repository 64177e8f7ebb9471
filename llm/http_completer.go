package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/types"
)

const defaultBaseURL = "https://api.openai.com/v1"

// HTTPCompleter talks to any OpenAI-compatible chat completion API.
// The request's Credential becomes the bearer token, which is what
// lets the credential pool rotate keys per call.
type HTTPCompleter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPCompleter(baseURL string, logger *zap.Logger) *HTTPCompleter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPCompleter{
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  logger.With(zap.String("component", "http_completer")),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *HTTPCompleter) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	body := chatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encode completion request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build completion request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrUpstreamTimeout, "completion call timed out").
				WithRetryable(true).WithCause(err)
		}
		return nil, types.NewError(types.ErrUpstreamError, "completion call failed").
			WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "read completion response").
			WithRetryable(true).WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, types.NewError(types.ErrMalformedOutput, "completion response is not valid JSON").WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, types.NewError(types.ErrMalformedOutput, "completion response has no choices")
	}

	c.logger.Debug("completion call",
		zap.String("model", req.Model),
		zap.Duration("elapsed", time.Since(start)))
	return &CompletionResponse{Text: parsed.Choices[0].Message.Content}, nil
}

func (c *HTTPCompleter) statusError(status int, raw []byte) error {
	var parsed chatResponse
	msg := fmt.Sprintf("upstream returned %d", status)
	code := ""
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
		if parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		code = parsed.Error.Code
	}
	switch {
	// Quota exhaustion arrives as a 429 with a distinct error code.
	case status == http.StatusTooManyRequests && code == "insufficient_quota":
		return types.NewError(types.ErrQuotaExceeded, msg)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg)
	case status == http.StatusPaymentRequired:
		return types.NewError(types.ErrQuotaExceeded, msg)
	case status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithRetryable(true)
	case status >= 500:
		return types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, msg)
	}
}
