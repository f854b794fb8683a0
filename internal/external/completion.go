package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sowhat82/cravemap/internal/types"
)

// CompletionConfig holds the configuration for creating a CompletionClient.
type CompletionConfig struct {
	BaseURL string
	APIKey  types.SecretString
	// Models is the priority-ordered list of model identifiers to try.
	Models []string
	// FallbackMessage is returned when every model fails; the search
	// endpoint always produces some response.
	FallbackMessage string
	Timeout         time.Duration
	Logger          *slog.Logger
}

// CompletionClient generates text against an OpenAI-compatible chat
// completions endpoint. It walks the configured model list in priority
// order and uses the first model that returns a non-empty completion; when
// every model fails it degrades to the canned fallback message instead of
// surfacing an error to the end user.
type CompletionClient struct {
	base   *BaseClient
	cfg    CompletionConfig
	logger *slog.Logger
}

// NewCompletionClient creates a CompletionClient.
func NewCompletionClient(cfg CompletionConfig, opts ...BaseClientOption) *CompletionClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &CompletionClient{
		base:   NewBaseClient(&http.Client{Timeout: timeout}, "completion", DefaultRetryPolicy(), opts...),
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete returns generated text for the prompt, plus the model that
// produced it. The fallback message is reported with an empty model name.
func (c *CompletionClient) Complete(ctx context.Context, prompt string) (text string, model string, err error) {
	for _, m := range c.cfg.Models {
		out, tryErr := c.tryModel(ctx, m, prompt)
		if tryErr != nil {
			c.logger.Warn("completion model failed, trying next",
				"model", m,
				"error", tryErr.Error(),
			)
			continue
		}
		if strings.TrimSpace(out) == "" {
			c.logger.Warn("completion model returned empty response, trying next",
				"model", m,
			)
			continue
		}
		return out, m, nil
	}

	c.logger.Error("all completion models failed, serving fallback message")
	return c.cfg.FallbackMessage, "", nil
}

func (c *CompletionClient) tryModel(ctx context.Context, model, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey.Unmask())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", types.NewAppError(types.ErrCodeUpstreamCompletion,
			fmt.Sprintf("completion endpoint returned %d", resp.StatusCode), nil)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamCompletion, "malformed completion payload", err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}
