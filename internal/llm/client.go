package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const (
	DefaultModel   = "gpt-4o"
	defaultTimeout = 120 * time.Second
)

// Config configures the provider client.
type Config struct {
	APIKey  string
	BaseURL string // empty for the provider default
	Model   string
	Timeout time.Duration
}

// Client talks to the OpenAI Responses and Files APIs. It never retries on
// its own; wrap it in a Resilient to apply a retry policy.
type Client struct {
	sdk   openai.Client
	model string
}

// NewClient creates a client for the given configuration.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		sdk:   openai.NewClient(opts...),
		model: model,
	}
}

// Model returns the model name sent with every request.
func (c *Client) Model() string {
	return c.model
}

// Query sends one request to the Responses API. File references are attached
// ahead of the text in a single user message.
func (c *Client) Query(ctx context.Context, req Request) (Response, error) {
	params := responses.ResponseNewParams{
		Model: c.model,
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.FileIDs) == 0 {
		params.Input = responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Input)}
	} else {
		content := make(responses.ResponseInputMessageContentListParam, 0, len(req.FileIDs)+1)
		for _, id := range req.FileIDs {
			content = append(content, responses.ResponseInputContentUnionParam{
				OfInputFile: &responses.ResponseInputFileParam{FileID: openai.String(id)},
			})
		}
		content = append(content, responses.ResponseInputContentUnionParam{
			OfInputText: &responses.ResponseInputTextParam{Text: req.Input},
		})
		params.Input = responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{{
				OfMessage: &responses.EasyInputMessageParam{
					Role:    responses.EasyInputMessageRoleUser,
					Content: responses.EasyInputMessageContentUnionParam{OfInputItemContentList: content},
				},
			}},
		}
	}
	if req.WebSearch {
		params.Tools = []responses.ToolUnionParam{{
			OfWebSearchPreview: &responses.WebSearchToolParam{Type: responses.WebSearchToolTypeWebSearchPreview},
		}}
	}

	out, err := c.sdk.Responses.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("querying model: %w", classify(err))
	}

	text := strings.TrimSpace(out.OutputText())
	if text == "" {
		return Response{}, ErrEmptyOutput
	}
	return Response{
		Text:         text,
		InputTokens:  int(out.Usage.InputTokens),
		OutputTokens: int(out.Usage.OutputTokens),
	}, nil
}

// Upload stores a PDF chunk for later reference and returns its file id.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (string, error) {
	f, err := c.sdk.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(data), name, "application/pdf"),
		Purpose: openai.FilePurposeUserData,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", name, classify(err))
	}
	return f.ID, nil
}

// DeleteFile removes an uploaded file.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := c.sdk.Files.Delete(ctx, fileID); err != nil {
		return fmt.Errorf("deleting file %s: %w", fileID, classify(err))
	}
	return nil
}

// classify marks throttled calls so the retry policy can recognise them.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Err: err}
	}
	return err
}

// statusCode extracts the provider HTTP status, or 0 for transport errors.
func statusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
