package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jangxam/api/internal/config"
)

var ErrNoContent = errors.New("no content generated")

// Sampling settings used for structured document generation
const (
	geminiTemperature     = 0.4
	geminiTopK            = 32
	geminiTopP            = 0.95
	geminiMaxOutputTokens = 8192
)

// GeminiClient generates text with Google Gemini. The API key is supplied
// per call so each request runs with the caller's own key.
type GeminiClient struct {
	model      string
	endpoint   string
	defaultKey string
	log        zerolog.Logger
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(cfg *config.GeminiConfig, log zerolog.Logger) *GeminiClient {
	model := cfg.Model
	if model == "" {
		model = "gemini-pro"
	}
	return &GeminiClient{
		model:      model,
		endpoint:   cfg.Endpoint,
		defaultKey: cfg.APIKey,
		log:        log.With().Str("component", "gemini").Logger(),
	}
}

// GenerateText sends a single prompt and returns the concatenated text parts
// of the first candidate.
func (c *GeminiClient) GenerateText(ctx context.Context, credential, prompt string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		credential = c.defaultKey
	}
	if credential == "" {
		return "", fmt.Errorf("%w: gemini API key is required", ErrAuthentication)
	}

	opts := []option.ClientOption{option.WithAPIKey(credential)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	gc, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer gc.Close()

	m := gc.GenerativeModel(c.model)
	m.SetTemperature(geminiTemperature)
	m.SetTopK(geminiTopK)
	m.SetTopP(geminiTopP)
	m.SetMaxOutputTokens(geminiMaxOutputTokens)

	c.log.Debug().Str("model", c.model).Int("prompt_len", len(prompt)).Msg("→ generate content")

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoContent
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", ErrNoContent
	}

	c.log.Debug().Int("response_len", sb.Len()).Msg("← generate content")
	return sb.String(), nil
}

// classifyGeminiError maps a rejected key onto ErrAuthentication. Gemini
// reports an invalid key as 400 API_KEY_INVALID rather than 401.
func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAuthentication, apiErr.Message)
		case apiErr.Code == http.StatusBadRequest && isInvalidKey(apiErr.Error()):
			return fmt.Errorf("%w: %s", ErrAuthentication, apiErr.Message)
		}
		return &RemoteRequestError{StatusCode: http.StatusBadGateway, Detail: apiErr.Error()}
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch {
		case st.Code() == codes.Unauthenticated, st.Code() == codes.PermissionDenied:
			return fmt.Errorf("%w: %s", ErrAuthentication, st.Message())
		case st.Code() == codes.InvalidArgument && isInvalidKey(st.Message()):
			return fmt.Errorf("%w: %s", ErrAuthentication, st.Message())
		}
	}

	return &RemoteRequestError{StatusCode: http.StatusBadGateway, Detail: err.Error()}
}

func isInvalidKey(msg string) bool {
	return strings.Contains(msg, "API_KEY_INVALID") || strings.Contains(msg, "API key not valid")
}

// IsConfigured returns true if a server-side key is available
func (c *GeminiClient) IsConfigured() bool {
	return c.defaultKey != ""
}
