package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jangxam/api/internal/config"
	"github.com/jangxam/api/internal/model"
)

const maxResponseBytes = 1 << 20

// ImageJobClient defines the job-based image generation operations
type ImageJobClient interface {
	Submit(ctx context.Context, req model.GenerationRequest, credential string) (*model.Job, error)
	FetchStatus(ctx context.Context, jobID, credential string) (*model.Job, error)
	AwaitCompletion(ctx context.Context, jobID, credential string, pollInterval, timeout time.Duration) (*model.Job, error)
	AwaitCompletionFunc(ctx context.Context, jobID, credential string, pollInterval, timeout time.Duration, onUpdate func(*model.Job)) (*model.Job, error)
}

// ReplicateClient implements ImageJobClient for the Replicate predictions API.
// It holds no credential: every call receives one, so a single client can be
// shared by concurrent poll loops working for different users.
type ReplicateClient struct {
	httpClient   *http.Client
	baseURL      string
	version      string
	authScheme   string
	pollInterval time.Duration
	timeout      time.Duration
	log          zerolog.Logger
}

type predictionInput struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	NumOutputs     int     `json:"num_outputs"`
	GuidanceScale  float64 `json:"guidance_scale"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

// predictionResponse is the wire shape shared by submission and status calls.
type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// NewReplicateClient creates a new Replicate API client
func NewReplicateClient(cfg *config.ReplicateConfig, log zerolog.Logger) *ReplicateClient {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	scheme := cfg.AuthScheme
	if scheme == "" {
		scheme = "Token"
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &ReplicateClient{
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		version:      cfg.ModelVersion,
		authScheme:   scheme,
		pollInterval: pollInterval,
		timeout:      timeout,
		log:          log.With().Str("component", "replicate").Logger(),
	}
}

// Submit starts a new prediction and returns the job under its remote id.
// Nothing is sent when the credential or the prompt is empty.
func (c *ReplicateClient) Submit(ctx context.Context, req model.GenerationRequest, credential string) (*model.Job, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("%w: credential is required", ErrAuthentication)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.WithDefaults()

	job := model.NewPlaceholderJob()
	body := predictionRequest{
		Version: c.version,
		Input: predictionInput{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Width:          req.Width,
			Height:         req.Height,
			NumOutputs:     req.NumOutputs,
			GuidanceScale:  req.GuidanceScale,
		},
	}

	var resp predictionResponse
	if err := c.post(ctx, "/predictions", credential, body, &resp); err != nil {
		return nil, err
	}

	remote, err := resp.toJob()
	if err != nil {
		return nil, err
	}
	if err := job.AssignRemoteID(remote.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := job.Observe(remote); err != nil {
		c.log.Warn().Err(err).Str("job_id", job.ID).Msg("ignoring status reported at submission")
	}

	c.log.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("prediction submitted")
	return job, nil
}

// FetchStatus retrieves the current state of a prediction
func (c *ReplicateClient) FetchStatus(ctx context.Context, jobID, credential string) (*model.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || model.IsPlaceholderID(jobID) {
		return nil, ErrInvalidJobID
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("%w: credential is required", ErrAuthentication)
	}

	var resp predictionResponse
	if err := c.get(ctx, "/predictions/"+url.PathEscape(jobID), credential, &resp); err != nil {
		return nil, err
	}

	job, err := resp.toJob()
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

// AwaitCompletion polls until the job reaches a terminal status, the timeout
// elapses or ctx is canceled.
func (c *ReplicateClient) AwaitCompletion(ctx context.Context, jobID, credential string, pollInterval, timeout time.Duration) (*model.Job, error) {
	return c.AwaitCompletionFunc(ctx, jobID, credential, pollInterval, timeout, nil)
}

// AwaitCompletionFunc is AwaitCompletion with a callback receiving a copy of
// the job after every accepted observation.
//
// Polls are strictly sequential. The deadline is fixed before the first poll.
// Cancellation is checked before each poll and during the wait between polls;
// a status request already in flight is allowed to finish.
func (c *ReplicateClient) AwaitCompletionFunc(ctx context.Context, jobID, credential string, pollInterval, timeout time.Duration, onUpdate func(*model.Job)) (*model.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || model.IsPlaceholderID(jobID) {
		return nil, ErrInvalidJobID
	}
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("%w: credential is required", ErrAuthentication)
	}
	if pollInterval <= 0 {
		pollInterval = c.pollInterval
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	log := c.log.With().Str("job_id", jobID).Logger()
	job := &model.Job{ID: jobID, Status: model.JobStatusStarting}
	deadline := time.Now().Add(timeout)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			log.Info().Int("poll", attempt).Msg("poll loop canceled")
			return nil, fmt.Errorf("%w: %v", ErrCanceled, context.Cause(ctx))
		}
		if attempt > 1 && !time.Now().Before(deadline) {
			log.Warn().Int("polls", attempt-1).Dur("timeout", timeout).Msg("poll loop timed out")
			return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}

		observed, err := c.FetchStatus(context.WithoutCancel(ctx), jobID, credential)
		if err != nil {
			log.Error().Err(err).Int("poll", attempt).Msg("status poll failed")
			return nil, err
		}

		if err := job.Observe(observed); err != nil {
			log.Warn().Err(err).Int("poll", attempt).Str("reported", string(observed.Status)).Msg("protocol violation ignored")
		} else {
			log.Debug().Int("poll", attempt).Str("status", string(job.Status)).Msg("status observed")
			if onUpdate != nil {
				onUpdate(job.Clone())
			}
		}

		if job.IsTerminal() {
			return job, nil
		}

		wait := min(pollInterval, time.Until(deadline))
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// post sends a POST request with JSON body
func (c *ReplicateClient) post(ctx context.Context, endpoint, credential string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, credential, result)
}

// get sends a GET request and parses JSON response
func (c *ReplicateClient) get(ctx context.Context, endpoint, credential string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, credential, result)
}

// doRequest executes an HTTP request and parses the response
func (c *ReplicateClient) doRequest(req *http.Request, credential string, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authScheme+" "+credential)

	op := req.Method + " " + req.URL.Path
	c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("→ request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("method", req.Method).Str("url", req.URL.String()).Msg("← response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, errorDetail(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return nil
}

// errorDetail extracts the remote error detail from a non-2xx body.
func errorDetail(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Title != "" {
			return e.Title
		}
		return ""
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

// toJob maps the wire payload onto a Job, rejecting shapes that break the
// Job invariants. Unknown statuses are kept so the caller can report them.
func (p *predictionResponse) toJob() (*model.Job, error) {
	if strings.TrimSpace(p.Status) == "" {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedResponse)
	}
	job := &model.Job{
		ID:     strings.TrimSpace(p.ID),
		Status: model.JobStatus(strings.ToLower(strings.TrimSpace(p.Status))),
	}

	switch job.Status {
	case model.JobStatusSucceeded:
		output, err := decodeOutput(p.Output)
		if err != nil {
			return nil, err
		}
		if len(output) == 0 {
			return nil, fmt.Errorf("%w: succeeded without output", ErrMalformedResponse)
		}
		job.Output = output
	case model.JobStatusFailed:
		job.Error = decodeError(p.Error)
		if job.Error == "" {
			job.Error = "generation failed"
		}
	}

	return job, nil
}

// decodeOutput accepts a list of locators or a single one.
func decodeOutput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := list[:0]
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			return []string{single}, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unsupported output shape", ErrMalformedResponse)
}

// decodeError renders the remote error field as text.
func decodeError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// IsTerminalError reports whether err ended a poll loop without a remote
// terminal state.
func IsTerminalError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrCanceled)
}
