package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/jangxam/api/internal/handler"
	"github.com/jangxam/api/internal/middleware"
	"github.com/jangxam/api/internal/repository"
	"github.com/jangxam/api/internal/service"
)

const testReplicateToken = "r8_test_token"

// recordingQueue stands in for the asynq client
type recordingQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *recordingQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: task.Type(), Queue: service.QueueGeneration}, nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// cannedGenerator returns a fixed Gemini response
type cannedGenerator struct {
	text string
	err  error
}

func (g *cannedGenerator) GenerateText(ctx context.Context, credential, prompt string) (string, error) {
	return g.text, g.err
}

// testApp holds all components needed for testing
type testApp struct {
	app         *fiber.App
	repo        *repository.MemoryRepository
	queue       *recordingQueue
	generations *service.GenerationService
	generator   *cannedGenerator
}

// setupApp creates a Fiber app with the same routes as main.go. Storage is in
// memory and the rate limiter runs without redis, so nothing external is needed.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	log := zerolog.Nop()
	validate := validator.New()

	repo := repository.NewMemoryRepository()
	queue := &recordingQueue{}
	generator := &cannedGenerator{}

	// Services
	generationService := service.NewGenerationService(repo, queue, "", 0, log)
	lessonService := service.NewLessonService(generator, log)

	// Handlers
	generationHandler := handler.NewGenerationHandler(generationService, validate)
	lessonHandler := handler.NewLessonHandler(lessonService, validate)

	rateLimiter := middleware.NewRateLimiter(nil, log)

	app := fiber.New()

	// Base routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"replicate": false,
				"gemini":    false,
				"r2":        false,
				"redis":     false,
			},
		})
	})

	api := app.Group("/api")

	images := api.Group("/images")
	images.Post("/generate", rateLimiter.GenerateLimit(10000), generationHandler.Generate)
	images.Get("/pending", generationHandler.Pending)
	images.Get("/gallery", generationHandler.Gallery)
	images.Get("/:jobId", generationHandler.Get)
	images.Post("/:jobId/cancel", generationHandler.Cancel)

	lessons := api.Group("/lessons", rateLimiter.LessonLimit(10000))
	lessons.Post("/generate", lessonHandler.Generate)

	return &testApp{
		app:         app,
		repo:        repo,
		queue:       queue,
		generations: generationService,
		generator:   generator,
	}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// withToken performs a request carrying a Replicate token.
func withToken(app *fiber.App, method, path, body string) (*http.Response, error) {
	return doRequest(app, method, path, body, map[string]string{
		handler.HeaderReplicateToken: testReplicateToken,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an error envelope.
func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	code, _ := e["code"].(string)
	return code
}
