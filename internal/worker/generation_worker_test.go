package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/jangxam/api/internal/client"
	"github.com/jangxam/api/internal/config"
	"github.com/jangxam/api/internal/model"
	"github.com/jangxam/api/internal/repository"
	"github.com/jangxam/api/internal/service"
	"github.com/jangxam/api/internal/websocket"
)

type captureQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *captureQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "t"}, nil
}

// replicateStub answers submissions with a fixed id and walks statuses on
// each poll, repeating the last one.
type replicateStub struct {
	mu       sync.Mutex
	statuses []string
	polls    int
	posts    int
	submitFn func(w http.ResponseWriter)
	onPoll   func(n int)
}

func (s *replicateStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodPost {
		s.mu.Lock()
		s.posts++
		s.mu.Unlock()
		if s.submitFn != nil {
			s.submitFn(w)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"pred-42","status":"starting"}`)
		return
	}

	s.mu.Lock()
	status := s.statuses[min(s.polls, len(s.statuses)-1)]
	s.polls++
	n := s.polls
	s.mu.Unlock()
	if s.onPoll != nil {
		s.onPoll(n)
	}

	switch status {
	case "succeeded":
		_, _ = io.WriteString(w, `{"id":"pred-42","status":"succeeded","output":["https://cdn.example/0.png","https://cdn.example/1.png"]}`)
	case "failed":
		_, _ = io.WriteString(w, `{"id":"pred-42","status":"failed","error":"NSFW content detected"}`)
	default:
		_, _ = io.WriteString(w, `{"id":"pred-42","status":"`+status+`"}`)
	}
}

func (s *replicateStub) counts() (posts, polls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts, s.polls
}

type harness struct {
	repo   *repository.MemoryRepository
	svc    *service.GenerationService
	worker *GenerationWorker
	hub    *websocket.Hub
	queue  *captureQueue
	stub   *replicateStub
}

func newHarness(t *testing.T, stub *replicateStub, timeout time.Duration) *harness {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	log := zerolog.Nop()
	repo := repository.NewMemoryRepository()
	queue := &captureQueue{}
	svc := service.NewGenerationService(repo, queue, "", timeout, log)
	images := client.NewReplicateClient(&config.ReplicateConfig{
		BaseURL:        srv.URL,
		ModelVersion:   "v",
		RequestTimeout: time.Second,
	}, log)
	hub := websocket.NewHub(log)
	go hub.Run()

	return &harness{
		repo:   repo,
		svc:    svc,
		worker: NewGenerationWorker(svc, images, service.NewAssetService(nil, log), hub, 5*time.Millisecond, timeout, log),
		hub:    hub,
		queue:  queue,
		stub:   stub,
	}
}

// start queues a generation and subscribes to it under its placeholder id
func (h *harness) start(t *testing.T) (string, *asynq.Task, *websocket.Client) {
	t.Helper()
	resp, err := h.svc.StartGeneration(context.Background(), model.GenerationRequest{Prompt: "a baobab"}, "r8_user")
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	sub := &websocket.Client{JobID: resp.JobID, Send: make(chan []byte, 64)}
	h.hub.Register(sub)
	return resp.JobID, h.queue.tasks[len(h.queue.tasks)-1], sub
}

func drain(sub *websocket.Client, wait time.Duration) []map[string]interface{} {
	var msgs []map[string]interface{}
	deadline := time.After(wait)
	for {
		select {
		case data := <-sub.Send:
			var m map[string]interface{}
			_ = json.Unmarshal(data, &m)
			msgs = append(msgs, m)
		case <-deadline:
			return msgs
		}
	}
}

func countType(msgs []map[string]interface{}, typ string) int {
	n := 0
	for _, m := range msgs {
		if m["type"] == typ {
			n++
		}
	}
	return n
}

func TestProcessTask_Succeeded(t *testing.T) {
	h := newHarness(t, &replicateStub{statuses: []string{"starting", "processing", "succeeded"}}, time.Second)
	placeholder, task, sub := h.start(t)

	if err := h.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	rec, err := h.svc.GetGeneration(context.Background(), placeholder)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if rec.ID != "pred-42" || rec.Outcome != model.OutcomeSucceeded || len(rec.Output) != 2 {
		t.Errorf("unexpected record %+v", rec)
	}

	gallery, _ := h.svc.ListGallery(context.Background(), 0)
	if len(gallery.Images) != 2 || gallery.Images[0].ID != "pred-42-0" || gallery.Images[0].Prompt != "a baobab" {
		t.Errorf("unexpected gallery %+v", gallery.Images)
	}

	pending, _ := h.svc.ListPending(context.Background())
	if len(pending.Jobs) != 0 {
		t.Errorf("settled generation still pending")
	}

	msgs := drain(sub, 100*time.Millisecond)
	if countType(msgs, model.WSMessageTypeSubmitted) != 1 {
		t.Errorf("expected one submitted message, got %v", msgs)
	}
	if countType(msgs, model.WSMessageTypeProgress) != 3 {
		t.Errorf("expected three progress messages, got %v", msgs)
	}
	if countType(msgs, model.WSMessageTypeComplete) != 1 || countType(msgs, model.WSMessageTypeError) != 0 {
		t.Errorf("expected exactly one completion, got %v", msgs)
	}
}

func TestProcessTask_RemoteFailure(t *testing.T) {
	h := newHarness(t, &replicateStub{statuses: []string{"processing", "failed"}}, time.Second)
	placeholder, task, sub := h.start(t)

	if err := h.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("remote failure is not a task error: %v", err)
	}

	rec, _ := h.svc.GetGeneration(context.Background(), placeholder)
	if rec.Outcome != model.OutcomeFailed || rec.Error != "NSFW content detected" {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(rec.Output) != 0 {
		t.Errorf("failed generation carries output %v", rec.Output)
	}

	msgs := drain(sub, 100*time.Millisecond)
	if countType(msgs, model.WSMessageTypeError) != 1 || countType(msgs, model.WSMessageTypeComplete) != 0 {
		t.Errorf("expected exactly one error message, got %v", msgs)
	}
}

func TestProcessTask_CanceledBeforeSubmission(t *testing.T) {
	stub := &replicateStub{statuses: []string{"processing"}}
	h := newHarness(t, stub, time.Second)
	placeholder, task, _ := h.start(t)

	if _, err := h.svc.CancelGeneration(context.Background(), placeholder); err != nil {
		t.Fatalf("CancelGeneration: %v", err)
	}
	if err := h.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if posts, _ := stub.counts(); posts != 0 {
		t.Errorf("canceled generation was submitted")
	}
	rec, _ := h.svc.GetGeneration(context.Background(), placeholder)
	if rec.Outcome != model.OutcomeCanceled {
		t.Errorf("expected canceled outcome, got %q", rec.Outcome)
	}
}

func TestProcessTask_CanceledWhilePolling(t *testing.T) {
	stub := &replicateStub{statuses: []string{"processing"}}
	h := newHarness(t, stub, 5*time.Second)
	placeholder, task, _ := h.start(t)

	stub.onPoll = func(n int) {
		if n == 2 {
			_ = h.repo.RequestCancel(context.Background(), placeholder)
		}
	}

	start := time.Now()
	if err := h.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancellation not honoured promptly: %v", time.Since(start))
	}

	_, polls := stub.counts()
	if polls != 2 {
		t.Errorf("expected polling to stop after the second poll, got %d polls", polls)
	}
	rec, _ := h.svc.GetGeneration(context.Background(), "pred-42")
	if rec.Outcome != model.OutcomeCanceled {
		t.Errorf("expected canceled outcome, got %q", rec.Outcome)
	}
}

func TestProcessTask_TimedOut(t *testing.T) {
	h := newHarness(t, &replicateStub{statuses: []string{"processing"}}, 50*time.Millisecond)
	placeholder, task, sub := h.start(t)

	if err := h.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("timeout is an outcome, got task error %v", err)
	}

	rec, _ := h.svc.GetGeneration(context.Background(), placeholder)
	if rec.Outcome != model.OutcomeTimedOut {
		t.Errorf("expected timed_out outcome, got %q", rec.Outcome)
	}
	if rec.Status != model.JobStatusProcessing {
		t.Errorf("last observed status lost: %s", rec.Status)
	}

	msgs := drain(sub, 100*time.Millisecond)
	if countType(msgs, model.WSMessageTypeError) != 1 {
		t.Errorf("expected one error message, got %v", msgs)
	}
}

func TestProcessTask_SubmitRejected(t *testing.T) {
	stub := &replicateStub{
		statuses: []string{"processing"},
		submitFn: func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Invalid token."}`)
		},
	}
	h := newHarness(t, stub, time.Second)
	placeholder, task, sub := h.start(t)

	if err := h.worker.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("expected task error")
	}

	rec, _ := h.svc.GetGeneration(context.Background(), placeholder)
	if rec.Outcome != model.OutcomeError || !strings.Contains(rec.Error, "Invalid token.") {
		t.Errorf("unexpected record %+v", rec)
	}

	msgs := drain(sub, 100*time.Millisecond)
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %v", msgs)
	}
	errObj, _ := msgs[0]["error"].(map[string]interface{})
	if errObj["code"] != "UNAUTHORIZED" {
		t.Errorf("unexpected error code %v", errObj["code"])
	}
}

func TestProcessTask_InvalidPayload(t *testing.T) {
	h := newHarness(t, &replicateStub{statuses: []string{"processing"}}, time.Second)

	err := h.worker.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeGenerateImage, []byte("{")))
	if err == nil || !strings.Contains(err.Error(), "unmarshal") {
		t.Fatalf("expected unmarshal error, got %v", err)
	}
}

func TestProcessTask_RedeliveredAfterSettlement(t *testing.T) {
	stub := &replicateStub{statuses: []string{"processing", "succeeded"}}
	h := newHarness(t, stub, time.Second)
	placeholder, task, _ := h.start(t)

	if err := h.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, pollsAfterFirst := stub.counts()

	if err := h.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("second run: %v", err)
	}

	posts, polls := stub.counts()
	if posts != 1 {
		t.Errorf("expected one submission, got %d", posts)
	}
	if polls != pollsAfterFirst {
		t.Errorf("settled generation was polled again: %d -> %d", pollsAfterFirst, polls)
	}

	rec, _ := h.svc.GetGeneration(context.Background(), placeholder)
	if rec.Outcome != model.OutcomeSucceeded {
		t.Errorf("outcome changed to %q", rec.Outcome)
	}
	pending, _ := h.svc.ListPending(context.Background())
	if len(pending.Jobs) != 0 {
		t.Errorf("settled generation pending again: %v", pending.Jobs)
	}
}

func TestProcessTask_ResumesSubmittedGeneration(t *testing.T) {
	stub := &replicateStub{statuses: []string{"processing", "succeeded"}}
	h := newHarness(t, stub, time.Second)
	placeholder, task, _ := h.start(t)

	// a previous run submitted and stopped before settling
	if _, err := h.svc.MarkSubmitted(context.Background(), placeholder, &model.Job{ID: "pred-42", Status: model.JobStatusStarting}); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}

	if err := h.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if posts, polls := stub.counts(); posts != 0 || polls == 0 {
		t.Errorf("expected polling without resubmission, got posts=%d polls=%d", posts, polls)
	}
	rec, _ := h.svc.GetGeneration(context.Background(), placeholder)
	if rec.Outcome != model.OutcomeSucceeded {
		t.Errorf("expected succeeded outcome, got %q", rec.Outcome)
	}
}
