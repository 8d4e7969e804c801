package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/leadharvest/config"
	"github.com/use-agent/leadharvest/harvest"
	"github.com/use-agent/leadharvest/models"
	"github.com/use-agent/leadharvest/webhook"
)

// Job states.
const (
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Runner executes a harvest run.
type Runner interface {
	Execute(ctx context.Context, run *harvest.Run) error
}

// Job is one asynchronous harvest.
type Job struct {
	ID        string
	Query     string
	CreatedAt int64

	run *harvest.Run

	mu     sync.Mutex
	status string
	output *models.HarvestOutput
	err    *models.HarvestError
}

func (j *Job) finish(out *models.HarvestOutput, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.output = out
	if err != nil {
		j.status = JobFailed
		j.err = asHarvestError(err)
		return
	}
	j.status = JobCompleted
}

// Status snapshots the job for the status endpoint.
func (j *Job) Status() models.HarvestJobStatusResponse {
	processed, total := j.run.Progress()

	j.mu.Lock()
	defer j.mu.Unlock()
	resp := models.HarvestJobStatusResponse{
		ID:        j.ID,
		Status:    j.status,
		Query:     j.Query,
		CreatedAt: j.CreatedAt,
		Processed: processed,
		Total:     total,
		Output:    j.output,
	}
	if j.err != nil {
		resp.Error = j.err.ToDetail()
	}
	return resp
}

// JobStore holds in-flight and finished jobs. Finished jobs older than the
// TTL are evicted in the background.
type JobStore struct {
	jobs sync.Map // id -> *Job
	ttl  time.Duration
	done chan struct{}
	once sync.Once
}

// NewJobStore creates a store and starts its eviction loop.
func NewJobStore(ttl time.Duration) *JobStore {
	s := &JobStore{ttl: ttl, done: make(chan struct{})}
	go s.cleanupLoop()
	return s
}

func (s *JobStore) create(query string, run *harvest.Run) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Query:     query,
		CreatedAt: time.Now().Unix(),
		run:       run,
		status:    JobProcessing,
	}
	s.jobs.Store(job.ID, job)
	return job
}

// Get returns the job with id.
func (s *JobStore) Get(id string) (*Job, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

// Running counts jobs still processing.
func (s *JobStore) Running() int {
	if s == nil {
		return 0
	}
	n := 0
	s.jobs.Range(func(_, v any) bool {
		j := v.(*Job)
		j.mu.Lock()
		if j.status == JobProcessing {
			n++
		}
		j.mu.Unlock()
		return true
	})
	return n
}

// Stop ends the eviction loop.
func (s *JobStore) Stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *JobStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.ttl).Unix()
			s.jobs.Range(func(key, value any) bool {
				j := value.(*Job)
				j.mu.Lock()
				expired := j.status != JobProcessing && j.CreatedAt < cutoff
				j.mu.Unlock()
				if expired {
					s.jobs.Delete(key)
				}
				return true
			})
		}
	}
}

// Harvest returns a handler for POST /api/v1/harvest.
//
// Sync requests block until the run ends. Async requests get a job id at
// once; the result is polled via GetHarvest and optionally pushed to a
// webhook.
func Harvest(runner Runner, jobs *JobStore, wh config.WebhookConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.HarvestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		req.Defaults()

		run := harvest.NewRun(req.Query, req.TargetCount)

		if req.Async {
			job := jobs.create(req.Query, run)
			notifier := notifierFor(req, wh)
			go runJob(runner, job, notifier)

			c.JSON(http.StatusAccepted, models.HarvestJobResponse{ID: job.ID, Status: JobProcessing})
			return
		}

		err := runner.Execute(c.Request.Context(), run)
		out := run.Output()
		timing := models.TimingInfo{TotalMs: time.Since(start).Milliseconds()}
		if err != nil {
			he := asHarvestError(err)
			c.JSON(mapErrorToStatus(he), models.HarvestResponse{Output: out, Timing: timing, Error: he.ToDetail()})
			return
		}
		c.JSON(http.StatusOK, models.HarvestResponse{Success: true, Output: out, Timing: timing})
	}
}

// GetHarvest returns a handler for GET /api/v1/harvest/:id.
func GetHarvest(jobs *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := jobs.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error: &models.ErrorDetail{Code: models.ErrCodeNotFound, Message: "harvest job not found"},
			})
			return
		}
		c.JSON(http.StatusOK, job.Status())
	}
}

func notifierFor(req models.HarvestRequest, wh config.WebhookConfig) *webhook.Notifier {
	switch {
	case req.WebhookURL != "":
		return webhook.NewNotifier(req.WebhookURL, req.WebhookSecret)
	case wh.URL != "":
		return webhook.NewNotifier(wh.URL, wh.Secret)
	}
	return nil
}

func runJob(runner Runner, job *Job, notifier *webhook.Notifier) {
	err := runner.Execute(context.Background(), job.run)
	job.finish(job.run.Output(), err)

	status := job.Status()
	slog.Info("harvest job finished",
		"id", job.ID,
		"status", status.Status,
		"processed", status.Processed,
		"total", status.Total,
	)

	if notifier == nil {
		return
	}
	event := webhook.EventHarvestCompleted
	if err != nil {
		event = webhook.EventHarvestFailed
	}
	notifier.DeliverAsync(webhook.NewEvent(event, job.ID, status))
}
