package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mpcrawl/internal/api/middleware"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/metrics"
	"github.com/timmy/mpcrawl/internal/progress"
	"github.com/timmy/mpcrawl/internal/service"
)

// DefaultHeartbeatInterval is how often an idle event stream gets a comment.
const DefaultHeartbeatInterval = 15 * time.Second

// TaskHandler handles crawl task endpoints.
type TaskHandler struct {
	tasks          *service.TaskManager
	events         *progress.Broadcaster
	metrics        *metrics.Metrics
	defaults       domain.TaskOptions
	defaultAccount string
	heartbeat      time.Duration
}

// TaskHandlerConfig holds the request defaults of a TaskHandler.
type TaskHandlerConfig struct {
	Defaults          domain.TaskOptions
	DefaultAccount    string
	HeartbeatInterval time.Duration
}

// NewTaskHandler creates a new task handler.
// Parameters:
//   - tasks: task manager.
//   - events: progress broadcaster the manager publishes to.
//   - m: optional metrics.
//   - cfg: request defaults.
//
// Returns:
//   - *TaskHandler: initialized handler.
func NewTaskHandler(tasks *service.TaskManager, events *progress.Broadcaster, m *metrics.Metrics, cfg TaskHandlerConfig) *TaskHandler {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &TaskHandler{
		tasks:          tasks,
		events:         events,
		metrics:        m,
		defaults:       cfg.Defaults,
		defaultAccount: cfg.DefaultAccount,
		heartbeat:      heartbeat,
	}
}

// StartTaskRequest is the body of POST /api/v1/tasks. Unset fields take the
// configured defaults.
type StartTaskRequest struct {
	Account               string  `json:"account"`
	CrawlDelay            *string `json:"crawl_delay"` // Go duration, e.g. "1.5s"
	MaxRetries            *int    `json:"max_retries"`
	MaxConcurrentRequests *int    `json:"max_concurrent_requests"`
	MaxPages              *int    `json:"max_pages"`
	FingerprintPolicy     *string `json:"fingerprint_policy"`
	UpdateOnDuplicate     *bool   `json:"update_on_duplicate"`
}

func (r StartTaskRequest) options(base domain.TaskOptions) (domain.TaskOptions, error) {
	opts := base
	if r.CrawlDelay != nil {
		d, err := time.ParseDuration(*r.CrawlDelay)
		if err != nil {
			return opts, &domain.ConfigError{Field: "crawl_delay", Reason: err.Error()}
		}
		opts.CrawlDelay = d
	}
	if r.MaxRetries != nil {
		opts.MaxRetries = *r.MaxRetries
	}
	if r.MaxConcurrentRequests != nil {
		opts.MaxConcurrentRequests = *r.MaxConcurrentRequests
	}
	if r.MaxPages != nil {
		opts.MaxPages = *r.MaxPages
	}
	if r.FingerprintPolicy != nil {
		opts.FingerprintPolicy = domain.FingerprintPolicy(*r.FingerprintPolicy)
	}
	if r.UpdateOnDuplicate != nil {
		opts.UpdateOnDuplicate = *r.UpdateOnDuplicate
	}
	return opts, nil
}

// Start handles POST /api/v1/tasks.
func (h *TaskHandler) Start(c *gin.Context) {
	var req StartTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Account) == "" {
		req.Account = h.defaultAccount
	}
	opts, err := req.options(h.defaults)
	if err != nil {
		writeError(c, err)
		return
	}

	id, err := h.tasks.StartTask(c.Request.Context(), req.Account, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	task, err := h.tasks.GetTask(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

// List handles GET /api/v1/tasks?account=&status=&limit=.
func (h *TaskHandler) List(c *gin.Context) {
	filter := domain.TaskFilter{Account: c.Query("account")}
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			status, err := domain.ParseTaskStatus(strings.TrimSpace(s))
			if err != nil {
				writeError(c, err)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	tasks := h.tasks.ListTasks(filter)
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

// Get handles GET /api/v1/tasks/:id.
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.tasks.GetTask(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Stop handles POST /api/v1/tasks/:id/stop.
func (h *TaskHandler) Stop(c *gin.Context) {
	h.control(c, h.tasks.StopTask)
}

// Pause handles POST /api/v1/tasks/:id/pause.
func (h *TaskHandler) Pause(c *gin.Context) {
	h.control(c, h.tasks.PauseTask)
}

// Resume handles POST /api/v1/tasks/:id/resume.
func (h *TaskHandler) Resume(c *gin.Context) {
	h.control(c, h.tasks.ResumeTask)
}

func (h *TaskHandler) control(c *gin.Context, op func(id string) error) {
	id := c.Param("id")
	if err := op(id); err != nil {
		writeError(c, err)
		return
	}
	task, err := h.tasks.GetTask(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

// Events handles GET /api/v1/tasks/events?task_id=. It streams progress
// events as server-sent events. With exactly one task_id the stream ends
// after that task's terminal event.
func (h *TaskHandler) Events(c *gin.Context) {
	var ids []string
	for _, raw := range c.QueryArray("task_id") {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}

	// Subscribe before the snapshot so a terminal event cannot slip between them.
	sub := h.events.Subscribe(ids...)
	defer func() {
		sub.Close()
		h.metrics.EventsDroppedAdd(sub.Dropped())
	}()

	var single *domain.Task
	if len(ids) == 1 {
		task, err := h.tasks.GetTask(ids[0])
		if err != nil {
			writeError(c, err)
			return
		}
		single = &task
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("connected", gin.H{"task_ids": ids, "timestamp": time.Now().UTC()})
	if single != nil {
		c.SSEvent("task", single)
		if single.Status.Terminal() {
			c.Writer.Flush()
			return
		}
	}
	c.Writer.Flush()

	log := middleware.GetLogger(c)
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.SSEvent(string(ev.Kind), ev)
			c.Writer.Flush()
			if single != nil && ev.Kind.Terminal() {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprintf(c.Writer, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
				log.WithError(err).Debug("event stream heartbeat failed")
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
