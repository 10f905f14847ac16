package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"videdit/config"
	"videdit/coordinator"
	"videdit/params"
	"videdit/registry"
	"videdit/task"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Handler struct {
	coord    *coordinator.Coordinator
	tasks    *task.Manager
	registry *registry.Registry
	cfg      *config.Config
}

func NewHandler(coord *coordinator.Coordinator, tasks *task.Manager, reg *registry.Registry, cfg *config.Config) *Handler {
	return &Handler{
		coord:    coord,
		tasks:    tasks,
		registry: reg,
		cfg:      cfg,
	}
}

type TaskRequest struct {
	Processor  string         `json:"processor"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters"`
	IsAsync    *bool          `json:"is_async"`
}

type statusView struct {
	TaskID     string      `json:"task_id"`
	Processor  string      `json:"processor"`
	Operation  string      `json:"operation"`
	Status     task.Status `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at"`
}

type artifactView struct {
	Path        string  `json:"path"`
	DownloadURL string  `json:"download_url,omitempty"`
	Duration    float64 `json:"duration"`
}

type resultView struct {
	OutputPath  string         `json:"output_path,omitempty"`
	DownloadURL string         `json:"download_url,omitempty"`
	Duration    float64        `json:"duration"`
	Parts       []artifactView `json:"parts,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

type taskResultView struct {
	TaskID string      `json:"task_id"`
	Status task.Status `json:"status"`
	Result *resultView `json:"result,omitempty"`
	Error  *task.Error `json:"error,omitempty"`
}

func newStatusView(t *task.Task) statusView {
	return statusView{
		TaskID:     t.ID,
		Processor:  t.Processor,
		Operation:  t.Operation,
		Status:     t.Status,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
}

// errorStatus maps an error to its HTTP status and response body.
func errorStatus(err error) (int, gin.H) {
	body := gin.H{"error": err.Error()}
	var kinded interface{ ErrorKind() string }
	if errors.As(err, &kinded) {
		body["kind"] = kinded.ErrorKind()
	}
	var verr *params.ValidationError
	if errors.As(err, &verr) {
		body["field"] = verr.Field
	}

	var (
		unknown     *registry.UnknownProcessorError
		unsupported *registry.UnsupportedOperationError
		transition  *task.InvalidTransitionError
	)
	switch {
	case verr != nil, errors.As(err, &unknown), errors.As(err, &unsupported):
		return http.StatusBadRequest, body
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound, body
	case errors.As(err, &transition):
		return http.StatusConflict, body
	case errors.Is(err, coordinator.ErrQueueFull):
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, body
}

func abortWithError(c *gin.Context, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, body)
}

// handleCreateTask validates and records a task. Async tasks are answered
// with their ID at once; sync tasks with their final result.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": task.KindValidation})
		return
	}
	async := true
	if req.IsAsync != nil {
		async = *req.IsAsync
	}

	t, err := h.coord.Submit(c.Request.Context(), coordinator.Submission{
		Processor:  req.Processor,
		Operation:  req.Operation,
		Parameters: req.Parameters,
		Async:      async,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if async {
		c.JSON(http.StatusAccepted, gin.H{"task_id": t.ID})
		return
	}
	c.JSON(http.StatusOK, h.resultView(c, t))
}

// handleListTasks lists tasks newest first, one page at a time.
func (h *Handler) handleListTasks(c *gin.Context) {
	page, err := positiveQuery(c, "page", 1)
	if err != nil {
		abortWithError(c, err)
		return
	}
	size, err := positiveQuery(c, "page_size", defaultPageSize)
	if err != nil {
		abortWithError(c, err)
		return
	}
	size = min(size, maxPageSize)

	tasks, total, err := h.tasks.List(c.Request.Context(), task.Filter{
		Status:    task.Status(c.Query("status")),
		Processor: c.Query("processor"),
		Operation: c.Query("operation"),
		Offset:    (page - 1) * size,
		Limit:     size,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	views := make([]statusView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, newStatusView(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views, "total": total, "page": page, "page_size": size})
}

func positiveQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, params.Invalid(name, "must be a positive integer")
	}
	return v, nil
}

// handleGetTaskStatus retrieves the status of a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	t, err := h.tasks.Get(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatusView(t))
}

// handleGetTaskResult returns the result of a completed task or the error of
// a failed one.
func (h *Handler) handleGetTaskResult(c *gin.Context) {
	t, err := h.tasks.Get(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.resultView(c, t))
}

func (h *Handler) resultView(c *gin.Context, t *task.Task) taskResultView {
	view := taskResultView{TaskID: t.ID, Status: t.Status, Error: t.Error}
	if t.Status != task.StatusCompleted || t.Result == nil {
		return view
	}
	r := &resultView{
		OutputPath: t.Result.OutputPath,
		Duration:   t.Result.Duration,
		Details:    t.Result.Details,
	}
	if r.OutputPath != "" {
		r.DownloadURL = h.downloadURL(c, r.OutputPath)
	}
	for _, p := range t.Result.Parts {
		r.Parts = append(r.Parts, artifactView{Path: p.Path, DownloadURL: h.downloadURL(c, p.Path), Duration: p.Duration})
	}
	view.Result = r
	return view
}

// downloadURL builds the public URL of an artifact under the videos
// directory, or "" for paths outside it.
func (h *Handler) downloadURL(c *gin.Context, path string) string {
	rel, err := filepath.Rel(h.cfg.VideosDir(), path)
	if err != nil || !filepath.IsLocal(rel) {
		return ""
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return fmt.Sprintf("%s/api/v1/files/%s", baseURL, filepath.ToSlash(rel))
}

// handleCancelTask cancels a pending or running task.
func (h *Handler) handleCancelTask(c *gin.Context) {
	t, err := h.coord.Cancel(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested", "task_id": t.ID, "status": t.Status})
}

// handleGetFile serves an output file from the videos directory.
func (h *Handler) handleGetFile(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("filename"), "/")
	if !filepath.IsLocal(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}
	fullPath := filepath.Join(h.cfg.VideosDir(), filepath.FromSlash(name))
	info, err := os.Stat(fullPath)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.File(fullPath)
}

func (h *Handler) handleListProcessors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"processors": h.registry.Describe()})
}
