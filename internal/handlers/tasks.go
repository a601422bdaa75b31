package handlers

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/models"
	"github.com/alt-f6/znaniya-boost-bot/internal/services"

	"github.com/gin-gonic/gin"
)

const tasksPage = "tasks.html"

var tasksPageTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Saved Tasks</title></head>
<body>
<h1>Saved tasks</h1>
{{- if .Tasks }}
<ul>
{{- range .Tasks }}
<li>{{ .Description }} — {{ .When }} (User ID: {{ .UserID }})</li>
{{- end }}
</ul>
{{- else }}
<p>No tasks found.</p>
{{- end }}
</body>
</html>
`

// Templates returns the HTML templates the read-only view renders.
func Templates() *template.Template {
	return template.Must(template.New(tasksPage).Parse(tasksPageTemplate))
}

type TaskLister interface {
	ListAllTasks(ctx context.Context) ([]models.Task, error)
	ListTasks(ctx context.Context, userID int64) ([]models.Task, error)
}

type TaskHandler struct {
	tasks TaskLister
	loc   *time.Location
}

func NewTaskHandler(tasks TaskLister, loc *time.Location) *TaskHandler {
	if loc == nil {
		loc = time.Local
	}
	return &TaskHandler{tasks: tasks, loc: loc}
}

type taskRow struct {
	Description string
	When        string
	UserID      int64
}

// TasksPage renders every stored task.
// GET /
func (h *TaskHandler) TasksPage(c *gin.Context) {
	tasks, err := h.tasks.ListAllTasks(c.Request.Context())
	if err != nil {
		handleTaskError(c, err)
		return
	}

	rows := make([]taskRow, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, taskRow{Description: t.Description, When: t.ScheduledLabel(h.loc), UserID: t.UserID})
	}

	c.HTML(http.StatusOK, tasksPage, gin.H{"Tasks": rows})
}

// GetTasks returns stored tasks as JSON, optionally only those of user_id.
// GET /api/v1/tasks
func (h *TaskHandler) GetTasks(c *gin.Context) {
	var (
		tasks []models.Task
		err   error
	)

	if raw := c.Query("user_id"); raw != "" {
		userID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be an integer"})
			return
		}
		tasks, err = h.tasks.ListTasks(c.Request.Context(), userID)
	} else {
		tasks, err = h.tasks.ListAllTasks(c.Request.Context())
	}
	if err != nil {
		handleTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

func handleTaskError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "task not found",
		})
	} else {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to process task request",
		})
	}
}
