// Package bot turns chat messages and button presses into task operations.
// It does not know about any particular messenger; see max.go for the transport.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/models"
	"github.com/alt-f6/znaniya-boost-bot/internal/services"
	"github.com/alt-f6/znaniya-boost-bot/internal/session"
)

const (
	PayloadAddTask       = "menu_add_task"
	PayloadViewTasks     = "menu_view_tasks"
	PayloadHelp          = "menu_help"
	PayloadCancel        = "cancel"
	payloadDelete        = "delete_"
	payloadConfirmDelete = "confirm_delete_"
	payloadEdit          = "edit_"
)

const (
	msgAddPrompt     = "✏ Send the task as:\n<description> <YYYY-MM-DD HH:MM>"
	msgEditPrompt    = "✏ Send the new description for this task:"
	msgNoTasks       = "📭 You have no tasks."
	msgTaskGone      = "⚠ That task no longer exists."
	msgCancelled     = "Action cancelled."
	msgUnknown       = "🤔 I didn't get that. Use /menu to see what I can do."
	msgInternalError = "❌ Something went wrong, please try again later."
)

type Intent string

const (
	IntentDefault  Intent = "default"
	IntentPositive Intent = "positive"
	IntentNegative Intent = "negative"
)

type Button struct {
	Text    string
	Payload string
	Intent  Intent
}

// Reply is one outgoing message; each inner slice of Buttons is a keyboard row.
type Reply struct {
	Text    string
	Buttons [][]Button
}

func text(s string) Reply {
	return Reply{Text: s}
}

// TaskManager is the part of the task service the chat surface needs.
type TaskManager interface {
	AddTask(ctx context.Context, userID int64, text string) (services.AddResult, error)
	ListTasks(ctx context.Context, userID int64) ([]models.Task, error)
	GetTask(ctx context.Context, userID int64, taskID uint) (models.Task, error)
	EditDescription(ctx context.Context, userID int64, taskID uint, text string) (models.Task, error)
	Reschedule(ctx context.Context, userID int64, taskID uint, stamp string) (services.AddResult, error)
	DeleteTask(ctx context.Context, userID int64, taskID uint) (models.Task, error)
}

type Handler struct {
	tasks    TaskManager
	sessions session.Store
	loc      *time.Location
}

func NewHandler(tasks TaskManager, sessions session.Store, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{tasks: tasks, sessions: sessions, loc: loc}
}

func mainMenu() [][]Button {
	return [][]Button{
		{{Text: "➕ Add task", Payload: PayloadAddTask, Intent: IntentPositive}},
		{{Text: "📋 View tasks", Payload: PayloadViewTasks, Intent: IntentDefault}},
		{{Text: "❓ Help", Payload: PayloadHelp, Intent: IntentDefault}},
	}
}

func helpText() string {
	return "📖 Help\n\n" +
		"➕ Add task: press the button (or send /add) and then send\n" +
		"   <description> <YYYY-MM-DD HH:MM>\n\n" +
		"📋 View tasks: press the button (or send /list) to see your tasks with Delete and Edit buttons.\n\n" +
		"🗓 /reschedule <id> <YYYY-MM-DD HH:MM> moves a task to a new time.\n" +
		"🚫 /cancel stops whatever you were doing."
}

// HandleMessage handles a plain text message from userID.
func (h *Handler) HandleMessage(ctx context.Context, userID int64, firstName, message string) []Reply {
	message = strings.TrimSpace(message)

	if strings.HasPrefix(message, "/") {
		return h.handleCommand(ctx, userID, firstName, message)
	}

	state, err := h.sessions.Get(ctx, userID)
	if err != nil {
		log.Printf("⚠️ Failed to load session for user %d: %v", userID, err)
		return []Reply{text(msgInternalError)}
	}

	switch state.Kind {
	case session.AwaitingNewTask:
		return h.addTask(ctx, userID, message)
	case session.AwaitingEditDescription:
		return h.editDescription(ctx, userID, state.TaskID, message)
	default:
		return []Reply{{Text: msgUnknown, Buttons: mainMenu()}}
	}
}

func (h *Handler) handleCommand(ctx context.Context, userID int64, firstName, message string) []Reply {
	command, args, _ := strings.Cut(message, " ")
	args = strings.TrimSpace(args)

	switch strings.ToLower(command) {
	case "/start", "/menu":
		h.clearSession(ctx, userID)
		greeting := "👋 Hi! This is ZnaniyaBoost. Choose an action:"
		if firstName != "" {
			greeting = fmt.Sprintf("👋 Hi, %s! This is ZnaniyaBoost. Choose an action:", firstName)
		}
		return []Reply{{Text: greeting, Buttons: mainMenu()}}
	case "/add":
		if args != "" {
			return h.addTask(ctx, userID, args)
		}
		return h.startAdd(ctx, userID)
	case "/list", "/tasks":
		return h.listTasks(ctx, userID)
	case "/help":
		return []Reply{text(helpText())}
	case "/cancel":
		h.clearSession(ctx, userID)
		return []Reply{text(msgCancelled)}
	case "/reschedule":
		return h.reschedule(ctx, userID, args)
	default:
		return []Reply{{Text: msgUnknown, Buttons: mainMenu()}}
	}
}

// HandleCallback handles an inline button press.
func (h *Handler) HandleCallback(ctx context.Context, userID int64, payload string) []Reply {
	switch {
	case payload == PayloadAddTask:
		return h.startAdd(ctx, userID)
	case payload == PayloadViewTasks:
		return h.listTasks(ctx, userID)
	case payload == PayloadHelp:
		return []Reply{text(helpText())}
	case payload == PayloadCancel:
		h.clearSession(ctx, userID)
		return []Reply{text(msgCancelled)}
	case strings.HasPrefix(payload, payloadConfirmDelete):
		id, ok := parseTaskID(strings.TrimPrefix(payload, payloadConfirmDelete))
		if !ok {
			break
		}
		return h.deleteTask(ctx, userID, id)
	case strings.HasPrefix(payload, payloadDelete):
		id, ok := parseTaskID(strings.TrimPrefix(payload, payloadDelete))
		if !ok {
			break
		}
		return []Reply{{
			Text: "Are you sure you want to delete this task?",
			Buttons: [][]Button{
				{{Text: "✅ Yes, delete", Payload: payloadConfirmDelete + strconv.FormatUint(uint64(id), 10), Intent: IntentNegative}},
				{{Text: "❌ Cancel", Payload: PayloadCancel, Intent: IntentDefault}},
			},
		}}
	case strings.HasPrefix(payload, payloadEdit):
		id, ok := parseTaskID(strings.TrimPrefix(payload, payloadEdit))
		if !ok {
			break
		}
		return h.startEdit(ctx, userID, id)
	}

	log.Printf("⚠️ Unknown callback payload %q from user %d", payload, userID)
	return []Reply{{Text: msgUnknown, Buttons: mainMenu()}}
}

func parseTaskID(s string) (uint, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) startAdd(ctx context.Context, userID int64) []Reply {
	if err := h.sessions.Set(ctx, userID, session.NewTaskState()); err != nil {
		log.Printf("⚠️ Failed to save session for user %d: %v", userID, err)
		return []Reply{text(msgInternalError)}
	}
	return []Reply{text(msgAddPrompt)}
}

func (h *Handler) startEdit(ctx context.Context, userID int64, taskID uint) []Reply {
	if _, err := h.tasks.GetTask(ctx, userID, taskID); err != nil {
		return h.taskError(userID, err)
	}
	if err := h.sessions.Set(ctx, userID, session.EditState(taskID)); err != nil {
		log.Printf("⚠️ Failed to save session for user %d: %v", userID, err)
		return []Reply{text(msgInternalError)}
	}
	return []Reply{text(msgEditPrompt)}
}

func (h *Handler) addTask(ctx context.Context, userID int64, message string) []Reply {
	res, err := h.tasks.AddTask(ctx, userID, message)
	if err != nil {
		// Invalid input keeps the user in the add flow so they can retry.
		var ve *services.ValidationError
		if errors.As(err, &ve) {
			return []Reply{text("⚠ " + ve.Error() + ". Try again:\n<description> <YYYY-MM-DD HH:MM>")}
		}
		return h.taskError(userID, err)
	}

	h.clearSession(ctx, userID)

	if !res.Scheduled {
		return []Reply{text("⏳ That time has already passed. The task was saved without a reminder.")}
	}
	return []Reply{text(fmt.Sprintf("✅ Task '%s' added! I'll remind you at %s.",
		res.Task.Description, res.Task.ScheduledLabel(h.loc)))}
}

func (h *Handler) editDescription(ctx context.Context, userID int64, taskID uint, message string) []Reply {
	task, err := h.tasks.EditDescription(ctx, userID, taskID, message)
	if err != nil {
		var ve *services.ValidationError
		if errors.As(err, &ve) {
			return []Reply{text("⚠ The description can't be empty. " + msgEditPrompt)}
		}
		h.clearSession(ctx, userID)
		return h.taskError(userID, err)
	}

	h.clearSession(ctx, userID)
	return []Reply{text(fmt.Sprintf("✅ Task updated: %s", task.Description))}
}

func (h *Handler) deleteTask(ctx context.Context, userID int64, taskID uint) []Reply {
	if _, err := h.tasks.DeleteTask(ctx, userID, taskID); err != nil {
		return h.taskError(userID, err)
	}
	return []Reply{text("✅ Task deleted.")}
}

func (h *Handler) reschedule(ctx context.Context, userID int64, args string) []Reply {
	idText, stamp, _ := strings.Cut(args, " ")
	id, ok := parseTaskID(idText)
	if !ok || strings.TrimSpace(stamp) == "" {
		return []Reply{text("⚠ Usage: /reschedule <id> <YYYY-MM-DD HH:MM>")}
	}

	res, err := h.tasks.Reschedule(ctx, userID, id, stamp)
	if err != nil {
		var ve *services.ValidationError
		if errors.As(err, &ve) {
			return []Reply{text("⚠ " + ve.Error())}
		}
		return h.taskError(userID, err)
	}

	if !res.Scheduled {
		return []Reply{text("⏳ That time has already passed. The task was moved without a reminder.")}
	}
	return []Reply{text(fmt.Sprintf("🗓 Task '%s' moved to %s.", res.Task.Description, res.Task.ScheduledLabel(h.loc)))}
}

func (h *Handler) listTasks(ctx context.Context, userID int64) []Reply {
	tasks, err := h.tasks.ListTasks(ctx, userID)
	if err != nil {
		return h.taskError(userID, err)
	}
	if len(tasks) == 0 {
		return []Reply{text(msgNoTasks)}
	}

	replies := make([]Reply, 0, len(tasks))
	for i, task := range tasks {
		id := strconv.FormatUint(uint64(task.ID), 10)
		replies = append(replies, Reply{
			Text: fmt.Sprintf("📌 %d. %s\n⏳ %s (id %s)", i+1, task.Description, task.ScheduledLabel(h.loc), id),
			Buttons: [][]Button{
				{{Text: "🗑 Delete", Payload: payloadDelete + id, Intent: IntentNegative}},
				{{Text: "✏ Edit", Payload: payloadEdit + id, Intent: IntentDefault}},
			},
		})
	}
	return replies
}

func (h *Handler) taskError(userID int64, err error) []Reply {
	if errors.Is(err, services.ErrTaskNotFound) {
		return []Reply{text(msgTaskGone)}
	}
	log.Printf("❌ Task operation failed for user %d: %v", userID, err)
	return []Reply{text(msgInternalError)}
}

func (h *Handler) clearSession(ctx context.Context, userID int64) {
	if err := h.sessions.Clear(ctx, userID); err != nil {
		log.Printf("⚠️ Failed to clear session for user %d: %v", userID, err)
	}
}
