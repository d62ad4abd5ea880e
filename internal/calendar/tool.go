package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymeta/agent/internal/config"
	"github.com/mymeta/agent/internal/tools"
)

// Manager turns scheduling requests into .ics files on disk.
type Manager struct {
	outputDir string
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a calendar manager. An invalid or empty timezone
// falls back to the local one.
func NewManager(cfg config.CalendarConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	loc := time.Local
	if cfg.Timezone != "" {
		if parsed, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = parsed
		} else {
			logger.Warn("invalid calendar timezone, using local", "timezone", cfg.Timezone, "error", err)
		}
	}
	dir := cfg.OutputDir
	if dir == "" {
		dir = "calendar"
	}
	return &Manager{
		outputDir: dir,
		loc:       loc,
		logger:    logger.With("component", "calendar"),
		now:       time.Now,
	}
}

// Tool exposes event creation to the model.
func (m *Manager) Tool() tools.Tool {
	return tools.Tool{
		Name:        "create_calendar_event",
		Description: "创建一个日历事件并生成 .ics 文件。参数：title（事件标题，必填）、start（开始时间，必填，支持绝对时间如 \"2026-09-01 14:00\" 以及相对表达如 \"明天下午3点\"、\"下周一\"、\"2小时后\"）、end（结束时间，可选，默认开始后 1 小时）、description（描述，可选）、location（地点，可选）、reminder_minutes（提前提醒分钟数，可选，默认 15）。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":            map[string]any{"type": "string", "description": "事件标题"},
				"start":            map[string]any{"type": "string", "description": "开始时间（绝对或相对表达）"},
				"end":              map[string]any{"type": "string", "description": "结束时间（绝对或相对表达）"},
				"description":      map[string]any{"type": "string", "description": "事件描述"},
				"location":         map[string]any{"type": "string", "description": "事件地点"},
				"reminder_minutes": map[string]any{"type": "integer", "description": "提前提醒的分钟数"},
			},
			"required": []string{"title", "start"},
		},
		Handler: m.create,
	}
}

func (m *Manager) create(ctx context.Context, args map[string]any) (any, error) {
	title, _ := args["title"].(string)
	startExpr, _ := args["start"].(string)
	if title == "" || startExpr == "" {
		return nil, fmt.Errorf("title and start are required")
	}

	now := m.now().In(m.loc)
	start, err := ParseWhen(startExpr, now)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}

	var end time.Time
	if endExpr, _ := args["end"].(string); endExpr != "" {
		end, err = ParseWhen(endExpr, now)
		if err != nil {
			return nil, fmt.Errorf("parse end time: %w", err)
		}
	}

	reminder := 15 * time.Minute
	if n, ok := args["reminder_minutes"].(float64); ok {
		reminder = time.Duration(n) * time.Minute
	}

	ev := Event{
		Summary:        title,
		Start:          start,
		End:            end,
		ReminderBefore: reminder,
	}
	ev.Description, _ = args["description"].(string)
	ev.Location, _ = args["location"].(string)

	path, err := WriteEventFile(m.outputDir, ev, now)
	if err != nil {
		return nil, err
	}

	m.logger.Info("calendar event created", "title", title, "start", start, "path", path)
	if ev.End.IsZero() {
		ev.End = start.Add(time.Hour)
	}
	return map[string]any{
		"status": "created",
		"title":  title,
		"start":  start.Format("2006-01-02 15:04"),
		"end":    ev.End.Format("2006-01-02 15:04"),
		"file":   path,
	}, nil
}
