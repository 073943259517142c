package tacobot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"go.mongodb.org/mongo-driver/event"
)

const loggerNameKey = "logger"

var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
}

// discordgoLoggerFunc bridges discordgo's printf-style logger into slog.
func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

// maxLoggedStatement bounds the command document captured for slow and
// failed command logs.
const maxLoggedStatement = 512

// mongoCommandLogger implements an [event.CommandMonitor] that logs
// started commands at debug, and commands exceeding SlowThreshold at
// warn, mirroring what the bot does for all other subsystems. The
// statement captured at start is attached to slow and failed logs.
type mongoCommandLogger struct {
	logger        *slog.Logger
	SlowThreshold time.Duration

	mu      sync.Mutex
	started map[int64]string
}

func newMongoCommandLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *mongoCommandLogger {
	return &mongoCommandLogger{
		logger:        slog.New(handler).With(loggerNameKey, "mongo"),
		SlowThreshold: slowThreshold,
		started:       map[int64]string{},
	}
}

// Monitor returns the CommandMonitor to attach to the mongo client options.
func (m *mongoCommandLogger) Monitor() *event.CommandMonitor {
	return &event.CommandMonitor{
		Started:   m.commandStarted,
		Succeeded: m.commandSucceeded,
		Failed:    m.commandFailed,
	}
}

func (m *mongoCommandLogger) commandStarted(
	ctx context.Context,
	evt *event.CommandStartedEvent,
) {
	m.mu.Lock()
	m.started[evt.RequestID] = truncate(evt.Command.String(), maxLoggedStatement)
	m.mu.Unlock()

	m.logger.DebugContext(
		ctx,
		"command started",
		"command", evt.CommandName,
		"database", evt.DatabaseName,
		"request_id", evt.RequestID,
	)
}

// statement returns and forgets the command document captured when the
// request started.
func (m *mongoCommandLogger) statement(requestID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.started[requestID]
	delete(m.started, requestID)
	return s
}

func (m *mongoCommandLogger) commandSucceeded(
	ctx context.Context,
	evt *event.CommandSucceededEvent,
) {
	statement := m.statement(evt.RequestID)

	elapsed := evt.Duration
	if m.SlowThreshold > 0 && elapsed > m.SlowThreshold {
		m.logger.WarnContext(
			ctx,
			"slow command",
			"command", evt.CommandName,
			"statement", statement,
			"elapsed", elapsed,
			"threshold", m.SlowThreshold,
			"request_id", evt.RequestID,
		)
		return
	}
	m.logger.DebugContext(
		ctx,
		"command completed",
		"command", evt.CommandName,
		"elapsed", elapsed,
		"request_id", evt.RequestID,
	)
}

func (m *mongoCommandLogger) commandFailed(
	ctx context.Context,
	evt *event.CommandFailedEvent,
) {
	m.logger.ErrorContext(
		ctx,
		"command failed",
		"command", evt.CommandName,
		"statement", m.statement(evt.RequestID),
		"elapsed", evt.Duration,
		"failure", evt.Failure,
		"request_id", evt.RequestID,
	)
}

func newTintHandler(level slog.Leveler) slog.Handler {
	return tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
}
