package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/noah-isme/tracking-engine/internal/common"
)

// LogConfig selects the log format, level and optional rotating file.
type LogConfig struct {
	Format string
	Level  string
	// File, when set, receives the log stream in addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// NewLogger configures a zerolog logger using the provided settings.
func NewLogger(cfg LogConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	if file := strings.TrimSpace(cfg.File); file != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		})
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// TraceID returns the active trace id or "".
func TraceID(span trace.SpanContext) string {
	if !span.IsValid() {
		return ""
	}
	return span.TraceID().String()
}

// RequestLogger writes one structured line per request. Downstream handlers
// can add fields to that line through zerolog.Ctx(r.Context()).
type RequestLogger struct {
	Logger zerolog.Logger
}

func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(l.Logger.With().Logger().WithContext(r.Context()))
		logger := zerolog.Ctx(r.Context())
		recorder := NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := RoutePattern(r)
		if route == "" {
			route = r.URL.Path
		}
		spanCtx := trace.SpanContextFromContext(r.Context())

		evt := logger.Info()
		if recorder.Status() >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt = evt.
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", recorder.Status()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int64("bytes", recorder.BytesWritten()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("trace_id", TraceID(spanCtx)).
			Str("remote_addr", common.ClientIP(r))
		if spanCtx.IsValid() {
			evt = evt.Str("span_id", spanCtx.SpanID().String())
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			evt = evt.Str("user_agent", ua)
		}
		evt.Msg("http_request")
	})
}
