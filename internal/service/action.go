// Package service contains the action logic that sits between the transports
// (HTTP, MCP) and the execution pipeline.
//
// THE PIPELINE:
//
//	caller → Executor → Publisher → Response
//	            └──────────┴──→ Notifier → monitor feed
//
// Snippet failures are data: they come back as a text/error Response, never as
// an error. Errors are reserved for misuse (empty code, a result path outside
// the scratch root) and for an unavailable engine.
package service

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/actionrunner/internal/apperror"
	"github.com/sakif/actionrunner/internal/executor"
	"github.com/sakif/actionrunner/internal/metrics"
	"github.com/sakif/actionrunner/internal/model"
	"github.com/sakif/actionrunner/internal/monitor"
	"github.com/sakif/actionrunner/internal/value"
)

const (
	MaxCodeLength = 100000 // ~100KB of code

	// ExecLabel prefixes the execution ids reported to the monitor.
	ExecLabel = "exec_code"

	runningMarker = "Running..."
)

// Publisher rewrites scratch paths in a result into public URLs.
type Publisher interface {
	Publish(ctx context.Context, v value.Value) (value.Value, []model.Artifact, error)
}

type ActionService struct {
	exec      executor.Executor
	publisher Publisher
	notifier  monitor.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewActionService wires the pipeline. notifier may be monitor.Nop{} and m may be nil.
func NewActionService(exec executor.Executor, publisher Publisher, notifier monitor.Notifier, m *metrics.Metrics, logger *slog.Logger) *ActionService {
	if notifier == nil {
		notifier = monitor.Nop{}
	}
	return &ActionService{
		exec:      exec,
		publisher: publisher,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Echo returns msg unchanged as plain text.
func (s *ActionService) Echo(msg string) model.Response {
	s.logger.Info("echo", slog.Int("length", len(msg)))
	return model.Response{Body: msg, ContentType: executor.ContentTypePlain}
}

// Execute runs code and returns the rendered result without publishing anything.
func (s *ActionService) Execute(ctx context.Context, code string) (model.Response, error) {
	res, err := s.run(ctx, code)
	if err != nil {
		return model.Response{}, err
	}
	return model.Response{Body: res.Body(), ContentType: res.ContentType}, nil
}

// ExecCode runs code, publishes every scratch path in the result and reports
// progress to the monitor. A successful response lists the rewritten value
// with content type text/uri-list.
func (s *ActionService) ExecCode(ctx context.Context, code string) (model.Response, error) {
	if err := validateCode(code); err != nil {
		return model.Response{}, err
	}

	id := ExecLabel + ":" + uuid.NewString()
	logger := s.logger.With(slog.String("execution", id))
	logger.Info("exec_code started", slog.Int("codeLength", len(code)))

	now := increasing(s.now)
	s.notifier.Notify(id, monitor.FieldCode, code, now())
	s.notifier.Notify(id, monitor.FieldRetval, runningMarker, now())

	res, err := s.run(ctx, code)
	if err != nil {
		s.notifier.Notify(id, monitor.FieldRetval, preformatted(err.Error()), now())
		return model.Response{}, err
	}

	if !res.Succeeded() {
		logger.Info("exec_code failed in snippet", slog.Duration("duration", res.Duration))
		s.notifier.Notify(id, monitor.FieldRetval, preformatted(res.Trace), now())
		return model.Response{Body: res.Trace, ContentType: executor.ContentTypeError}, nil
	}

	published, artifacts, err := s.publisher.Publish(ctx, res.Value)
	if err != nil {
		logger.Warn("publishing result failed", slog.String("error", err.Error()))
		s.notifier.Notify(id, monitor.FieldRetval, preformatted(err.Error()), now())
		return model.Response{}, fmt.Errorf("publishing result: %w", err)
	}
	s.metrics.ArtifactsPublished(len(artifacts))

	body := value.Render(published)
	s.notifier.Notify(id, monitor.FieldRetval, resultHTML(body, artifacts), now())
	logger.Info("exec_code finished",
		slog.Duration("duration", res.Duration),
		slog.Int("artifacts", len(artifacts)),
	)

	return model.Response{Body: body, ContentType: executor.ContentTypeURIList}, nil
}

func (s *ActionService) run(ctx context.Context, code string) (*executor.ExecutionResult, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}

	res, err := s.exec.Execute(ctx, executor.ExecutionRequest{Code: code})
	if err != nil {
		s.metrics.ExecutionFinished("error", 0)
		s.logger.Error("execution engine failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("executing snippet: %w", err)
	}

	outcome := "success"
	if !res.Succeeded() {
		outcome = "failure"
	}
	s.metrics.ExecutionFinished(outcome, res.Duration)
	return res, nil
}

// minNotifyGap keeps successive stamps distinct after the feed's microsecond
// float encoding.
const minNotifyGap = 2 * time.Microsecond

// increasing wraps now so every call returns a time at least minNotifyGap after
// the previous one. The feed keeps the newest value per field, so the final
// retval must never tie with "Running...".
func increasing(now func() time.Time) func() time.Time {
	var last time.Time
	return func() time.Time {
		t := now()
		if floor := last.Add(minNotifyGap); !last.IsZero() && t.Before(floor) {
			t = floor
		}
		last = t
		return t
	}
}

func validateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return apperror.ValidationFailed("code", "code cannot be empty")
	}
	if len(code) > MaxCodeLength {
		return apperror.ValidationFailed("code", fmt.Sprintf("code must be at most %d bytes", MaxCodeLength))
	}
	return nil
}

func preformatted(s string) string {
	return "<pre>" + html.EscapeString(s) + "</pre>"
}

// resultHTML is the monitor cell for a published result: the value, then a
// link per artifact with either the image inline or a text preview.
func resultHTML(body string, artifacts []model.Artifact) string {
	var b strings.Builder
	b.WriteString(preformatted(body))
	for _, a := range artifacts {
		url := html.EscapeString(a.URL)
		fmt.Fprintf(&b, `<br><a href="%s">%s</a><hr>`, url, url)
		if strings.HasSuffix(strings.ToLower(a.Name), ".png") {
			fmt.Fprintf(&b, `<img src="%s">`, url)
		} else {
			b.WriteString(`<div style="border: solid 1px grey">`)
			b.WriteString(preformatted(a.Preview))
			b.WriteString(`</div>`)
		}
	}
	return b.String()
}
