package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-orchestrator/internal/config"
	"github.com/sells-group/recruit-orchestrator/internal/notify"
	"github.com/sells-group/recruit-orchestrator/internal/orchestrator"
	"github.com/sells-group/recruit-orchestrator/internal/resilience"
	"github.com/sells-group/recruit-orchestrator/internal/session"
	"github.com/sells-group/recruit-orchestrator/pkg/calling"
	"github.com/sells-group/recruit-orchestrator/pkg/dashboard"
	"github.com/sells-group/recruit-orchestrator/pkg/extraction"
	"github.com/sells-group/recruit-orchestrator/pkg/matching"
)

// orchestratorEnv holds everything a command needs to run pipelines.
type orchestratorEnv struct {
	Sessions   *session.Manager
	Dispatcher *orchestrator.Dispatcher
	Notifier   *notify.Notifier
	Breakers   *resilience.Breakers
}

// initOrchestrator builds the service clients, breakers, notifier and
// dispatcher from cfg.
func initOrchestrator(c *config.Config) (*orchestratorEnv, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	hc := &http.Client{Timeout: time.Duration(c.Services.TimeoutSecs) * time.Second}
	svc := orchestrator.Services{
		Extraction: extraction.NewClient(extraction.WithBaseURL(c.Services.Extraction.BaseURL), extraction.WithHTTPClient(hc)),
		Matching:   matching.NewClient(matching.WithBaseURL(c.Services.Matching.BaseURL), matching.WithHTTPClient(hc)),
		Calling:    calling.NewClient(calling.WithBaseURL(c.Services.Calling.BaseURL), calling.WithHTTPClient(hc)),
	}
	observer := dashboard.NewClient(dashboard.WithBaseURL(c.Services.Dashboard.BaseURL), dashboard.WithHTTPClient(hc))

	breakers := resilience.NewBreakers(resilience.FromBreakerConfig(c.Breaker.FailureThreshold, c.Breaker.ResetSecs))
	guard := resilience.NewGuard(breakers, resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs))

	notifier := notify.New(observer, notify.Options{
		QueueSize: c.Notify.QueueSize,
		Timeout:   time.Duration(c.Notify.TimeoutMs) * time.Millisecond,
		Guard:     resilience.NewGuard(breakers, resilience.FromRetryConfig(c.Notify.RetryAttempts, 0)),
	})

	sessions := session.NewManager()
	d := orchestrator.New(orchestrator.Config{
		MatchingMode:    c.Matching.Mode,
		BatchSize:       c.Matching.BatchSize,
		SearchRate:      c.Matching.SearchRate,
		PollInterval:    c.Poller.Interval(),
		MaxPollFailures: c.Poller.MaxFailures,
		TaskRetention:   c.Tasks.Retention(),
	}, sessions, svc, guard, notifier)

	zap.L().Info("orchestrator initialized",
		zap.String("matching_mode", c.Matching.Mode),
		zap.Int("batch_size", c.Matching.BatchSize),
		zap.Duration("poll_interval", c.Poller.Interval()),
	)

	return &orchestratorEnv{
		Sessions:   sessions,
		Dispatcher: d,
		Notifier:   notifier,
		Breakers:   breakers,
	}, nil
}

// Close stops every task and drains the observer queue.
func (e *orchestratorEnv) Close(ctx context.Context) error {
	var first error
	if err := e.Dispatcher.Shutdown(ctx); err != nil {
		first = err
	}
	if err := e.Notifier.Close(ctx); err != nil && first == nil {
		first = eris.Wrap(err, "close notifier")
	}
	return first
}
