// Package consistency measures the ledger invariants against the live
// database. Each Metric is a SQL check with a threshold; a check that falls
// outside its threshold is a Violation.
package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

// Metric is one measurable property of the stored state.
type Metric struct {
	Name        string
	Description string
	Query       func(ctx context.Context, q store.Querier) (float64, error)
	Threshold   Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) Holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

func (t Threshold) String() string {
	return fmt.Sprintf("%s %g", t.Operator, t.Value)
}

type Violation struct {
	Metric      string    `json:"metric"`
	Description string    `json:"description"`
	Expected    string    `json:"expected"`
	Actual      float64   `json:"actual"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Report is the outcome of one pass over every metric.
type Report struct {
	CheckedAt    time.Time          `json:"checked_at"`
	Duration     time.Duration      `json:"duration"`
	Observations map[string]float64 `json:"observations"`
	Violations   []Violation        `json:"violations"`
}

func (r *Report) Healthy() bool { return len(r.Violations) == 0 }

// Checker runs metrics against a database.
type Checker struct {
	db         *store.DB
	metrics    []Metric
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	violations metric.Int64Counter
}

func NewChecker(db *store.DB, logger *slog.Logger, metrics ...Metric) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if len(metrics) == 0 {
		metrics = LedgerMetrics()
	}
	c := &Checker{
		db:      db,
		metrics: metrics,
		logger:  logger,
		tracer:  otel.Tracer("boipoka/consistency"),
		now:     time.Now,
	}
	c.violations, _ = otel.Meter("boipoka/consistency").Int64Counter("consistency.violations",
		metric.WithDescription("Ledger invariant violations found"))
	return c
}

func (c *Checker) Metrics() []Metric { return c.metrics }

// Check evaluates every metric once. A failing query is reported as a
// violation, not returned as an error.
func (c *Checker) Check(ctx context.Context) *Report {
	ctx, span := c.tracer.Start(ctx, "consistency.check",
		trace.WithAttributes(attribute.Int("metrics", len(c.metrics))),
	)
	defer span.End()

	start := c.now()
	report := &Report{
		CheckedAt:    start.UTC(),
		Observations: make(map[string]float64, len(c.metrics)),
	}
	for _, m := range c.metrics {
		value, err := m.Query(ctx, c.db)
		if err != nil {
			span.RecordError(err)
			report.Violations = append(report.Violations, Violation{
				Metric:      m.Name,
				Description: m.Description,
				Expected:    m.Threshold.String(),
				Actual:      -1,
				Error:       err.Error(),
				Timestamp:   c.now().UTC(),
			})
			continue
		}
		report.Observations[m.Name] = value
		if !m.Threshold.Holds(value) {
			report.Violations = append(report.Violations, Violation{
				Metric:      m.Name,
				Description: m.Description,
				Expected:    m.Threshold.String(),
				Actual:      value,
				Timestamp:   c.now().UTC(),
			})
			c.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("metric", m.Name)))
		}
	}
	report.Duration = c.now().Sub(start)
	span.SetAttributes(attribute.Int("violations", len(report.Violations)))
	return report
}

// Run checks every interval until ctx is done and logs each violation.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, v := range c.Check(ctx).Violations {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("ledger invariant violated",
				"metric", v.Metric,
				"expected", v.Expected,
				"actual", v.Actual,
				"error", v.Error,
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func count(query string) func(context.Context, store.Querier) (float64, error) {
	return func(ctx context.Context, q store.Querier) (float64, error) {
		var n int64
		if err := store.Get(ctx, q, &n, query); err != nil {
			return 0, err
		}
		return float64(n), nil
	}
}

// LedgerMetrics are the invariants every committed state must satisfy.
func LedgerMetrics() []Metric {
	zero := Threshold{Operator: "==", Value: 0}
	return []Metric{
		{
			Name:        "books_copies_out_of_bounds",
			Description: "available copies outside [0, total]",
			Query: count(`
				SELECT COUNT(*) FROM books
				WHERE available_copies < 0 OR available_copies > total_copies`),
			Threshold: zero,
		},
		{
			Name:        "books_overshelved",
			Description: "more copies on the shelf than total minus open loans",
			Query: count(`
				SELECT COUNT(*) FROM books k
				WHERE k.available_copies > k.total_copies - (
					SELECT COUNT(*) FROM borrowings b
					WHERE b.book_id = k.id AND b.returned_at IS NULL
				)`),
			Threshold: zero,
		},
		{
			Name:        "subscriptions_over_quota",
			Description: "users holding more open loans than their tier allows",
			Query: count(`
				SELECT COUNT(*) FROM subscriptions s
				WHERE s.max_books < (
					SELECT COUNT(*) FROM borrowings b
					WHERE b.user_id = s.user_id AND b.returned_at IS NULL
				)`),
			Threshold: zero,
		},
		{
			Name:        "subscriptions_quota_mismatch",
			Description: "max_books differs from the tier mapping",
			Query: count(`
				SELECT COUNT(*) FROM subscriptions
				WHERE max_books <> CASE tier
					WHEN 'Basic' THEN 2
					WHEN 'Premium' THEN 5
					WHEN 'VIP' THEN 10
					ELSE -1 END`),
			Threshold: zero,
		},
		{
			Name:        "borrowings_journal_drift",
			Description: "borrowing version differs from its journal stream",
			Query: count(`
				SELECT COUNT(*) FROM borrowings b
				WHERE b.version <> (
					SELECT COALESCE(MAX(j.version), 0) FROM journal_events j
					WHERE j.aggregate_id = b.id
				)`),
			Threshold: zero,
		},
		{
			Name:        "damage_history_unsynced",
			Description: "damage history fine fields differ from the borrowing",
			Query: count(`
				SELECT COUNT(*) FROM damaged_lost_history h
				JOIN borrowings b ON b.id = h.borrowing_id
				WHERE h.fine_paid <> b.fine_paid OR h.fine_paid_approved <> b.fine_paid_approved`),
			Threshold: zero,
		},
		{
			Name:        "mail_dead_letters",
			Description: "emails that exhausted their delivery attempts",
			Query: count(`
				SELECT COUNT(*) FROM email_outbox
				WHERE sent_at IS NULL AND attempts >= 5`),
			Threshold: zero,
		},
	}
}
