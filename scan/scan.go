// Package scan drives the cross-sell scan across all configured collections:
// catalog fetch, eligibility window scanning, recommendation selection, and
// write-back, with failures isolated per collection and per customer.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"crosssell-scanner/pkg/crosssell"
)

// Store is the commerce store surface the scanner consumes.
type Store interface {
	Collection(ctx context.Context, id int64) (*crosssell.Collection, error)
	CollectionProducts(ctx context.Context, id int64) ([]crosssell.Product, error)
	OrdersCreatedBetween(ctx context.Context, from, to time.Time) ([]crosssell.Order, error)
	PurchaseHistory(ctx context.Context, customerID int64) (map[int64]bool, error)
	UpdateRecommendations(ctx context.Context, customerID int64, rec *crosssell.Recommendation) error
}

// Reporter accepts one run summary per run for persistence.
type Reporter interface {
	Save(ctx context.Context, summary *crosssell.RunSummary) error
}

// Options configures a single run. Every recognized knob is enumerated here;
// nothing is read from the process environment inside the run.
type Options struct {
	DaysStart     int     // near edge of the window, days ago
	DaysEnd       int     // far edge of the window, days ago
	CollectionIDs []int64 // collections to scan, in order
	DryRun        bool    // compute and report, never write
	Type          string  // run type label for the report; defaulted per DryRun
}

func (o *Options) validate() error {
	if o.DaysStart < 0 || o.DaysEnd < 0 {
		return &crosssell.ConfigError{Reason: "window offsets must be >= 0"}
	}
	if o.DaysEnd < o.DaysStart {
		return &crosssell.ConfigError{Reason: fmt.Sprintf("days_end (%d) must be >= days_start (%d)", o.DaysEnd, o.DaysStart)}
	}
	if len(o.CollectionIDs) == 0 {
		return &crosssell.ConfigError{Reason: "no collections configured"}
	}
	return nil
}

// Window computes the calendar window [now - daysEnd, now - daysStart].
// Both bounds are inclusive: the store's created_at_min/max filters include
// orders created exactly at either edge.
func Window(now time.Time, daysStart, daysEnd int) (from, to time.Time) {
	from = now.AddDate(0, 0, -daysEnd)
	to = now.AddDate(0, 0, -daysStart)
	return from, to
}

// Runner is the multi-collection orchestrator. Strictly sequential: the
// store enforces a shared rate limit, so no parallel requests are issued.
type Runner struct {
	store   Store
	reports Reporter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a runner. reports may be nil when no report sink is wired
// (dry runs from tests, local diagnostics).
func New(store Store, reports Reporter, logger *slog.Logger) *Runner {
	return &Runner{
		store:   store,
		reports: reports,
		logger:  logger,
		now:     time.Now,
	}
}

// Run scans every configured collection and returns the run summary. Errors
// below this level never propagate: they are accumulated into the summary,
// and a partially failed run still reports its update count. The summary is
// handed to the report sink exactly once, including for failed runs.
func (r *Runner) Run(ctx context.Context, opts Options) (*crosssell.RunSummary, error) {
	summary := &crosssell.RunSummary{
		RunID:     uuid.NewString(),
		Timestamp: r.now().UTC(),
		Type:      opts.Type,
		DryRun:    opts.DryRun,
	}
	if summary.Type == "" {
		summary.Type = crosssell.RunTypeWeekly
		if opts.DryRun {
			summary.Type = crosssell.RunTypeDryRun
		}
	}

	if err := opts.validate(); err != nil {
		summary.Status = crosssell.StatusError
		summary.Errors = append(summary.Errors, err.Error())
		r.saveReport(ctx, summary)
		return summary, err
	}

	from, to := Window(r.now(), opts.DaysStart, opts.DaysEnd)
	r.logger.Info("Scan started",
		"run_id", summary.RunID,
		"collections", len(opts.CollectionIDs),
		"window_from", from.Format(time.RFC3339),
		"window_to", to.Format(time.RFC3339),
		"dry_run", opts.DryRun)

	for _, collectionID := range opts.CollectionIDs {
		select {
		case <-ctx.Done():
			summary.Status = crosssell.StatusError
			summary.Errors = append(summary.Errors, ctx.Err().Error())
			r.saveReport(ctx, summary)
			return summary, ctx.Err()
		default:
		}

		result, errs := r.scanCollection(ctx, collectionID, from, to, opts.DryRun)
		summary.Errors = append(summary.Errors, errs...)
		if result == nil {
			continue // collection-fatal error, already recorded
		}
		summary.Collections = append(summary.Collections, *result)
		summary.TotalUpdated += result.Updated
	}

	summary.Status = crosssell.StatusSuccess
	if len(summary.Errors) > 0 {
		summary.Status = crosssell.StatusPartial
	}

	r.logger.Info("Scan completed",
		"run_id", summary.RunID,
		"status", string(summary.Status),
		"total_updated", summary.TotalUpdated,
		"errors", len(summary.Errors))

	r.saveReport(ctx, summary)
	return summary, nil
}

// scanCollection processes one collection. A nil result with errors means
// the collection failed outright; a result plus errors means individual
// customers failed.
func (r *Runner) scanCollection(ctx context.Context, collectionID int64, from, to time.Time, dryRun bool) (*crosssell.CollectionResult, []string) {
	coll, err := r.store.Collection(ctx, collectionID)
	if err != nil {
		catErr := &crosssell.CatalogError{CollectionID: collectionID, Err: err}
		r.logger.Warn("Collection lookup failed, skipping", "collection_id", collectionID, "error", err)
		return nil, []string{catErr.Error()}
	}

	products, err := r.store.CollectionProducts(ctx, collectionID)
	if err != nil {
		catErr := &crosssell.CatalogError{CollectionID: collectionID, Err: err}
		r.logger.Warn("Collection product fetch failed, skipping", "collection_id", collectionID, "error", err)
		return nil, []string{catErr.Error()}
	}

	result := &crosssell.CollectionResult{
		CollectionID: collectionID,
		Title:        coll.Title,
		Products:     len(products),
	}

	if len(products) == 0 {
		r.logger.Warn("Collection has no products, skipping", "collection_id", collectionID, "title", coll.Title)
		result.Skipped = true
		return result, nil
	}

	orders, err := r.store.OrdersCreatedBetween(ctx, from, to)
	if err != nil {
		scanErr := &crosssell.ScanError{CollectionID: collectionID, Err: err}
		r.logger.Warn("Eligibility scan failed", "collection_id", collectionID, "error", err)
		return nil, []string{scanErr.Error()}
	}

	records := Eligible(orders, products)
	result.Eligible = len(records)
	r.logger.Info("Eligible customers found",
		"collection_id", collectionID,
		"title", coll.Title,
		"orders", len(orders),
		"eligible", len(records))

	var errs []string
	for _, record := range records {
		if err := r.processCustomer(ctx, record, coll, products, dryRun, result); err != nil {
			custErr := &crosssell.CustomerError{CustomerID: record.Customer.ID, Err: err}
			r.logger.Warn("Customer processing failed, continuing",
				"collection_id", collectionID,
				"customer_id", record.Customer.ID,
				"error", err)
			errs = append(errs, custErr.Error())
		}
	}

	return result, errs
}

func (r *Runner) processCustomer(ctx context.Context, record crosssell.EligibilityRecord, coll *crosssell.Collection, products []crosssell.Product, dryRun bool, result *crosssell.CollectionResult) error {
	customer := record.Customer

	history, err := r.store.PurchaseHistory(ctx, customer.ID)
	if err != nil {
		return fmt.Errorf("resolve purchase history: %w", err)
	}

	selected := crosssell.Select(products, history)
	rec := &crosssell.Recommendation{
		CustomerID:    customer.ID,
		Products:      selected,
		CollectionURL: coll.URL,
	}

	if dryRun {
		if len(selected) > 0 {
			result.Proposed = append(result.Proposed, crosssell.ProposedUpdate{
				Email:             customer.Email,
				Collection:        coll.Title,
				PurchaseDate:      record.PurchaseDate,
				TriggeringProduct: record.TriggeringProduct,
				Recommendations:   rec.Titles(),
			})
		}
		return nil
	}

	if len(selected) == 0 {
		r.logger.Debug("Customer owns the whole collection", "customer_id", customer.ID, "email", customer.Email)
	}

	// The writer no-ops on an empty recommendation; no tag transition occurs.
	if err := r.store.UpdateRecommendations(ctx, customer.ID, rec); err != nil {
		return fmt.Errorf("write recommendation: %w", err)
	}
	if len(selected) > 0 {
		result.Updated++
	}
	return nil
}

// saveReport hands the summary to the report sink. A sink failure is logged
// but never fails the run.
func (r *Runner) saveReport(ctx context.Context, summary *crosssell.RunSummary) {
	if r.reports == nil {
		return
	}
	if err := r.reports.Save(ctx, summary); err != nil {
		r.logger.Warn("Failed to save run report", "run_id", summary.RunID, "error", err)
	}
}
