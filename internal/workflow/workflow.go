// Package workflow runs the estimation pipeline: fetch the commune's sales,
// derive market statistics, then value the property.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"estimateur/server/internal/dvf"
	"estimateur/server/internal/market"
	"estimateur/server/internal/metrics"
	"estimateur/server/internal/models"
	"estimateur/server/internal/valuation"
)

// Archiver receives every fetched batch, typically the archive queue.
type Archiver interface {
	Push(batch []models.Transaction) error
}

// Options tunes one run
type Options struct {
	Analysis market.Options
	Basis    valuation.Basis
}

// Report is the outcome of a successful run
type Report struct {
	Property models.Property          `json:"property"`
	Stats    *models.MarketStatistics `json:"stats"`
	Estimate *models.Estimate         `json:"estimate"`
	Basis    valuation.Basis          `json:"basis"`
}

// Estimator wires a data source to the calculator and the valuation
type Estimator struct {
	source   dvf.Source
	archive  Archiver
	defaults Options
	logger   *logrus.Logger
}

// NewEstimator creates an estimator. archive may be nil.
func NewEstimator(source dvf.Source, archive Archiver, defaults Options, logger *logrus.Logger) *Estimator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if defaults.Basis == "" {
		defaults.Basis = valuation.BasisMean
	}
	return &Estimator{
		source:   source,
		archive:  archive,
		defaults: defaults,
		logger:   logger,
	}
}

// Defaults returns the options used by Estimate
func (e *Estimator) Defaults() Options {
	return e.defaults
}

// Estimate runs the workflow with the default options
func (e *Estimator) Estimate(ctx context.Context, property models.Property) (*Report, error) {
	return e.EstimateWith(ctx, property, e.defaults)
}

// EstimateWith runs the workflow. A *dvf.UnavailableError or market.ErrNoData
// means no valuation could be produced; the caller reports it and stops.
func (e *Estimator) EstimateWith(ctx context.Context, property models.Property, opts Options) (*Report, error) {
	if err := property.Validate(); err != nil {
		metrics.Runs.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("invalid property: %w", err)
	}

	logger := e.logger.WithFields(logrus.Fields{
		"insee_code": property.InseeCode,
		"city":       property.City,
		"standing":   property.Standing.Slug(),
	})

	stats, err := e.analyze(ctx, property.InseeCode, opts.Analysis)
	if err != nil {
		return nil, err
	}

	basis := opts.Basis
	if basis == "" {
		basis = valuation.BasisMean
	}
	reference := valuation.ReferencePrice(stats, basis)

	estimate, err := valuation.Compute(reference, property.Standing, property.LivingArea)
	if err != nil {
		metrics.Runs.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to compute estimate: %w", err)
	}

	metrics.Runs.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.Estimates.WithLabelValues(property.Standing.Slug()).Inc()
	logger.WithFields(logrus.Fields{
		"transactions": stats.TransactionCount,
		"reference":    reference,
		"value":        estimate.Value,
	}).Info("Estimate computed")

	return &Report{
		Property: property,
		Stats:    stats,
		Estimate: estimate,
		Basis:    basis,
	}, nil
}

// Analyze fetches a commune's transactions and returns its market statistics
func (e *Estimator) Analyze(ctx context.Context, inseeCode string, opts market.Options) (*models.MarketStatistics, error) {
	return e.analyze(ctx, inseeCode, opts)
}

func (e *Estimator) analyze(ctx context.Context, inseeCode string, opts market.Options) (*models.MarketStatistics, error) {
	records, err := e.fetch(ctx, inseeCode)
	if err != nil {
		return nil, err
	}

	stats, err := market.Analyze(records, opts)
	if errors.Is(err, market.ErrNoData) {
		metrics.Runs.WithLabelValues(metrics.OutcomeNoData).Inc()
		e.logger.WithField("insee_code", inseeCode).Warn("No usable transactions")
		return nil, err
	}
	if err != nil {
		metrics.Runs.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to analyze market: %w", err)
	}
	return stats, nil
}

// Transactions returns a commune's fetched transactions as they came from
// the source, before any filtering.
func (e *Estimator) Transactions(ctx context.Context, inseeCode string) ([]models.Transaction, error) {
	return e.fetch(ctx, inseeCode)
}

// remoteSource is implemented by sources that can fall back to the archive
type remoteSource interface {
	Remote() dvf.Source
}

// Refresh fetches a commune's transactions from the remote source so they
// reach the archive. It never reads the archive back, and returns the number
// of transactions fetched.
func (e *Estimator) Refresh(ctx context.Context, inseeCode string) (int, error) {
	source := e.source
	if r, ok := source.(remoteSource); ok {
		source = r.Remote()
	}
	records, err := e.fetchFrom(ctx, source, inseeCode)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (e *Estimator) fetch(ctx context.Context, inseeCode string) ([]models.Transaction, error) {
	return e.fetchFrom(ctx, e.source, inseeCode)
}

func (e *Estimator) fetchFrom(ctx context.Context, source dvf.Source, inseeCode string) ([]models.Transaction, error) {
	start := time.Now()
	records, err := source.Fetch(ctx, inseeCode)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ue, ok := dvf.IsUnavailable(err); ok {
			metrics.Runs.WithLabelValues(metrics.OutcomeUnavailable).Inc()
			e.logger.WithFields(logrus.Fields{
				"insee_code": inseeCode,
				"reason":     ue.Reason,
			}).Warn("Transaction source unavailable")
			return nil, ue
		}
		metrics.Runs.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	e.archiveBatch(inseeCode, records)
	return records, nil
}

func (e *Estimator) archiveBatch(inseeCode string, records []models.Transaction) {
	if e.archive == nil {
		return
	}
	batch := make([]models.Transaction, 0, len(records))
	for _, r := range records {
		if !r.Synthetic {
			batch = append(batch, r)
		}
	}
	if len(batch) == 0 {
		return
	}
	if err := e.archive.Push(batch); err != nil {
		metrics.DroppedBatches.Inc()
		e.logger.WithError(err).WithField("insee_code", inseeCode).Warn("Failed to queue transactions for archiving")
	}
}
