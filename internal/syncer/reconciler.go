package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"polar-fitness-sync/internal/metrics"
	"polar-fitness-sync/internal/polar"
)

// ReconcileResult is the outcome of one physical-info transaction
type ReconcileResult struct {
	Data          []map[string]any `json:"data"`
	NoNewData     bool             `json:"noNewData"`
	TransactionID int64            `json:"transactionId,omitempty"`
	Committed     bool             `json:"committed"`
}

// PersistFunc stores fetched entries. It runs after every entry was fetched
// and before the transaction is committed.
type PersistFunc func(ctx context.Context, entries []map[string]any) error

// Reconciler pulls physical information through AccessLink's transaction
// protocol: create, list, fetch each entry, commit.
type Reconciler struct {
	vendor Vendor
	logger *slog.Logger
}

// NewReconciler creates a reconciler over vendor
func NewReconciler(vendor Vendor) *Reconciler {
	return &Reconciler{
		vendor: vendor,
		logger: slog.Default(),
	}
}

// Reconcile runs one transaction for the vendor user.
//
// A 204 on create ends with NoNewData and no commit. Once a transaction is
// open, entries are fetched one at a time in listed order; any fetch or
// persist failure returns before commit so the vendor resurfaces the entries
// next time. Commit runs even when the transaction lists no entries.
func (r *Reconciler) Reconcile(ctx context.Context, token string, vendorUserID int64, persist PersistFunc) (*ReconcileResult, error) {
	tx, err := r.vendor.CreatePhysicalInfoTransaction(ctx, token, vendorUserID)
	if errors.Is(err, polar.ErrNoNewData) {
		metrics.ReconcileTotal.WithLabelValues(metrics.ReconcileNoNewData).Inc()
		r.logger.Debug("No new physical info", "polar_user_id", vendorUserID)
		return &ReconcileResult{Data: []map[string]any{}, NoNewData: true}, nil
	}
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues(metrics.ReconcileAborted).Inc()
		return nil, err
	}

	result := &ReconcileResult{
		Data:          []map[string]any{},
		TransactionID: tx.TransactionID,
	}

	uris, err := r.vendor.ListPhysicalInfo(ctx, token, tx)
	if err != nil {
		return r.abort(result, err)
	}

	for _, uri := range uris {
		entry, err := r.vendor.GetPhysicalInfo(ctx, token, uri)
		if err != nil {
			return r.abort(result, err)
		}
		result.Data = append(result.Data, entry)
	}

	if persist != nil && len(result.Data) > 0 {
		if err := persist(ctx, result.Data); err != nil {
			return r.abort(result, fmt.Errorf("failed to persist physical info: %w", err))
		}
	}

	if err := r.vendor.CommitPhysicalInfoTransaction(ctx, token, vendorUserID, tx.TransactionID); err != nil {
		// Entries are already persisted; the vendor will resend them
		metrics.ReconcileTotal.WithLabelValues(metrics.ReconcileAborted).Inc()
		r.logger.Warn("Physical-info commit failed",
			"polar_user_id", vendorUserID,
			"transaction_id", tx.TransactionID,
			"entries", len(result.Data),
			"error", err)
		return result, err
	}
	result.Committed = true

	metrics.ReconcileTotal.WithLabelValues(metrics.ReconcileCommitted).Inc()
	r.logger.Info("Physical-info transaction committed",
		"polar_user_id", vendorUserID,
		"transaction_id", tx.TransactionID,
		"entries", len(result.Data))

	return result, nil
}

func (r *Reconciler) abort(result *ReconcileResult, err error) (*ReconcileResult, error) {
	metrics.ReconcileTotal.WithLabelValues(metrics.ReconcileAborted).Inc()
	r.logger.Warn("Physical-info transaction aborted before commit",
		"transaction_id", result.TransactionID,
		"fetched", len(result.Data),
		"error", err)
	return nil, err
}
