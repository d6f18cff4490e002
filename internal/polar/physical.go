package polar

import (
	"context"
	"fmt"
	"net/http"

	"polar-fitness-sync/internal/metrics"
)

// Transaction is an open physical-information transaction
type Transaction struct {
	TransactionID int64  `json:"transaction-id"`
	ResourceURI   string `json:"resource-uri"`
}

type physicalInfoList struct {
	PhysicalInformations []string `json:"physical-informations"`
}

func physicalTransactionsPath(vendorUserID int64) string {
	return fmt.Sprintf("/users/%d/physical-information-transactions", vendorUserID)
}

// CreatePhysicalInfoTransaction opens a transaction.
// Returns ErrNoNewData when AccessLink answers 204.
func (c *Client) CreatePhysicalInfoTransaction(ctx context.Context, token string, vendorUserID int64) (*Transaction, error) {
	resp, err := c.doJSON(ctx, metrics.OpCreateTransaction, http.MethodPost, physicalTransactionsPath(vendorUserID), bearer(token), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create physical-info transaction: %w", err)
	}
	if resp.status == http.StatusNoContent {
		return nil, ErrNoNewData
	}

	tx, err := decode[Transaction](resp)
	if err != nil {
		return nil, err
	}
	if tx.ResourceURI == "" {
		tx.ResourceURI = fmt.Sprintf("%s/%d", physicalTransactionsPath(vendorUserID), tx.TransactionID)
	}
	return &tx, nil
}

// ListPhysicalInfo returns the entry URIs in the transaction
func (c *Client) ListPhysicalInfo(ctx context.Context, token string, tx *Transaction) ([]string, error) {
	resp, err := c.doJSON(ctx, metrics.OpListPhysicalInfo, http.MethodGet, tx.ResourceURI, bearer(token), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list physical-info for transaction %d: %w", tx.TransactionID, err)
	}
	if resp.status == http.StatusNoContent || len(resp.body) == 0 {
		return []string{}, nil
	}

	list, err := decode[physicalInfoList](resp)
	if err != nil {
		return nil, err
	}
	if list.PhysicalInformations == nil {
		return []string{}, nil
	}
	return list.PhysicalInformations, nil
}

// GetPhysicalInfo fetches one entry by its URI
func (c *Client) GetPhysicalInfo(ctx context.Context, token, uri string) (map[string]any, error) {
	resp, err := c.doJSON(ctx, metrics.OpGetPhysicalInfo, http.MethodGet, uri, bearer(token), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get physical-info %s: %w", uri, err)
	}
	return decode[map[string]any](resp)
}

// CommitPhysicalInfoTransaction marks the transaction's entries as consumed
func (c *Client) CommitPhysicalInfoTransaction(ctx context.Context, token string, vendorUserID, transactionID int64) error {
	path := fmt.Sprintf("%s/%d", physicalTransactionsPath(vendorUserID), transactionID)
	if _, err := c.doJSON(ctx, metrics.OpCommitTransaction, http.MethodPut, path, bearer(token), nil); err != nil {
		return fmt.Errorf("failed to commit transaction %d: %w", transactionID, err)
	}
	return nil
}
