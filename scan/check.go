package scan

import (
	"context"
	"fmt"

	"crosssell-scanner/pkg/crosssell"
)

// CheckResult is the outcome of a single-customer diagnostic check.
type CheckResult struct {
	CustomerID     int64                     `json:"customer_id"`
	CollectionID   int64                     `json:"collection_id"`
	Products       int                       `json:"collection_products_count"`
	History        int                       `json:"customer_history_count"`
	Recommendation *crosssell.Recommendation `json:"recommendation"`
	Updated        bool                      `json:"updated"`
}

// CheckCustomer computes the recommendation for one customer against one
// collection without scanning the eligibility window. With forceUpdate it
// also performs the real write-back, which fires the downstream automation;
// used to exercise the flow end to end.
func (r *Runner) CheckCustomer(ctx context.Context, customerID, collectionID int64, forceUpdate bool) (*CheckResult, error) {
	coll, err := r.store.Collection(ctx, collectionID)
	if err != nil {
		return nil, &crosssell.CatalogError{CollectionID: collectionID, Err: err}
	}
	products, err := r.store.CollectionProducts(ctx, collectionID)
	if err != nil {
		return nil, &crosssell.CatalogError{CollectionID: collectionID, Err: err}
	}

	history, err := r.store.PurchaseHistory(ctx, customerID)
	if err != nil {
		return nil, &crosssell.CustomerError{CustomerID: customerID, Err: fmt.Errorf("resolve purchase history: %w", err)}
	}

	rec := &crosssell.Recommendation{
		CustomerID:    customerID,
		Products:      crosssell.Select(products, history),
		CollectionURL: coll.URL,
	}
	result := &CheckResult{
		CustomerID:     customerID,
		CollectionID:   collectionID,
		Products:       len(products),
		History:        len(history),
		Recommendation: rec,
	}

	if forceUpdate && len(rec.Products) > 0 {
		if err := r.store.UpdateRecommendations(ctx, customerID, rec); err != nil {
			return nil, &crosssell.CustomerError{CustomerID: customerID, Err: fmt.Errorf("write recommendation: %w", err)}
		}
		result.Updated = true
	}

	return result, nil
}
