package scan

import "crosssell-scanner/pkg/crosssell"

// Eligible extracts one record per qualifying customer from the fetched
// orders, in fetch order. The store's pagination order is not guaranteed to
// be globally sorted within the window, so "first seen" means first in fetch
// order, not necessarily the earliest purchase.
//
// Rules, applied per order:
//   - orders with no attached customer are skipped;
//   - a customer already accepted earlier in the scan is skipped (the
//     recorded purchase date and triggering product come from the first
//     qualifying order seen);
//   - the consent gate is hard: only subscribed customers pass;
//   - with a non-empty product set, the order must contain at least one
//     collection product, and that line item's title becomes the triggering
//     product; with an empty product set every consenting order qualifies
//     (diagnostic scans only, never production).
func Eligible(orders []crosssell.Order, products []crosssell.Product) []crosssell.EligibilityRecord {
	inCollection := make(map[int64]bool, len(products))
	for _, p := range products {
		inCollection[p.ID] = true
	}

	accepted := make(map[int64]bool)
	var records []crosssell.EligibilityRecord

	for _, order := range orders {
		if order.Customer == nil || accepted[order.Customer.ID] {
			continue
		}
		if !order.Customer.Subscribed() {
			continue
		}

		triggering := ""
		if len(inCollection) > 0 {
			for _, li := range order.LineItems {
				if inCollection[li.ProductID] {
					triggering = li.Title
					break
				}
			}
			if triggering == "" {
				continue
			}
		}

		accepted[order.Customer.ID] = true
		records = append(records, crosssell.EligibilityRecord{
			Customer:          order.Customer,
			PurchaseDate:      order.CreatedAt,
			TriggeringProduct: triggering,
		})
	}

	return records
}
