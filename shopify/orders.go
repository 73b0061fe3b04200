package shopify

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"crosssell-scanner/pkg/crosssell"
)

type orderJSON struct {
	ID        int64         `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Customer  *customerJSON `json:"customer"`
	LineItems []struct {
		ProductID int64  `json:"product_id"`
		Title     string `json:"title"`
	} `json:"line_items"`
}

func (o *orderJSON) toDomain() crosssell.Order {
	order := crosssell.Order{
		ID:        o.ID,
		CreatedAt: o.CreatedAt,
	}
	if o.Customer != nil {
		order.Customer = o.Customer.toDomain()
	}
	for _, li := range o.LineItems {
		order.LineItems = append(order.LineItems, crosssell.LineItem{
			ProductID: li.ProductID,
			Title:     li.Title,
		})
	}
	return order
}

// OrdersCreatedBetween retrieves every order created within [from, to],
// bounds inclusive, across all order statuses, following cursor pagination
// until exhausted. There is no page-count limit.
func (c *Client) OrdersCreatedBetween(ctx context.Context, from, to time.Time) ([]crosssell.Order, error) {
	c.logger.Info("Searching orders by creation window",
		"created_at_min", from.Format(time.RFC3339),
		"created_at_max", to.Format(time.RFC3339))

	params := url.Values{}
	params.Set("status", "any")
	params.Set("limit", strconv.Itoa(pageLimit))
	params.Set("created_at_min", from.Format(time.RFC3339))
	params.Set("created_at_max", to.Format(time.RFC3339))

	var orders []crosssell.Order
	pageURL := c.apiURL("orders.json?" + params.Encode())

	for pageURL != "" {
		var body struct {
			Orders []orderJSON `json:"orders"`
		}
		next, err := c.get(ctx, pageURL, "orders", "window", &body)
		if err != nil {
			return nil, fmt.Errorf("fetch orders page: %w", err)
		}
		for i := range body.Orders {
			orders = append(orders, body.Orders[i].toDomain())
		}
		if next != "" {
			c.logger.Info("Following next orders page", "fetched_so_far", len(orders))
		}
		pageURL = next
	}

	c.logger.Info("Order window scan complete", "orders", len(orders))
	return orders, nil
}

// PurchaseHistory returns the set of product ids the customer has ever
// bought, across all order statuses. Cancelled and refunded orders count:
// once bought is treated as permanent disqualification. A customer with no
// orders yields an empty set, never an error.
func (c *Client) PurchaseHistory(ctx context.Context, customerID int64) (map[int64]bool, error) {
	c.logger.Debug("Resolving purchase history", "customer_id", customerID)

	history := make(map[int64]bool)
	pageURL := c.apiURL(fmt.Sprintf("orders.json?customer_id=%d&status=any&limit=%d", customerID, pageLimit))

	for pageURL != "" {
		var body struct {
			Orders []orderJSON `json:"orders"`
		}
		next, err := c.get(ctx, pageURL, "customer orders", strconv.FormatInt(customerID, 10), &body)
		if err != nil {
			return nil, fmt.Errorf("fetch purchase history of customer %d: %w", customerID, err)
		}
		for _, o := range body.Orders {
			for _, li := range o.LineItems {
				if li.ProductID == 0 {
					continue // custom line items carry no product reference
				}
				history[li.ProductID] = true
			}
		}
		pageURL = next
	}

	c.logger.Debug("Purchase history resolved", "customer_id", customerID, "products", len(history))
	return history, nil
}
