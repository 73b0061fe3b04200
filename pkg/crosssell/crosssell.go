// Package crosssell contains the core domain types for the cross-sell
// recommendation engine.
package crosssell

import "time"

// MaxRecommendations bounds the recommendation set written per customer.
const MaxRecommendations = 3

// Product is an immutable snapshot of a catalog product, fetched per run.
type Product struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	ImageURL string `json:"image_url,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Collection is a named, curated group of products. Products preserves the
// collection's listing order and contains no duplicates.
type Collection struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Handle   string    `json:"handle"`
	URL      string    `json:"url"`
	Products []Product `json:"products,omitempty"`
}

// LineItem is a single purchased product reference within an order.
type LineItem struct {
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
}

// Order is a read-only, externally owned purchase record.
type Order struct {
	ID        int64      `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Customer  *Customer  `json:"customer,omitempty"` // nil when no customer attached
	LineItems []LineItem `json:"line_items"`
}

// Customer is externally owned; only the recommendation writer mutates it
// (tags and metafields), never the other components.
type Customer struct {
	ID               int64    `json:"id"`
	Email            string   `json:"email"`
	FirstName        string   `json:"first_name,omitempty"`
	LastName         string   `json:"last_name,omitempty"`
	ConsentState     string   `json:"consent_state,omitempty"` // structured marketing consent; "" when absent
	AcceptsMarketing bool     `json:"accepts_marketing"`       // legacy flag, fallback only
	Tags             []string `json:"tags,omitempty"`
}

// Subscribed reports whether the customer may receive marketing email.
// The structured consent state wins; the legacy boolean applies only when
// the structured field is absent. This is a hard compliance gate.
func (c *Customer) Subscribed() bool {
	if c.ConsentState != "" {
		return c.ConsentState == "subscribed"
	}
	return c.AcceptsMarketing
}

// EligibilityRecord is emitted once per qualifying customer per collection
// scan. It is consumed immediately and never persisted.
type EligibilityRecord struct {
	Customer          *Customer
	PurchaseDate      time.Time // created_at of the first qualifying order seen
	TriggeringProduct string    // title of the first matching line item
}

// Recommendation is the bounded set of products to write back for one
// customer, in the collection's listing order.
type Recommendation struct {
	CustomerID    int64     `json:"customer_id"`
	Products      []Product `json:"products"`
	CollectionURL string    `json:"collection_url"`
}

// Titles returns the product titles in recommendation order.
func (r *Recommendation) Titles() []string {
	titles := make([]string, 0, len(r.Products))
	for _, p := range r.Products {
		titles = append(titles, p.Title)
	}
	return titles
}

// Select returns the first MaxRecommendations collection products absent
// from the purchase history, preserving the collection's listing order.
// An empty result means the customer owns the whole collection; that is a
// valid terminal outcome, not an error.
func Select(products []Product, history map[int64]bool) []Product {
	var recs []Product
	for _, p := range products {
		if history[p.ID] {
			continue
		}
		recs = append(recs, p)
		if len(recs) == MaxRecommendations {
			break
		}
	}
	return recs
}
