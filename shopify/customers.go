package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"crosssell-scanner/pkg/crosssell"
)

// TriggerTag is the customer tag whose remove-then-add transition fires the
// downstream marketing automation. Presence alone does not trigger it.
const TriggerTag = "trigger_reco"

// Metafield layout for the written recommendation.
const (
	metafieldNamespace = "cross_sell"
	keyRecommendations = "next_recommendations" // comma-joined product ids
	keyNames           = "recommendation_names" // human-readable summary
	keyData            = "recommendation_data"  // structured product payload
	keyCollectionURL   = "collection_url"
)

type customerJSON struct {
	ID                    int64  `json:"id"`
	Email                 string `json:"email"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	Tags                  string `json:"tags"`
	AcceptsMarketing      bool   `json:"accepts_marketing"`
	EmailMarketingConsent *struct {
		State string `json:"state"`
	} `json:"email_marketing_consent"`
}

func (c *customerJSON) toDomain() *crosssell.Customer {
	customer := &crosssell.Customer{
		ID:               c.ID,
		Email:            c.Email,
		FirstName:        c.FirstName,
		LastName:         c.LastName,
		AcceptsMarketing: c.AcceptsMarketing,
		Tags:             splitTags(c.Tags),
	}
	if c.EmailMarketingConsent != nil {
		customer.ConsentState = c.EmailMarketingConsent.State
	}
	return customer
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func withoutTag(tags []string, tag string) []string {
	var out []string
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}

// Customer looks up a customer by id.
func (c *Client) Customer(ctx context.Context, id int64) (*crosssell.Customer, error) {
	var body struct {
		Customer customerJSON `json:"customer"`
	}
	reqURL := c.apiURL(fmt.Sprintf("customers/%d.json", id))
	if _, err := c.get(ctx, reqURL, "customer", strconv.FormatInt(id, 10), &body); err != nil {
		return nil, fmt.Errorf("fetch customer %d: %w", id, err)
	}
	return body.Customer.toDomain(), nil
}

// CustomerByEmail looks up a customer by email address. Used by the manual
// end-to-end test trigger, not by production scans.
func (c *Client) CustomerByEmail(ctx context.Context, email string) (*crosssell.Customer, error) {
	var body struct {
		Customers []customerJSON `json:"customers"`
	}
	reqURL := c.apiURL("customers/search.json?query=" + url.QueryEscape("email:"+email))
	if _, err := c.get(ctx, reqURL, "customer", email, &body); err != nil {
		return nil, fmt.Errorf("search customer by email: %w", err)
	}
	if len(body.Customers) == 0 {
		return nil, &NotFoundError{Resource: "customer", ID: email}
	}
	return body.Customers[0].toDomain(), nil
}

type metafieldJSON struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

// UpdateRecommendations persists the recommendation to customer-scoped
// metafields and forces a trigger-tag transition. The downstream automation
// fires on the tag's removed-then-added transition, not its presence, so the
// writer first removes the tag and saves, re-fetches the customer, then
// re-adds the tag together with the new metafields in a second save.
//
// The two saves are not atomic: a crash between them leaves the customer
// without the tag until the next successful run, which repairs it. An empty
// recommendation is a no-op; no tag transition is performed.
func (c *Client) UpdateRecommendations(ctx context.Context, customerID int64, rec *crosssell.Recommendation) error {
	if rec == nil || len(rec.Products) == 0 {
		c.logger.Debug("Empty recommendation, skipping write", "customer_id", customerID)
		return nil
	}

	customer, err := c.Customer(ctx, customerID)
	if err != nil {
		return err
	}

	// Phase 1: drop the trigger tag so the upcoming re-add is a transition
	// even when a prior run left the tag in place.
	reqURL := c.apiURL(fmt.Sprintf("customers/%d.json", customerID))
	stripped := withoutTag(customer.Tags, TriggerTag)
	if err := c.put(ctx, reqURL, map[string]any{
		"customer": map[string]any{
			"id":   customerID,
			"tags": strings.Join(stripped, ", "),
		},
	}); err != nil {
		return fmt.Errorf("remove trigger tag from customer %d: %w", customerID, err)
	}
	c.logger.Debug("Trigger tag removed", "customer_id", customerID)

	// Re-fetch so the second save works from the store's current state.
	customer, err = c.Customer(ctx, customerID)
	if err != nil {
		return err
	}

	metafields, err := recommendationMetafields(rec)
	if err != nil {
		return err
	}

	// Phase 2: re-add the tag and write the metafields in one save.
	tags := append(withoutTag(customer.Tags, TriggerTag), TriggerTag)
	if err := c.put(ctx, reqURL, map[string]any{
		"customer": map[string]any{
			"id":         customerID,
			"tags":       strings.Join(tags, ", "),
			"metafields": metafields,
		},
	}); err != nil {
		return fmt.Errorf("write recommendation for customer %d: %w", customerID, err)
	}

	c.logger.Info("Recommendation written",
		"customer_id", customerID,
		"email", customer.Email,
		"products", len(rec.Products))
	return nil
}

func recommendationMetafields(rec *crosssell.Recommendation) ([]metafieldJSON, error) {
	ids := make([]string, 0, len(rec.Products))
	for _, p := range rec.Products {
		ids = append(ids, strconv.FormatInt(p.ID, 10))
	}

	data, err := json.Marshal(rec.Products)
	if err != nil {
		return nil, fmt.Errorf("marshal recommendation data: %w", err)
	}

	metafields := []metafieldJSON{
		{Namespace: metafieldNamespace, Key: keyRecommendations, Type: "single_line_text_field", Value: strings.Join(ids, ",")},
		{Namespace: metafieldNamespace, Key: keyNames, Type: "single_line_text_field", Value: strings.Join(rec.Titles(), ", ")},
		{Namespace: metafieldNamespace, Key: keyData, Type: "json", Value: string(data)},
	}
	if rec.CollectionURL != "" {
		metafields = append(metafields, metafieldJSON{
			Namespace: metafieldNamespace, Key: keyCollectionURL, Type: "url", Value: rec.CollectionURL,
		})
	}
	return metafields, nil
}
