package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"crosssell-scanner/pkg/crosssell"
)

var testNow = time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC)

// fakeStore is an in-memory Store with per-call failure injection.
type fakeStore struct {
	collections map[int64]*crosssell.Collection
	products    map[int64][]crosssell.Product
	orders      []crosssell.Order
	histories   map[int64]map[int64]bool

	ordersErr  error
	historyErr map[int64]error
	writeErr   map[int64]error
	collErr    map[int64]error
	writes     []*crosssell.Recommendation
	writtenFor []int64
}

func (f *fakeStore) Collection(_ context.Context, id int64) (*crosssell.Collection, error) {
	if err := f.collErr[id]; err != nil {
		return nil, err
	}
	coll, ok := f.collections[id]
	if !ok {
		return nil, errors.New("collection not found")
	}
	return coll, nil
}

func (f *fakeStore) CollectionProducts(_ context.Context, id int64) ([]crosssell.Product, error) {
	return f.products[id], nil
}

func (f *fakeStore) OrdersCreatedBetween(_ context.Context, _, _ time.Time) ([]crosssell.Order, error) {
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	return f.orders, nil
}

func (f *fakeStore) PurchaseHistory(_ context.Context, customerID int64) (map[int64]bool, error) {
	if err := f.historyErr[customerID]; err != nil {
		return nil, err
	}
	h := f.histories[customerID]
	if h == nil {
		h = map[int64]bool{}
	}
	return h, nil
}

func (f *fakeStore) UpdateRecommendations(_ context.Context, customerID int64, rec *crosssell.Recommendation) error {
	if err := f.writeErr[customerID]; err != nil {
		return err
	}
	f.writes = append(f.writes, rec)
	f.writtenFor = append(f.writtenFor, customerID)
	return nil
}

type fakeReporter struct {
	saved []*crosssell.RunSummary
	err   error
}

func (f *fakeReporter) Save(_ context.Context, s *crosssell.RunSummary) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, s)
	return nil
}

func subscriber(id int64, email string) *crosssell.Customer {
	return &crosssell.Customer{ID: id, Email: email, ConsentState: "subscribed"}
}

func testRunner(store Store, reports Reporter) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(store, reports, logger)
	r.now = func() time.Time { return testNow }
	return r
}

// forgedStore builds the reference scenario: collection 42 with products
// P1, P2, P3 in listing order, customer 7 bought P2 within the window.
func forgedStore() *fakeStore {
	return &fakeStore{
		collections: map[int64]*crosssell.Collection{
			42: {ID: 42, Title: "Forged", Handle: "forged", URL: "https://shop.example/collections/forged"},
		},
		products: map[int64][]crosssell.Product{
			42: {
				{ID: 1, Title: "P1", Price: "10.00"},
				{ID: 2, Title: "P2", Price: "20.00"},
				{ID: 3, Title: "P3", Price: "30.00"},
			},
		},
		orders: []crosssell.Order{
			{
				ID:        100,
				CreatedAt: testNow.AddDate(0, 0, -175),
				Customer:  subscriber(7, "x@example.com"),
				LineItems: []crosssell.LineItem{{ProductID: 2, Title: "P2"}},
			},
		},
		histories: map[int64]map[int64]bool{7: {2: true}},
	}
}

func TestWindow(t *testing.T) {
	from, to := Window(testNow, 173, 180)
	if want := testNow.AddDate(0, 0, -180); !from.Equal(want) {
		t.Errorf("from = %v, want %v", from, want)
	}
	if want := testNow.AddDate(0, 0, -173); !to.Equal(want) {
		t.Errorf("to = %v, want %v", to, want)
	}
	if to.Before(from) {
		t.Error("window inverted")
	}
}

func TestEligible(t *testing.T) {
	products := []crosssell.Product{{ID: 1, Title: "P1"}, {ID: 2, Title: "P2"}}
	inWindow := testNow.AddDate(0, 0, -175)

	tests := []struct {
		name   string
		orders []crosssell.Order
		want   []int64 // accepted customer ids, in order
	}{
		{
			name: "duplicate customer accepted once, first seen wins",
			orders: []crosssell.Order{
				{CreatedAt: inWindow, Customer: subscriber(7, "a@example.com"), LineItems: []crosssell.LineItem{{ProductID: 2, Title: "P2"}}},
				{CreatedAt: inWindow.AddDate(0, 0, -1), Customer: subscriber(7, "a@example.com"), LineItems: []crosssell.LineItem{{ProductID: 1, Title: "P1"}}},
			},
			want: []int64{7},
		},
		{
			name: "no attached customer skipped",
			orders: []crosssell.Order{
				{CreatedAt: inWindow, LineItems: []crosssell.LineItem{{ProductID: 1, Title: "P1"}}},
			},
			want: nil,
		},
		{
			name: "unsubscribed rejected regardless of purchase match",
			orders: []crosssell.Order{
				{CreatedAt: inWindow, Customer: &crosssell.Customer{ID: 8, ConsentState: "unsubscribed"}, LineItems: []crosssell.LineItem{{ProductID: 1, Title: "P1"}}},
			},
			want: nil,
		},
		{
			name: "legacy consent flag accepted when structured state absent",
			orders: []crosssell.Order{
				{CreatedAt: inWindow, Customer: &crosssell.Customer{ID: 9, AcceptsMarketing: true}, LineItems: []crosssell.LineItem{{ProductID: 1, Title: "P1"}}},
			},
			want: []int64{9},
		},
		{
			name: "order without collection product rejected",
			orders: []crosssell.Order{
				{CreatedAt: inWindow, Customer: subscriber(10, "c@example.com"), LineItems: []crosssell.LineItem{{ProductID: 99, Title: "Other"}}},
			},
			want: nil,
		},
		{
			name: "fetch order preserved across customers",
			orders: []crosssell.Order{
				{CreatedAt: inWindow, Customer: subscriber(11, "d@example.com"), LineItems: []crosssell.LineItem{{ProductID: 1, Title: "P1"}}},
				{CreatedAt: inWindow, Customer: subscriber(12, "e@example.com"), LineItems: []crosssell.LineItem{{ProductID: 2, Title: "P2"}}},
			},
			want: []int64{11, 12},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := Eligible(tt.orders, products)
			if len(records) != len(tt.want) {
				t.Fatalf("Eligible() returned %d records, want %d", len(records), len(tt.want))
			}
			for i, rec := range records {
				if rec.Customer.ID != tt.want[i] {
					t.Errorf("record %d customer = %d, want %d", i, rec.Customer.ID, tt.want[i])
				}
			}
		})
	}
}

func TestEligibleFirstSeenOrderRecorded(t *testing.T) {
	products := []crosssell.Product{{ID: 1, Title: "P1"}, {ID: 2, Title: "P2"}}
	first := testNow.AddDate(0, 0, -175)
	second := testNow.AddDate(0, 0, -179)

	orders := []crosssell.Order{
		{CreatedAt: first, Customer: subscriber(7, "a@example.com"), LineItems: []crosssell.LineItem{{ProductID: 2, Title: "P2"}}},
		{CreatedAt: second, Customer: subscriber(7, "a@example.com"), LineItems: []crosssell.LineItem{{ProductID: 1, Title: "P1"}}},
	}

	records := Eligible(orders, products)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if !records[0].PurchaseDate.Equal(first) {
		t.Errorf("purchase date = %v, want first-seen %v", records[0].PurchaseDate, first)
	}
	if records[0].TriggeringProduct != "P2" {
		t.Errorf("triggering product = %q, want P2 (from first-seen order)", records[0].TriggeringProduct)
	}
}

func TestEligibleNoCollectionAcceptsAll(t *testing.T) {
	orders := []crosssell.Order{
		{CreatedAt: testNow, Customer: subscriber(7, "a@example.com"), LineItems: []crosssell.LineItem{{ProductID: 99, Title: "Anything"}}},
	}
	records := Eligible(orders, nil)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (unconditional accept without collection filter)", len(records))
	}
	if records[0].TriggeringProduct != "" {
		t.Errorf("triggering product = %q, want empty", records[0].TriggeringProduct)
	}
}

func TestRunReferenceScenario(t *testing.T) {
	store := forgedStore()
	reports := &fakeReporter{}
	runner := testRunner(store, reports)

	summary, err := runner.Run(context.Background(), Options{
		DaysStart:     173,
		DaysEnd:       180,
		CollectionIDs: []int64{42},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if summary.Status != crosssell.StatusSuccess {
		t.Errorf("status = %s, want success", summary.Status)
	}
	if summary.TotalUpdated != 1 {
		t.Errorf("total updated = %d, want 1", summary.TotalUpdated)
	}
	if len(store.writes) != 1 {
		t.Fatalf("writer called %d times, want 1", len(store.writes))
	}

	rec := store.writes[0]
	if len(rec.Products) != 2 || rec.Products[0].ID != 1 || rec.Products[1].ID != 3 {
		t.Errorf("recommendation = %v, want [P1 P3]", rec.Titles())
	}
	if rec.CollectionURL != "https://shop.example/collections/forged" {
		t.Errorf("collection URL = %q", rec.CollectionURL)
	}
}

func TestRunCustomerOwnsWholeCollection(t *testing.T) {
	store := forgedStore()
	store.histories[7] = map[int64]bool{1: true, 2: true, 3: true}
	runner := testRunner(store, nil)

	summary, err := runner.Run(context.Background(), Options{
		DaysStart: 173, DaysEnd: 180, CollectionIDs: []int64{42},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if summary.TotalUpdated != 0 {
		t.Errorf("total updated = %d, want 0", summary.TotalUpdated)
	}
	// The writer is still invoked; it no-ops on the empty set.
	if len(store.writes) != 1 {
		t.Fatalf("writer called %d times, want 1", len(store.writes))
	}
	if len(store.writes[0].Products) != 0 {
		t.Errorf("writer received %d products, want 0", len(store.writes[0].Products))
	}
	if len(summary.Errors) != 0 {
		t.Errorf("errors = %v, want none", summary.Errors)
	}
}

func TestRunEmptyCollectionSkippedWithWarning(t *testing.T) {
	store := forgedStore()
	store.products[42] = nil
	runner := testRunner(store, nil)

	summary, err := runner.Run(context.Background(), Options{
		DaysStart: 173, DaysEnd: 180, CollectionIDs: []int64{42},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if summary.Status != crosssell.StatusSuccess {
		t.Errorf("status = %s, want success (skip is not an error)", summary.Status)
	}
	if summary.TotalUpdated != 0 || len(summary.Errors) != 0 {
		t.Errorf("updated = %d, errors = %v; want 0 and none", summary.TotalUpdated, summary.Errors)
	}
	if len(summary.Collections) != 1 || !summary.Collections[0].Skipped {
		t.Error("collection should be recorded as skipped")
	}
	if len(store.writes) != 0 {
		t.Errorf("writer called %d times on empty collection", len(store.writes))
	}
}

func TestRunDryRunNeverWrites(t *testing.T) {
	store := forgedStore()
	runner := testRunner(store, nil)

	summary, err := runner.Run(context.Background(), Options{
		DaysStart: 173, DaysEnd: 180, CollectionIDs: []int64{42}, DryRun: true,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(store.writes) != 0 {
		t.Errorf("dry run performed %d writes", len(store.writes))
	}
	if summary.TotalUpdated != 0 {
		t.Errorf("total updated = %d, want 0 in dry run", summary.TotalUpdated)
	}
	if summary.Type != crosssell.RunTypeDryRun {
		t.Errorf("type = %q, want %q", summary.Type, crosssell.RunTypeDryRun)
	}
	if len(summary.Collections) != 1 || len(summary.Collections[0].Proposed) != 1 {
		t.Fatal("dry run should report one proposed update")
	}
	proposed := summary.Collections[0].Proposed[0]
	if proposed.Email != "x@example.com" {
		t.Errorf("proposed email = %q", proposed.Email)
	}
	if len(proposed.Recommendations) != 2 || proposed.Recommendations[0] != "P1" || proposed.Recommendations[1] != "P3" {
		t.Errorf("proposed recommendations = %v, want [P1 P3]", proposed.Recommendations)
	}
	if proposed.TriggeringProduct != "P2" {
		t.Errorf("triggering product = %q, want P2", proposed.TriggeringProduct)
	}
}

func TestRunCustomerFailureIsolated(t *testing.T) {
	store := forgedStore()
	store.orders = append(store.orders, crosssell.Order{
		ID:        101,
		CreatedAt: testNow.AddDate(0, 0, -176),
		Customer:  subscriber(8, "y@example.com"),
		LineItems: []crosssell.LineItem{{ProductID: 1, Title: "P1"}},
	})
	store.historyErr = map[int64]error{7: errors.New("history fetch blew up")}
	runner := testRunner(store, nil)

	summary, err := runner.Run(context.Background(), Options{
		DaysStart: 173, DaysEnd: 180, CollectionIDs: []int64{42},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if summary.Status != crosssell.StatusPartial {
		t.Errorf("status = %s, want partial_success", summary.Status)
	}
	if summary.TotalUpdated != 1 {
		t.Errorf("total updated = %d, want 1 (customer 8 still processed)", summary.TotalUpdated)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", summary.Errors)
	}
	if len(store.writtenFor) != 1 || store.writtenFor[0] != 8 {
		t.Errorf("written for %v, want [8]", store.writtenFor)
	}
}

func TestRunWriteFailureNotCounted(t *testing.T) {
	store := forgedStore()
	store.writeErr = map[int64]error{7: errors.New("validation error")}
	runner := testRunner(store, nil)

	summary, err := runner.Run(context.Background(), Options{
		DaysStart: 173, DaysEnd: 180, CollectionIDs: []int64{42},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.TotalUpdated != 0 {
		t.Errorf("total updated = %d, want 0 after write failure", summary.TotalUpdated)
	}
	if summary.Status != crosssell.StatusPartial {
		t.Errorf("status = %s, want partial_success", summary.Status)
	}
}

func TestRunCollectionFailureIsolated(t *testing.T) {
	store := forgedStore()
	store.collections[43] = &crosssell.Collection{ID: 43, Title: "Broken"}
	store.collErr = map[int64]error{43: errors.New("upstream exploded")}
	runner := testRunner(store, nil)

	summary, err := runner.Run(context.Background(), Options{
		DaysStart: 173, DaysEnd: 180, CollectionIDs: []int64{43, 42},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if summary.Status != crosssell.StatusPartial {
		t.Errorf("status = %s, want partial_success", summary.Status)
	}
	if summary.TotalUpdated != 1 {
		t.Errorf("total updated = %d, want 1 (collection 42 unaffected)", summary.TotalUpdated)
	}
	if len(summary.Collections) != 1 || summary.Collections[0].CollectionID != 42 {
		t.Error("only collection 42 should report a result")
	}
}

func TestRunInvalidWindowAbortsBeforeAnyCollection(t *testing.T) {
	store := forgedStore()
	reports := &fakeReporter{}
	runner := testRunner(store, reports)

	summary, err := runner.Run(context.Background(), Options{
		DaysStart: 180, DaysEnd: 173, CollectionIDs: []int64{42},
	})
	if err == nil {
		t.Fatal("Run() with inverted window should error")
	}
	if !crosssell.IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
	if summary.Status != crosssell.StatusError {
		t.Errorf("status = %s, want error", summary.Status)
	}
	if len(store.writes) != 0 {
		t.Error("no collection should have been processed")
	}
	// Failed runs still produce exactly one report.
	if len(reports.saved) != 1 {
		t.Errorf("saved %d reports, want 1", len(reports.saved))
	}
}

func TestRunSavesExactlyOneReport(t *testing.T) {
	store := forgedStore()
	reports := &fakeReporter{}
	runner := testRunner(store, reports)

	if _, err := runner.Run(context.Background(), Options{
		DaysStart: 173, DaysEnd: 180, CollectionIDs: []int64{42},
	}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(reports.saved) != 1 {
		t.Fatalf("saved %d reports, want 1", len(reports.saved))
	}
	saved := reports.saved[0]
	if saved.RunID == "" {
		t.Error("report missing run id")
	}
	if saved.Type != crosssell.RunTypeWeekly {
		t.Errorf("type = %q, want %q", saved.Type, crosssell.RunTypeWeekly)
	}
}

func TestRunReporterFailureDoesNotFailRun(t *testing.T) {
	store := forgedStore()
	reports := &fakeReporter{err: errors.New("sink down")}
	runner := testRunner(store, reports)

	summary, err := runner.Run(context.Background(), Options{
		DaysStart: 173, DaysEnd: 180, CollectionIDs: []int64{42},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Status != crosssell.StatusSuccess {
		t.Errorf("status = %s, want success despite sink failure", summary.Status)
	}
}

func TestCheckCustomer(t *testing.T) {
	store := forgedStore()
	runner := testRunner(store, nil)

	result, err := runner.CheckCustomer(context.Background(), 7, 42, false)
	if err != nil {
		t.Fatalf("CheckCustomer() error: %v", err)
	}
	if result.Updated {
		t.Error("check without force should not report updated")
	}
	if len(store.writes) != 0 {
		t.Error("check without force should not write")
	}
	titles := result.Recommendation.Titles()
	if len(titles) != 2 || titles[0] != "P1" || titles[1] != "P3" {
		t.Errorf("recommendation = %v, want [P1 P3]", titles)
	}

	result, err = runner.CheckCustomer(context.Background(), 7, 42, true)
	if err != nil {
		t.Fatalf("CheckCustomer(force) error: %v", err)
	}
	if !result.Updated {
		t.Error("forced check should report updated")
	}
	if len(store.writes) != 1 {
		t.Errorf("forced check performed %d writes, want 1", len(store.writes))
	}
}
