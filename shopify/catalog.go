package shopify

import (
	"context"
	"fmt"
	"strconv"

	"crosssell-scanner/pkg/crosssell"
)

type collectionJSON struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Handle string `json:"handle"`
}

type productJSON struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Handle   string `json:"handle"`
	Variants []struct {
		Price string `json:"price"`
	} `json:"variants"`
	Image struct {
		Src string `json:"src"`
	} `json:"image"`
}

func (p *productJSON) toDomain(storeURL string) crosssell.Product {
	price := ""
	if len(p.Variants) > 0 {
		price = p.Variants[0].Price
	}
	return crosssell.Product{
		ID:       p.ID,
		Title:    p.Title,
		Price:    price,
		ImageURL: p.Image.Src,
		URL:      fmt.Sprintf("https://%s/products/%s", storeURL, p.Handle),
	}
}

// Collection resolves a collection id to its title, handle, and canonical
// storefront URL. Returns a NotFoundError when the id does not resolve.
func (c *Client) Collection(ctx context.Context, id int64) (*crosssell.Collection, error) {
	c.logger.Info("Fetching collection", "collection_id", id)

	var body struct {
		Collection collectionJSON `json:"collection"`
	}
	url := c.apiURL(fmt.Sprintf("collections/%d.json", id))
	if _, err := c.get(ctx, url, "collection", strconv.FormatInt(id, 10), &body); err != nil {
		return nil, fmt.Errorf("fetch collection %d: %w", id, err)
	}

	return &crosssell.Collection{
		ID:     body.Collection.ID,
		Title:  body.Collection.Title,
		Handle: body.Collection.Handle,
		URL:    fmt.Sprintf("https://%s/collections/%s", c.storeURL, body.Collection.Handle),
	}, nil
}

// CollectionProducts returns the full, unpaginated member product list of a
// collection with display metadata, in the collection's listing order.
// An empty collection yields an empty slice, not an error; callers treat
// empty as "skip, nothing to recommend."
func (c *Client) CollectionProducts(ctx context.Context, collectionID int64) ([]crosssell.Product, error) {
	c.logger.Info("Fetching collection products", "collection_id", collectionID)

	var products []crosssell.Product
	seen := make(map[int64]bool)
	url := c.apiURL(fmt.Sprintf("products.json?collection_id=%d&limit=%d", collectionID, pageLimit))

	for url != "" {
		var body struct {
			Products []productJSON `json:"products"`
		}
		next, err := c.get(ctx, url, "collection", strconv.FormatInt(collectionID, 10), &body)
		if err != nil {
			return nil, fmt.Errorf("fetch products of collection %d: %w", collectionID, err)
		}
		for i := range body.Products {
			p := body.Products[i].toDomain(c.storeURL)
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			products = append(products, p)
		}
		url = next
	}

	c.logger.Info("Collection products fetched", "collection_id", collectionID, "count", len(products))
	return products, nil
}
