package content

import (
	"context"
	"errors"
	"math/big"
	"sort"

	"github.com/bloom-paywall/server/internal/config"
)

// ErrContentNotFound is returned when a content resource doesn't exist.
var ErrContentNotFound = errors.New("content not found")

// Content represents a paywalled content resource with pricing.
type Content struct {
	ID          string            // Content ID (e.g., "premium-article")
	Title       string            // Human-readable title
	Description string            // Human-readable description
	Creator     string            // Creator wallet address, informational
	Price       *big.Int          // Price in atomic stablecoin units
	Metadata    map[string]string // Custom key-value pairs
}

// Repository defines the interface for content catalog access.
type Repository interface {
	// Get retrieves a content resource by ID.
	Get(ctx context.Context, id string) (Content, error)

	// List returns all content resources ordered by ID.
	List(ctx context.Context) ([]Content, error)
}

// ConfigRepository implements Repository from the YAML content catalog.
// Prices are parsed once at construction; config validation has already
// rejected non-integer price strings, so a parse failure here is a bug.
type ConfigRepository struct {
	resources map[string]Content
}

// NewConfigRepository creates a read-only repository from config.
func NewConfigRepository(cfg config.ContentConfig) (*ConfigRepository, error) {
	resources := make(map[string]Content, len(cfg.Resources))
	for id, resource := range cfg.Resources {
		price, ok := new(big.Int).SetString(resource.PriceAtomic, 10)
		if !ok {
			return nil, errors.New("content: invalid price for " + id)
		}
		contentID := resource.ContentID
		if contentID == "" {
			contentID = id
		}
		resources[id] = Content{
			ID:          contentID,
			Title:       resource.Title,
			Description: resource.Description,
			Creator:     resource.Creator,
			Price:       price,
			Metadata:    cloneMetadata(resource.Metadata),
		}
	}
	return &ConfigRepository{resources: resources}, nil
}

// Get retrieves a content resource by ID.
func (r *ConfigRepository) Get(_ context.Context, id string) (Content, error) {
	c, ok := r.resources[id]
	if !ok {
		return Content{}, ErrContentNotFound
	}
	return c, nil
}

// List returns all content resources ordered by ID.
func (r *ConfigRepository) List(_ context.Context) ([]Content, error) {
	contents := make([]Content, 0, len(r.resources))
	for _, c := range r.resources {
		contents = append(contents, c)
	}
	sort.Slice(contents, func(i, j int) bool { return contents[i].ID < contents[j].ID })
	return contents, nil
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	clone := make(map[string]string, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
