package httpapi

import (
	"context"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

func init() {
	datasource.Register(datasource.TypeDescriptor{
		Type:        "http",
		DisplayName: "HTTP API",
		Family:      models.FamilyHTTP,
		Category:    models.CategoryHTTPAPI,
		DefaultPort: 443,
		URLTemplate: "{host}:{port}",
		Coordinate:  "net/http",
		Connect: func(ctx context.Context, ds *models.Datasource, opts datasource.ConnectOptions) (datasource.Connection, error) {
			return Dial(ctx, ds, "http")
		},
	})
	datasource.Register(datasource.TypeDescriptor{
		Type:        "elasticsearch",
		DisplayName: "Elasticsearch",
		Family:      models.FamilyHTTP,
		Category:    models.CategorySearch,
		DefaultPort: 9200,
		URLTemplate: "{host}:{port}",
		Coordinate:  "net/http",
		Connect: func(ctx context.Context, ds *models.Datasource, opts datasource.ConnectOptions) (datasource.Connection, error) {
			return Dial(ctx, ds, "elasticsearch")
		},
	})
}
