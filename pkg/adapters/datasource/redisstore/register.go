package redisstore

import (
	"context"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

func init() {
	datasource.Register(datasource.TypeDescriptor{
		Type:        "redis",
		DisplayName: "Redis",
		Family:      models.FamilyNative,
		Category:    models.CategoryDocument,
		DefaultPort: 6379,
		URLTemplate: "redis://{host}:{port}/{database}",
		Coordinate:  "github.com/redis/go-redis/v9",
		Connect:     connect,
	})
}

func connect(ctx context.Context, ds *models.Datasource, opts datasource.ConnectOptions) (datasource.Connection, error) {
	dial := func(ctx context.Context) (datasource.Connection, error) {
		return Dial(ctx, ds)
	}

	// go-redis pools internally; one shared client per datasource.
	if opts.Manager == nil {
		return dial(ctx)
	}
	conn, err := opts.Manager.GetOrCreateShared(ctx, opts.TenantID, opts.UserID, ds.ID, dial)
	if err != nil {
		return nil, err
	}
	return datasource.NewSharedRef(conn), nil
}
