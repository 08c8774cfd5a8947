package mssql

import (
	"context"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

func init() {
	datasource.Register(datasource.TypeDescriptor{
		Type:        "mssql",
		DisplayName: "SQL Server",
		Family:      models.FamilySQL,
		Category:    models.CategoryRelational,
		DefaultPort: 1433,
		URLTemplate: "sqlserver://{host}:{port}?database={database}",
		Coordinate:  "github.com/microsoft/go-mssqldb",
		Connect:     connect,
	})
}

func connect(ctx context.Context, ds *models.Datasource, opts datasource.ConnectOptions) (datasource.Connection, error) {
	dial := func(ctx context.Context) (datasource.Connection, error) {
		return Dial(ctx, ds)
	}

	if opts.Manager == nil {
		return dial(ctx)
	}

	pool, err := opts.Manager.GetOrCreatePool(ctx, opts.TenantID, opts.UserID, ds.ID,
		datasource.PoolConfigFromModel(ds), dial)
	if err != nil {
		return nil, err
	}
	return pool.Lease(ctx)
}
