package natsqueue

import (
	"context"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

func init() {
	datasource.Register(datasource.TypeDescriptor{
		Type:        "nats",
		DisplayName: "NATS",
		Family:      models.FamilyNative,
		Category:    models.CategoryMessageQueue,
		DefaultPort: 4222,
		URLTemplate: "nats://{host}:{port}",
		Coordinate:  "github.com/nats-io/nats.go",
		Connect:     connect,
	})
}

func connect(ctx context.Context, ds *models.Datasource, opts datasource.ConnectOptions) (datasource.Connection, error) {
	dial := func(ctx context.Context) (datasource.Connection, error) {
		return Dial(ctx, ds)
	}

	// The NATS client multiplexes one connection; share it per datasource.
	if opts.Manager == nil {
		return dial(ctx)
	}
	conn, err := opts.Manager.GetOrCreateShared(ctx, opts.TenantID, opts.UserID, ds.ID, dial)
	if err != nil {
		return nil, err
	}
	return datasource.NewSharedRef(conn), nil
}
