package ledger

import (
	"context"
	"fmt"

	"stock-signal-bot-go/internal/config"
	"stock-signal-bot-go/internal/database"
)

// Open connects the store selected by database.driver. The returned func releases it.
func Open(ctx context.Context, cfg config.Database) (Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		client, err := database.NewMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		return NewMongoStore(client, cfg.MongoDatabase), func() error {
			return client.Disconnect(context.Background())
		}, nil
	case config.DriverSQLite, "":
		db, err := database.NewDatabase(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		return NewGormStore(db), sqlDB.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown database driver %q", config.ErrConfiguration, cfg.Driver)
}
