package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/skillpay-gateway/internal"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction/memory"
	transactionPostgres "github.com/frahmantamala/skillpay-gateway/internal/transaction/postgres"
	transactionRedis "github.com/frahmantamala/skillpay-gateway/internal/transaction/redis"
	"github.com/frahmantamala/skillpay-gateway/internal/transport/rest"
)

// Store is the transaction store picked at startup together with its health
// probe and cleanup.
type Store struct {
	Driver string
	Repo   transaction.RepositoryAPI
	Check  rest.CheckFunc
	Close  func() error
}

func openStore(ctx context.Context, cfg *internal.Config, lg *slog.Logger) (*Store, error) {
	driver := cfg.Store.ResolveDriver(cfg.Database)
	lg.Info("opening transaction store", "driver", driver)

	switch driver {
	case internal.StoreMemory:
		return &Store{
			Driver: driver,
			Repo:   memory.NewTransactionRepository(),
			Check:  func(context.Context) error { return nil },
			Close:  func() error { return nil },
		}, nil

	case internal.StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return &Store{
			Driver: driver,
			Repo:   transactionRedis.NewTransactionRepository(client, cfg.Redis.KeyPrefix),
			Check:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
			Close:  client.Close,
		}, nil

	case internal.StorePostgres:
		db, err := initDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), gormConfig())
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to open gorm over pgx: %w", err)
		}
		if cfg.Store.AutoMigrate {
			if err := transactionPostgres.AutoMigrate(gormDB); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to migrate transactions table: %w", err)
			}
		}
		return &Store{
			Driver: driver,
			Repo:   transactionPostgres.NewTransactionRepository(gormDB),
			Check:  db.PingContext,
			Close:  db.Close,
		}, nil

	case internal.StoreMySQL, internal.StoreSQLite:
		dialector := sqlite.Open(cfg.Database.Source)
		if driver == internal.StoreMySQL {
			dialector = mysql.Open(cfg.Database.Source)
		}
		gormDB, err := gorm.Open(dialector, gormConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, err
		}
		configurePool(sqlDB.SetMaxOpenConns, sqlDB.SetMaxIdleConns, sqlDB.SetConnMaxLifetime, cfg.Database)

		// goose migrations target postgres; other dialects get their schema from gorm
		if err := transactionPostgres.AutoMigrate(gormDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate transactions table: %w", err)
		}
		return &Store{
			Driver: driver,
			Repo:   transactionPostgres.NewTransactionRepository(gormDB),
			Check:  sqlDB.PingContext,
			Close:  sqlDB.Close,
		}, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", driver)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}
}

func configurePool(setOpen, setIdle func(int), setLifetime func(time.Duration), cfg internal.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		setOpen(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		setIdle(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		setLifetime(cfg.ConnMaxLifetime)
	}
}

// initDB initializes the postgres connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	configurePool(dbConn.SetMaxOpenConns, dbConn.SetMaxIdleConns, dbConn.SetConnMaxLifetime, cfg)
	if cfg.ConnMaxIdleTime > 0 {
		dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
