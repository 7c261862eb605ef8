package conn

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"

	defaultMaxOpenConns    = 16
	defaultMaxIdleConns    = 4
	defaultConnMaxLifetime = 30 * time.Minute
)

// Option defines connection options for PostgreSQL. Pool limits default to
// values sized for one process serving many concurrent agents.
type Option struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Params   map[string]string

	// ConnString overrides all host/credential fields when set.
	ConnString string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	Config *gorm.Config
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New opens a PostgreSQL pool from the provided options and verifies the
// connection.
func New(option Option) (*Client, error) {
	connString, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(valueOr(option.MaxOpenConns, defaultMaxOpenConns))
	sqlDB.SetMaxIdleConns(valueOr(option.MaxIdleConns, defaultMaxIdleConns))
	if option.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(option.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(defaultConnMaxLifetime)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Ping verifies the pool is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func valueOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}

	return u.String(), nil
}
