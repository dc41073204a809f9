package conn

import (
	"database/sql"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/snowflakedb/gosnowflake"

	"github.com/hanpama/planexec/internal/plan"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Builder turns a datasource and resolved credential into a driver DSN for
// one database vendor.
type Builder interface {
	// Driver is the database/sql driver name.
	Driver() string
	DSN(ds plan.Datasource, cred Credential) (string, error)
	// Configure applies pool settings to a freshly opened handle.
	Configure(db *sql.DB, o *Options)
	// Placeholder renders the i-th (1-based) bind parameter.
	Placeholder(i int) string
}

// DefaultBuilders maps vendor tags to builders.
func DefaultBuilders() map[string]Builder {
	mysqlB := mysqlBuilder{}
	return map[string]Builder{
		"postgres":  postgresBuilder{driver: "pgx", defaultPort: 5432, sslmode: "prefer"},
		"redshift":  postgresBuilder{driver: "postgres", defaultPort: 5439, sslmode: "require"},
		"mysql":     mysqlB,
		"memsql":    mysqlB,
		"sqlite":    sqliteBuilder{},
		"snowflake": snowflakeBuilder{},
	}
}

func vendorKey(v string) string { return strings.ToLower(strings.TrimSpace(v)) }

func applyPool(db *sql.DB, o *Options) {
	db.SetMaxOpenConns(o.MaxOpen)
	db.SetMaxIdleConns(o.MaxIdle)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)
	db.SetConnMaxIdleTime(o.ConnMaxIdleTime)
}

// postgresBuilder serves Postgres through pgx and Redshift through lib/pq;
// both accept keyword/value DSNs.
type postgresBuilder struct {
	driver      string
	defaultPort int
	sslmode     string
}

func (b postgresBuilder) Driver() string           { return b.driver }
func (b postgresBuilder) Placeholder(i int) string { return "$" + strconv.Itoa(i) }
func (b postgresBuilder) Configure(db *sql.DB, o *Options) {
	applyPool(db, o)
}

func (b postgresBuilder) DSN(ds plan.Datasource, cred Credential) (string, error) {
	if ds.Host == "" {
		return "", fmt.Errorf("%s datasource requires a host", b.driver)
	}
	port := ds.Port
	if port == 0 {
		port = b.defaultPort
	}
	props := map[string]string{"sslmode": b.sslmode}
	for k, v := range ds.Properties {
		props[k] = v
	}
	parts := []string{
		"host=" + dsnQuoteValue(ds.Host),
		"port=" + strconv.Itoa(port),
	}
	if ds.Database != "" {
		parts = append(parts, "dbname="+dsnQuoteValue(ds.Database))
	}
	if cred.User != "" {
		parts = append(parts, "user="+dsnQuoteValue(cred.User))
	}
	if s := cred.secret(); s != "" {
		parts = append(parts, "password="+dsnQuoteValue(s))
	}
	for _, k := range sortedKeys(props) {
		parts = append(parts, k+"="+dsnQuoteValue(props[k]))
	}
	return strings.Join(parts, " "), nil
}

// dsnQuoteValue quotes a libpq keyword/value DSN value.
func dsnQuoteValue(val string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(val)
	return "'" + escaped + "'"
}

type mysqlBuilder struct{}

func (mysqlBuilder) Driver() string                   { return "mysql" }
func (mysqlBuilder) Placeholder(int) string           { return "?" }
func (mysqlBuilder) Configure(db *sql.DB, o *Options) { applyPool(db, o) }

func (mysqlBuilder) DSN(ds plan.Datasource, cred Credential) (string, error) {
	if ds.Host == "" {
		return "", fmt.Errorf("mysql datasource requires a host")
	}
	port := ds.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(ds.Host, strconv.Itoa(port))
	cfg.DBName = ds.Database
	cfg.User = cred.User
	cfg.Passwd = cred.secret()
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if len(ds.Properties) > 0 {
		cfg.Params = map[string]string{}
		for k, v := range ds.Properties {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN(), nil
}

// sqliteBuilder opens a database file, or a private in-memory database when
// no path is given. The handle is pinned to one connection so that an
// in-memory database survives between acquisitions.
type sqliteBuilder struct{}

func (sqliteBuilder) Driver() string         { return "sqlite" }
func (sqliteBuilder) Placeholder(int) string { return "?" }

func (sqliteBuilder) Configure(db *sql.DB, _ *Options) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
}

func (sqliteBuilder) DSN(ds plan.Datasource, _ Credential) (string, error) {
	if ds.Path == "" || ds.Path == ":memory:" {
		return ":memory:", nil
	}
	return ds.Path, nil
}

type snowflakeBuilder struct{}

func (snowflakeBuilder) Driver() string                   { return "snowflake" }
func (snowflakeBuilder) Placeholder(int) string           { return "?" }
func (snowflakeBuilder) Configure(db *sql.DB, o *Options) { applyPool(db, o) }

func (snowflakeBuilder) DSN(ds plan.Datasource, cred Credential) (string, error) {
	account := ds.Properties["account"]
	if account == "" {
		account = strings.TrimSuffix(ds.Host, ".snowflakecomputing.com")
	}
	if account == "" {
		return "", fmt.Errorf("snowflake datasource requires an account")
	}
	cfg := &gosnowflake.Config{
		Account:   account,
		User:      cred.User,
		Password:  cred.secret(),
		Database:  ds.Database,
		Schema:    ds.Properties["schema"],
		Warehouse: ds.Properties["warehouse"],
		Role:      ds.Properties["role"],
	}
	return gosnowflake.DSN(cfg)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
