// Package relational serves the SQL connector families (MySQL, PostgreSQL,
// ClickHouse) behind one adapter implementation. Connections are opened per
// request from the decrypted connector config and closed when the request
// ends; the gateway never pools backend credentials.
package relational

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/proxyerr"
)

// defaultLimit bounds the implicit SELECT issued when neither the caller
// nor the connector supplies a query.
const defaultLimit = 100

// dialect captures the per-engine differences the adapter needs: the
// database/sql driver name, how to build a DSN, and identifier quoting.
type dialect struct {
	driverName  string
	defaultPort int
	buildDSN    func(cfg model.ConnectionConfig, creds model.Credentials, addr string) string
	quote       func(ident string) string
}

// Adapter executes read queries against one relational engine.
type Adapter struct {
	typ model.ProxyType
	d   dialect
}

// NewMySQL returns the adapter for the relational-mysql family.
func NewMySQL() *Adapter {
	return &Adapter{typ: model.TypeMySQL, d: dialect{
		driverName:  "mysql",
		defaultPort: 3306,
		buildDSN: func(cfg model.ConnectionConfig, creds model.Credentials, addr string) string {
			mc := mysqldriver.NewConfig()
			mc.User = creds.Username
			mc.Passwd = creds.Password
			mc.Net = "tcp"
			mc.Addr = addr
			mc.DBName = cfg.Database
			mc.ParseTime = true
			return mc.FormatDSN()
		},
		quote: func(ident string) string {
			return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
		},
	}}
}

// NewPostgres returns the adapter for the relational-postgres family.
func NewPostgres() *Adapter {
	return &Adapter{typ: model.TypePostgres, d: dialect{
		driverName:  "pgx",
		defaultPort: 5432,
		buildDSN: func(cfg model.ConnectionConfig, creds model.Credentials, addr string) string {
			u := url.URL{
				Scheme: "postgres",
				User:   url.UserPassword(creds.Username, creds.Password),
				Host:   addr,
				Path:   "/" + cfg.Database,
			}
			q := url.Values{}
			if cfg.UseTLS {
				q.Set("sslmode", "require")
			} else {
				q.Set("sslmode", "disable")
			}
			u.RawQuery = q.Encode()
			return u.String()
		},
		quote: quoteANSI,
	}}
}

// NewClickHouse returns the adapter for the columnar-clickhouse family.
func NewClickHouse() *Adapter {
	return &Adapter{typ: model.TypeClickHouse, d: dialect{
		driverName:  "clickhouse",
		defaultPort: 9000,
		buildDSN: func(cfg model.ConnectionConfig, creds model.Credentials, addr string) string {
			u := url.URL{
				Scheme: "clickhouse",
				User:   url.UserPassword(creds.Username, creds.Password),
				Host:   addr,
				Path:   "/" + cfg.Database,
			}
			if cfg.UseTLS {
				u.RawQuery = "secure=true"
			}
			return u.String()
		},
		quote: quoteANSI,
	}}
}

func quoteANSI(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (a *Adapter) Type() model.ProxyType { return a.typ }

// Execute opens a short-lived connection, runs the effective query under
// the request context, and returns rows as generic maps.
func (a *Adapter) Execute(ctx context.Context, req proxy.Request) (*proxy.Result, error) {
	query, err := a.effectiveQuery(req)
	if err != nil {
		return nil, err
	}
	if req.ReadOnly {
		if err := EnsureReadOnly(query); err != nil {
			return nil, err
		}
	}

	db, err := a.open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	args := []interface{}{}
	bound := query
	if len(req.Params) > 0 {
		bound, args, err = sqlx.Named(query, req.Params)
		if err != nil {
			return nil, proxyerr.Wrap(proxyerr.CodeValidationError, err, "query parameters do not match query")
		}
		bound = db.Rebind(bound)
	}

	rows, err := db.QueryxContext(ctx, bound, args...)
	if err != nil {
		return nil, classify(err, "query failed")
	}
	defer rows.Close()

	data := make([]map[string]interface{}, 0, 16)
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, classify(err, "row scan failed")
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "result iteration failed")
	}

	return &proxy.Result{
		TargetKind: proxy.TargetDatabase,
		Target:     req.Config.Database,
		Query:      query,
		RowCount:   len(data),
		Data:       data,
	}, nil
}

// Probe verifies that the backend is reachable with the given credentials.
func (a *Adapter) Probe(ctx context.Context, req proxy.Request) error {
	db, err := a.open(ctx, req)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return classify(err, "ping failed")
	}
	return nil
}

// effectiveQuery applies the fallback chain: caller query, connector
// default, then a bounded SELECT over the bound table.
func (a *Adapter) effectiveQuery(req proxy.Request) (string, error) {
	if strings.TrimSpace(req.Query) != "" {
		return req.Query, nil
	}
	if req.Resource == "" {
		return "", proxyerr.New(proxyerr.CodeValidationError, "no query given and connector has no default table")
	}
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", a.d.quote(req.Resource), defaultLimit), nil
}

func (a *Adapter) open(ctx context.Context, req proxy.Request) (*sqlx.DB, error) {
	port := req.Config.Port
	if port == 0 {
		port = a.d.defaultPort
	}
	addr := net.JoinHostPort(req.Config.Host, fmt.Sprintf("%d", port))

	db, err := sqlx.Open(a.d.driverName, a.d.buildDSN(req.Config, req.Creds, addr))
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.CodeStorageError, err, "invalid connector configuration")
	}
	// One request, one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify(err, "backend unreachable")
	}
	return db, nil
}

// classify splits backend failures into resumable connectivity faults
// (NETWORK_ERROR) and everything else (STORAGE_ERROR). Callers with an
// expired context always see a network fault.
func classify(err error, msg string) *proxyerr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return proxyerr.Network(err, "%s: backend timed out", msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) {
		return proxyerr.Network(err, "%s: backend unreachable", msg)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return proxyerr.Network(err, "%s: backend unreachable", msg)
	}
	return proxyerr.Wrap(proxyerr.CodeStorageError, err, "%s", msg)
}
