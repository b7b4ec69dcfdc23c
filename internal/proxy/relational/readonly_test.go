package relational

import (
	"errors"
	"testing"

	"github.com/datagate-io/datagate/internal/proxyerr"
)

func TestEnsureReadOnlyAllowsReads(t *testing.T) {
	queries := []string{
		"SELECT * FROM orders LIMIT 10",
		"select id, total from orders where region = 'EU'",
		"SHOW TABLES",
		"DESCRIBE orders",
		"EXPLAIN SELECT * FROM orders",
		"WITH recent AS (SELECT * FROM orders) SELECT * FROM recent",
		"SELECT * FROM orders;",
		"SELECT note FROM logs WHERE note = 'please UPDATE me'",
		`SELECT "update" FROM audit`,
		"SELECT updated_at, created_at FROM orders",
	}
	for _, q := range queries {
		if err := EnsureReadOnly(q); err != nil {
			t.Errorf("EnsureReadOnly(%q) = %v, want nil", q, err)
		}
	}
}

func TestEnsureReadOnlyRejectsWrites(t *testing.T) {
	queries := []string{
		"INSERT INTO orders (id) VALUES (1)",
		"UPDATE orders SET total = 0",
		"DELETE FROM orders",
		"DROP TABLE orders",
		"TRUNCATE orders",
		"WITH doomed AS (DELETE FROM orders RETURNING id) SELECT * FROM doomed",
		"SELECT 1; DROP TABLE orders",
		"GRANT ALL ON orders TO intruder",
		"",
		"   ",
	}
	for _, q := range queries {
		err := EnsureReadOnly(q)
		if err == nil {
			t.Errorf("EnsureReadOnly(%q) = nil, want PERMISSION_DENIED", q)
			continue
		}
		var pe *proxyerr.Error
		if !errors.As(err, &pe) || pe.Code != proxyerr.CodePermissionDenied {
			t.Errorf("EnsureReadOnly(%q) code = %v, want PERMISSION_DENIED", q, err)
		}
	}
}
