// Package migrations bundles the SQL applied by the migrate command.
package migrations

import (
	"embed"
	"strings"
)

//go:embed *.sql clickhouse/*.sql
var FS embed.FS

const (
	MySQLInit      = "001_init.sql"
	ClickHouseInit = "clickhouse/001_events.sql"
)

// Statements splits a migration file on ';' so it runs without multiStatements=true.
func Statements(sqlText string) []string {
	var out []string
	for _, stmt := range strings.Split(sqlText, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
