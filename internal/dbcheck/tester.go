// Package dbcheck validates the proxy end to end by running real queries
// through the local endpoint.
package dbcheck

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"github.com/blik616287/rds-proxy/internal/proxy"
)

const (
	livenessQuery = "SELECT 1"

	// One text column keeps the row shape independent of driver type
	// mapping; the fields are split on the delimiter afterwards.
	detailQuery = "SELECT current_database() || '|' || current_user || '|' || " +
		"COALESCE(inet_server_addr()::text, '') || '|' || " +
		"COALESCE(inet_server_port()::text, '') || '|' || now()"

	detailFieldCount = 5
)

// Postgres implements proxy.Tester over lib/pq.
type Postgres struct {
	dsn string
}

func NewPostgres(dsn string) *Postgres {
	return &Postgres{dsn: dsn}
}

// Run executes the liveness query, then the diagnostic detail query. The
// liveness result is authoritative: if the detail row is missing or short,
// the test still passes and the report is nil.
func (t *Postgres) Run(ctx context.Context) (*proxy.TestReport, error) {
	db, err := sql.Open("postgres", t.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", proxy.ErrConnectionFailed, err)
	}
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, livenessQuery).Scan(&one); err != nil {
		return nil, fmt.Errorf("%w: %v", proxy.ErrConnectionFailed, err)
	}

	var row string
	if err := db.QueryRowContext(ctx, detailQuery).Scan(&row); err != nil {
		log.Warnf("detail query failed after liveness passed: %v", err)
		return nil, nil
	}
	report, ok := parseDetailRow(row)
	if !ok {
		log.Warnf("detail row has fewer than %d fields, omitting details: %q", detailFieldCount, row)
		return nil, nil
	}
	return report, nil
}

func parseDetailRow(row string) (*proxy.TestReport, bool) {
	fields := strings.Split(row, "|")
	if len(fields) < detailFieldCount {
		return nil, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return &proxy.TestReport{
		Database:   fields[0],
		User:       fields[1],
		ServerAddr: fields[2],
		ServerPort: fields[3],
		ServerTime: fields[4],
	}, true
}
