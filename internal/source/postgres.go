package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Postgres reads records from a table shaped as
//
//	id text, lat double precision, lng double precision, attrs jsonb
type Postgres struct {
	db    *sql.DB
	table string
	query string
}

func NewPostgres(db *sql.DB, table string) (*Postgres, error) {
	query, err := selectQuery(table)
	if err != nil {
		return nil, err
	}
	return &Postgres{db: db, table: table, query: query}, nil
}

func (p *Postgres) Name() string { return "postgres:" + p.table }

func (p *Postgres) Load(ctx context.Context) ([]*model.Item, error) {
	rows, err := p.db.QueryContext(ctx, p.query)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", p.table, err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		var (
			id       string
			lat, lng float64
			attrs    []byte
		)
		if err := rows.Scan(&id, &lat, &lng, &attrs); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", p.table, err)
		}
		items = append(items, decodeRow(id, lat, lng, attrs))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", p.table, err)
	}
	return items, nil
}

func selectQuery(table string) (string, error) {
	if !tableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	parts := strings.Split(table, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return fmt.Sprintf("SELECT id, lat, lng, COALESCE(attrs, '{}'::jsonb) FROM %s", strings.Join(parts, ".")), nil
}

// decodeRow returns nil when attrs is not a JSON object.
func decodeRow(id string, lat, lng float64, attrs []byte) *model.Item {
	var m map[string]any
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &m); err != nil {
			return nil
		}
	}
	return model.NewItem(id, lat, lng, m)
}
