package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresService serves catalog lookups from the cards table populated
// by scripts/import_cards.go.
type PostgresService struct {
	pool *pgxpool.Pool
}

// NewPostgresService wraps an existing connection pool.
func NewPostgresService(pool *pgxpool.Pool) *PostgresService {
	return &PostgresService{pool: pool}
}

const entryColumns = `id, name, mana_cost, type_line, oracle_text, power, toughness, image_url`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Name, &e.ManaCost, &e.TypeLine, &e.OracleText, &e.Power, &e.Toughness, &e.ImageURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan card: %w", err)
	}
	return &e, nil
}

// GetByID returns the card with the given catalog id, or (nil, nil).
func (s *PostgresService) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM cards WHERE id = $1`, id)
	return scanEntry(row)
}

// GetByName returns a card by name. With exact=false the closest prefix
// match wins, shortest name first, mirroring the usual autocomplete
// behavior of card catalogs.
func (s *PostgresService) GetByName(ctx context.Context, name string, exact bool) (*Entry, error) {
	if exact {
		row := s.pool.QueryRow(ctx,
			`SELECT `+entryColumns+` FROM cards WHERE lower(name) = lower($1) LIMIT 1`, name)
		return scanEntry(row)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM cards WHERE name ILIKE $1 || '%' ORDER BY length(name) LIMIT 1`, name)
	return scanEntry(row)
}

// SearchByText returns cards whose name or rules text contains query.
func (s *PostgresService) SearchByText(ctx context.Context, query string) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM cards
		 WHERE name ILIKE '%' || $1 || '%' OR oracle_text ILIKE '%' || $1 || '%'
		 ORDER BY name LIMIT 50`, query)
	if err != nil {
		return nil, fmt.Errorf("search cards: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Name, &e.ManaCost, &e.TypeLine, &e.OracleText, &e.Power, &e.Toughness, &e.ImageURL); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
