package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

// ErrUnknownSite is wrapped when an hpo_id is not registered.
var ErrUnknownSite = errors.New("unknown site")

// SiteRepository reads the HPO site lookup tables.
type SiteRepository struct {
	pool    *pgxpool.Pool
	dataset string
}

// NewSiteRepository constructs a repository over the lookup dataset.
func NewSiteRepository(pool *pgxpool.Pool, lookupDataset string) *SiteRepository {
	return &SiteRepository{pool: pool, dataset: lookupDataset}
}

func (r *SiteRepository) table(name string) string {
	return pgx.Identifier{r.dataset, name}.Sanitize()
}

// Sites returns every registered site in display order.
func (r *SiteRepository) Sites(ctx context.Context) ([]model.Site, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT s.hpo_id, s.name, s.bucket, s.display_order,
			COALESCE(ARRAY_AGG(c.email ORDER BY c.email) FILTER (WHERE c.email IS NOT NULL), '{}')
		FROM %s s LEFT JOIN %s c ON c.hpo_id = s.hpo_id
		GROUP BY s.hpo_id, s.name, s.bucket, s.display_order
		ORDER BY s.display_order, s.hpo_id
	`, r.table("hpo_site"), r.table("hpo_contact")))
	if err != nil {
		return nil, fmt.Errorf("select sites: %w", err)
	}
	sites, err := pgx.CollectRows(rows, scanSite)
	if err != nil {
		return nil, fmt.Errorf("select sites: %w", err)
	}
	return sites, nil
}

// Site returns one site. hpo_id matching ignores case.
func (r *SiteRepository) Site(ctx context.Context, hpoID string) (*model.Site, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT s.hpo_id, s.name, s.bucket, s.display_order,
			COALESCE(ARRAY_AGG(c.email ORDER BY c.email) FILTER (WHERE c.email IS NOT NULL), '{}')
		FROM %s s LEFT JOIN %s c ON c.hpo_id = s.hpo_id
		WHERE LOWER(s.hpo_id) = $1
		GROUP BY s.hpo_id, s.name, s.bucket, s.display_order
	`, r.table("hpo_site"), r.table("hpo_contact")), strings.ToLower(hpoID))
	if err != nil {
		return nil, fmt.Errorf("select site: %w", err)
	}
	site, err := pgx.CollectOneRow(rows, scanSite)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s is not a valid hpo_id", ErrUnknownSite, hpoID)
		}
		return nil, fmt.Errorf("select site: %w", err)
	}
	return &site, nil
}

// SaveSite inserts or updates a site and replaces its contacts.
func (r *SiteRepository) SaveSite(ctx context.Context, site model.Site) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (hpo_id, name, bucket, display_order) VALUES ($1,$2,$3,$4)
		ON CONFLICT (hpo_id) DO UPDATE SET name=EXCLUDED.name, bucket=EXCLUDED.bucket, display_order=EXCLUDED.display_order
	`, r.table("hpo_site")), site.HPOID, site.Name, site.Bucket, site.DisplayOrder)
	if err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE hpo_id=$1`, r.table("hpo_contact")), site.HPOID); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}
	for _, email := range site.Contacts {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (hpo_id, email) VALUES ($1,$2)`, r.table("hpo_contact")), site.HPOID, email); err != nil {
			return fmt.Errorf("insert contact: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func scanSite(row pgx.CollectableRow) (model.Site, error) {
	var s model.Site
	err := row.Scan(&s.HPOID, &s.Name, &s.Bucket, &s.DisplayOrder, &s.Contacts)
	return s, err
}
