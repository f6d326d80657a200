package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/taxengine/internal/cache"
	obsmetrics "github.com/smallbiznis/taxengine/internal/observability/metrics"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const taxClassColumns = `id, org_id, code, name, combination_mode, entries, description, metadata, is_enabled, created_at, updated_at`

var sortableColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
	"code":       true,
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Cache   cache.TaxClassCache    `optional:"true"`
	Metrics *obsmetrics.TaxMetrics `optional:"true"`
}

type repository struct {
	db      *gorm.DB
	cache   cache.TaxClassCache
	metrics *obsmetrics.TaxMetrics
}

func NewRepository(p Params) taxdomain.Repository {
	return &repository{db: p.DB, cache: p.Cache, metrics: p.Metrics}
}

func (r *repository) Create(ctx context.Context, class *taxdomain.TaxClass) error {
	err := r.db.WithContext(ctx).Exec(
		`INSERT INTO tax_classes (`+taxClassColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		class.ID,
		class.OrgID,
		class.Code,
		class.Name,
		class.CombinationMode,
		class.Entries,
		class.Description,
		class.Metadata,
		class.IsEnabled,
		class.CreatedAt,
		class.UpdatedAt,
	).Error
	if err != nil {
		r.metrics.IncStoreError("create", err)
	}
	return err
}

func (r *repository) FindByID(ctx context.Context, orgID, id snowflake.ID) (*taxdomain.TaxClass, error) {
	var class taxdomain.TaxClass
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+taxClassColumns+`
		 FROM tax_classes
		 WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&class).Error
	if err != nil {
		r.metrics.IncStoreError("find_by_id", err)
		return nil, err
	}
	if class.ID == 0 {
		return nil, nil
	}
	return &class, nil
}

// FindByCode reads through the cache when one is configured. Misses are not
// cached.
func (r *repository) FindByCode(ctx context.Context, orgID snowflake.ID, code string) (*taxdomain.TaxClass, error) {
	if r.cache != nil {
		if class, ok := r.cache.Get(ctx, orgID.String(), code); ok {
			return class, nil
		}
	}

	var class taxdomain.TaxClass
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+taxClassColumns+`
		 FROM tax_classes
		 WHERE org_id = ? AND code = ?`,
		orgID,
		code,
	).Scan(&class).Error
	if err != nil {
		r.metrics.IncStoreError("find_by_code", err)
		return nil, err
	}
	if class.ID == 0 {
		return nil, nil
	}

	if r.cache != nil {
		r.cache.Set(ctx, orgID.String(), code, &class)
	}
	return &class, nil
}

func (r *repository) List(ctx context.Context, orgID snowflake.ID, filter taxdomain.ListRequest) ([]taxdomain.TaxClass, error) {
	var items []taxdomain.TaxClass
	stmt := r.db.WithContext(ctx).
		Model(&taxdomain.TaxClass{}).
		Where("org_id = ?", orgID)

	if filter.Name != "" {
		stmt = stmt.Where("name = ?", filter.Name)
	}
	if filter.Code != "" {
		stmt = stmt.Where("code = ?", filter.Code)
	}
	if filter.IsEnabled != nil {
		stmt = stmt.Where("is_enabled = ?", *filter.IsEnabled)
	}

	stmt = stmt.Order(orderClause(filter.SortBy, filter.OrderBy))

	if err := stmt.Find(&items).Error; err != nil {
		r.metrics.IncStoreError("list", err)
		return nil, err
	}
	return items, nil
}

func (r *repository) Update(ctx context.Context, class *taxdomain.TaxClass) error {
	err := r.db.WithContext(ctx).Exec(
		`UPDATE tax_classes
		 SET name = ?, combination_mode = ?, entries = ?, description = ?, is_enabled = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		class.Name,
		class.CombinationMode,
		class.Entries,
		class.Description,
		class.IsEnabled,
		class.UpdatedAt,
		class.OrgID,
		class.ID,
	).Error
	if err != nil {
		r.metrics.IncStoreError("update", err)
		return err
	}

	if r.cache != nil {
		r.cache.Invalidate(ctx, class.OrgID.String(), class.Code)
	}
	return nil
}

// orderClause falls back to created_at ASC for unknown columns. Ties are
// broken by id so pages stay stable.
func orderClause(sortBy, orderBy string) string {
	column := strings.ToLower(strings.TrimSpace(sortBy))
	if !sortableColumns[column] {
		column = "created_at"
	}
	direction := "ASC"
	if strings.EqualFold(strings.TrimSpace(orderBy), "desc") {
		direction = "DESC"
	}
	return fmt.Sprintf("%s %s, id %s", column, direction, direction)
}
