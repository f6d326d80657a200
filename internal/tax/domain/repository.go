package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, class *TaxClass) error
	FindByID(ctx context.Context, orgID, id snowflake.ID) (*TaxClass, error)
	FindByCode(ctx context.Context, orgID snowflake.ID, code string) (*TaxClass, error)
	List(ctx context.Context, orgID snowflake.ID, filter ListRequest) ([]TaxClass, error)
	Update(ctx context.Context, class *TaxClass) error
}
