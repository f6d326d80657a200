package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/taxengine/internal/config"
	"github.com/smallbiznis/taxengine/internal/orgcontext"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"go.uber.org/fx"
)

type resolverParam struct {
	fx.In

	Repository taxdomain.Repository
	Builtins   *config.TaxClassConfigHolder `optional:"true"`
}

type resolver struct {
	repo     taxdomain.Repository
	builtins *config.TaxClassConfigHolder
}

func NewResolver(p resolverParam) taxdomain.TaxClassResolver {
	return &resolver{repo: p.Repository, builtins: p.Builtins}
}

// Resolve returns an enabled tax class for code. A class stored for the org
// shadows the built-in class of the same code.
func (r *resolver) Resolve(ctx context.Context, code string) (*taxdomain.TaxClass, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, taxdomain.ErrInvalidOrganization
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, taxdomain.ErrInvalidTaxCode
	}

	class, err := r.repo.FindByCode(ctx, orgID, code)
	if err != nil {
		return nil, err
	}
	if class == nil {
		builtin, ok := r.builtins.Lookup(code)
		if !ok {
			return nil, taxdomain.ErrNotFound
		}
		class = builtin
	}
	if !class.IsEnabled {
		return nil, taxdomain.ErrTaxClassDisabled
	}
	return class, nil
}
