package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/taxengine/internal/clock"
	"github.com/smallbiznis/taxengine/internal/config"
	obsmetrics "github.com/smallbiznis/taxengine/internal/observability/metrics"
	"github.com/smallbiznis/taxengine/internal/orgcontext"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"github.com/smallbiznis/taxengine/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type serviceParams struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       taxdomain.Repository
	Calculator *Calculator
	Resolver   taxdomain.TaxClassResolver
	Builtins   *config.TaxClassConfigHolder `optional:"true"`
	Metrics    *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       taxdomain.Repository
	calculator *Calculator
	resolver   taxdomain.TaxClassResolver
	builtins   *config.TaxClassConfigHolder
	metrics    *obsmetrics.Metrics
}

func NewService(p serviceParams) taxdomain.Service {
	return &Service{
		log:        p.Log.Named("tax.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		calculator: p.Calculator,
		resolver:   p.Resolver,
		builtins:   p.Builtins,
		metrics:    p.Metrics,
	}
}

func (s *Service) List(ctx context.Context, req taxdomain.ListRequest) ([]taxdomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, taxdomain.ErrInvalidOrganization
	}

	filter := taxdomain.ListRequest{
		Name:      strings.TrimSpace(req.Name),
		Code:      strings.TrimSpace(req.Code),
		IsEnabled: req.IsEnabled,
		SortBy:    strings.TrimSpace(req.SortBy),
		OrderBy:   strings.TrimSpace(req.OrderBy),
	}

	items, err := s.repo.List(ctx, orgID, filter)
	if err != nil {
		return nil, err
	}

	resp := make([]taxdomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i], false))
	}

	return resp, nil
}

func (s *Service) Create(ctx context.Context, req taxdomain.CreateRequest) (*taxdomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, taxdomain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, taxdomain.ErrInvalidName
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = slug.Make(name)
	}
	if code == "" {
		return nil, taxdomain.ErrInvalidTaxCode
	}

	mode := normalizeCombinationMode(req.CombinationMode)
	if mode == "" {
		mode = taxdomain.CombinationCombine
	}

	isEnabled := true
	if req.IsEnabled != nil {
		isEnabled = *req.IsEnabled
	}

	now := s.clock.Now()
	record := &taxdomain.TaxClass{
		ID:              s.genID.Generate(),
		OrgID:           orgID,
		Code:            code,
		Name:            name,
		CombinationMode: mode,
		Entries:         toClassEntries(req.Entries),
		Description:     normalizeDescription(req.Description),
		Metadata:        req.Metadata,
		IsEnabled:       isEnabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, taxdomain.ErrDuplicateCode
		}
		return nil, err
	}

	s.log.Info("tax class created",
		zap.String("org_id", orgID.String()),
		zap.String("tax_class_id", record.ID.String()),
		zap.String("code", record.Code),
	)
	s.metrics.RecordTaxClassChange(ctx, orgID.String(), "create")

	resp := toResponse(record, false)
	return &resp, nil
}

// Get returns the stored class with code, falling back to the built-in
// class of the same code.
func (s *Service) Get(ctx context.Context, code string) (*taxdomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, taxdomain.ErrInvalidOrganization
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, taxdomain.ErrInvalidTaxCode
	}

	item, err := s.repo.FindByCode(ctx, orgID, code)
	if err != nil {
		return nil, err
	}
	if item != nil {
		resp := toResponse(item, false)
		return &resp, nil
	}

	if builtin, ok := s.builtins.Lookup(code); ok {
		resp := toResponse(builtin, true)
		return &resp, nil
	}
	return nil, taxdomain.ErrNotFound
}

func (s *Service) Update(ctx context.Context, req taxdomain.UpdateRequest) (*taxdomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, taxdomain.ErrInvalidOrganization
	}

	classID, err := snowflake.ParseString(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, taxdomain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, orgID, classID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, taxdomain.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, taxdomain.ErrInvalidName
		}
		item.Name = name
	}
	if req.CombinationMode != nil {
		item.CombinationMode = normalizeCombinationMode(*req.CombinationMode)
	}
	if req.Entries != nil {
		item.Entries = toClassEntries(req.Entries)
	}
	if req.Description != nil {
		item.Description = normalizeDescription(req.Description)
	}

	item.UpdatedAt = s.clock.Now()
	if err := item.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, item); err != nil {
		return nil, err
	}

	s.log.Info("tax class updated",
		zap.String("org_id", orgID.String()),
		zap.String("tax_class_id", item.ID.String()),
	)
	s.metrics.RecordTaxClassChange(ctx, orgID.String(), "update")

	resp := toResponse(item, false)
	return &resp, nil
}

func (s *Service) Disable(ctx context.Context, id string) (*taxdomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, taxdomain.ErrInvalidOrganization
	}

	classID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, taxdomain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, orgID, classID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, taxdomain.ErrNotFound
	}

	item.IsEnabled = false
	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, item); err != nil {
		return nil, err
	}

	s.log.Info("tax class disabled",
		zap.String("org_id", orgID.String()),
		zap.String("tax_class_id", item.ID.String()),
	)
	s.metrics.RecordTaxClassChange(ctx, orgID.String(), "disable")

	resp := toResponse(item, false)
	return &resp, nil
}

// Calculate prices Amount with inline entries when present, otherwise with
// the rates of TaxClassCode.
func (s *Service) Calculate(ctx context.Context, req taxdomain.CalculateRequest) (*taxdomain.CalculationResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, taxdomain.ErrInvalidOrganization
	}
	if req.Amount.IsNegative() {
		return nil, taxdomain.ErrInvalidAmount
	}

	var (
		price *taxdomain.Price
		code  string
	)
	if len(req.Entries) > 0 {
		mode := normalizeCombinationMode(req.CombinationMode)
		if mode == "" {
			mode = taxdomain.CombinationCombine
		}
		price = &taxdomain.Price{CombinationMode: mode}
		for _, entry := range req.Entries {
			price.TaxEntries = append(price.TaxEntries, taxdomain.TaxEntry{
				Name:    strings.TrimSpace(entry.Name),
				Percent: entry.Percent,
			})
		}
	} else {
		class, err := s.resolver.Resolve(ctx, req.TaxClassCode)
		if err != nil {
			return nil, err
		}
		price = class.Price()
		code = class.Code
	}

	calcMode := taxdomain.CalculationMode(strings.ToLower(strings.TrimSpace(string(req.CalculationMode))))
	switch calcMode {
	case taxdomain.CalculationFromGross:
		price.GrossAmount = req.Amount
	default:
		price.NetAmount = req.Amount
	}
	if calcMode == "" {
		calcMode = taxdomain.CalculationFromNet
	}

	result, err := s.calculator.UpdateTaxes(ctx, price, calcMode)
	if err != nil {
		return nil, err
	}

	source := "inline"
	if code != "" {
		source = "tax_class"
	}
	s.metrics.RecordCalculateRequest(ctx, orgID.String(), source)

	entries := make([]taxdomain.EntryResponse, 0, len(result.TaxEntries))
	for _, entry := range result.TaxEntries {
		entries = append(entries, taxdomain.EntryResponse{
			Name:    entry.Name,
			Percent: entry.Percent,
			Amount:  entry.Amount,
		})
	}

	return &taxdomain.CalculationResponse{
		TaxClassCode:    code,
		CalculationMode: calcMode,
		CombinationMode: result.CombinationMode,
		NetAmount:       result.NetAmount,
		GrossAmount:     result.GrossAmount,
		TaxAmount:       result.TaxAmount(),
		Entries:         entries,
	}, nil
}

func toResponse(class *taxdomain.TaxClass, builtIn bool) taxdomain.Response {
	entries := make([]taxdomain.EntryResponse, 0, len(class.Entries))
	for _, entry := range class.Entries {
		entries = append(entries, taxdomain.EntryResponse{
			Name:    entry.Name,
			Percent: entry.Percent,
		})
	}

	resp := taxdomain.Response{
		Code:            class.Code,
		Name:            class.Name,
		CombinationMode: class.CombinationMode,
		Entries:         entries,
		Description:     class.Description,
		Metadata:        class.Metadata,
		IsEnabled:       class.IsEnabled,
		BuiltIn:         builtIn,
	}
	if builtIn {
		return resp
	}

	createdAt, updatedAt := class.CreatedAt, class.UpdatedAt
	resp.ID = class.ID.String()
	resp.OrganizationID = class.OrgID.String()
	resp.CreatedAt = &createdAt
	resp.UpdatedAt = &updatedAt
	return resp
}

func toClassEntries(entries []taxdomain.EntryRequest) []taxdomain.TaxClassEntry {
	out := make([]taxdomain.TaxClassEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, taxdomain.TaxClassEntry{
			Name:    strings.TrimSpace(entry.Name),
			Percent: entry.Percent,
		})
	}
	return out
}

func normalizeCombinationMode(value taxdomain.CombinationMode) taxdomain.CombinationMode {
	return taxdomain.CombinationMode(strings.ToLower(strings.TrimSpace(string(value))))
}

func normalizeDescription(value *string) *string {
	if value == nil {
		return nil
	}
	description := strings.TrimSpace(*value)
	if description == "" {
		return nil
	}
	return &description
}
