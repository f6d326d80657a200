package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/taxengine/internal/clock"
	"github.com/smallbiznis/taxengine/internal/config"
	"github.com/smallbiznis/taxengine/internal/orgcontext"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"github.com/smallbiznis/taxengine/internal/tax/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testOrgID int64 = 2001

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

var testClock = clock.NewFakeClock(testNow)

func setupService(t *testing.T) taxdomain.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&taxdomain.TaxClass{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	builtins, err := config.NewTaxClassConfigHolder(config.Config{TaxClassesPath: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	repo := repository.NewRepository(repository.Params{DB: db})
	return NewService(serviceParams{
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      testClock,
		Repo:       repo,
		Calculator: NewCalculator(CalculatorParams{Log: zap.NewNop()}),
		Resolver:   NewResolver(resolverParam{Repository: repo, Builtins: builtins}),
		Builtins:   builtins,
	})
}

func orgCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), testOrgID)
}

func num(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestServiceRequiresOrganization(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, taxdomain.CreateRequest{Name: "VAT"})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidOrganization)
	_, err = svc.List(ctx, taxdomain.ListRequest{})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidOrganization)
	_, err = svc.Get(ctx, "X")
	assert.ErrorIs(t, err, taxdomain.ErrInvalidOrganization)
	_, err = svc.Calculate(ctx, taxdomain.CalculateRequest{TaxClassCode: taxdomain.TaxClassCodeNoTax})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidOrganization)
}

func TestServiceCreate(t *testing.T) {
	svc := setupService(t)
	ctx := orgCtx()

	resp, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:            "Quebec Sales Tax",
		CombinationMode: " ONE_AFTER_ANOTHER ",
		Entries: []taxdomain.EntryRequest{
			{Name: "GST", Percent: num("5")},
			{Name: "QST", Percent: num("9.975")},
		},
		Description: ptr("  "),
	})
	require.NoError(t, err)
	assert.Equal(t, "quebec-sales-tax", resp.Code)
	assert.Equal(t, taxdomain.CombinationOneAfterAnother, resp.CombinationMode)
	assert.True(t, resp.IsEnabled)
	assert.False(t, resp.BuiltIn)
	assert.Nil(t, resp.Description)
	assert.NotEmpty(t, resp.ID)
	require.NotNil(t, resp.CreatedAt)
	assert.True(t, resp.CreatedAt.Equal(testNow))
	require.Len(t, resp.Entries, 2)

	_, err = svc.Create(ctx, taxdomain.CreateRequest{Code: "quebec-sales-tax", Name: "Again"})
	assert.ErrorIs(t, err, taxdomain.ErrDuplicateCode)
}

func TestServiceCreateValidation(t *testing.T) {
	svc := setupService(t)
	ctx := orgCtx()

	cases := []struct {
		name string
		req  taxdomain.CreateRequest
		want error
	}{
		{"missing name", taxdomain.CreateRequest{Code: "X"}, taxdomain.ErrInvalidName},
		{"unsluggable name", taxdomain.CreateRequest{Name: "!!!"}, taxdomain.ErrInvalidTaxCode},
		{"bad mode", taxdomain.CreateRequest{Name: "X", CombinationMode: "stacked"}, taxdomain.ErrInvalidCombinationMode},
		{"negative rate", taxdomain.CreateRequest{Name: "X", Entries: []taxdomain.EntryRequest{{Percent: num("-1")}}}, taxdomain.ErrInvalidTaxRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestServiceGetFallsBackToBuiltin(t *testing.T) {
	svc := setupService(t)
	ctx := orgCtx()

	builtin, err := svc.Get(ctx, taxdomain.TaxClassCodeEUVATStandard)
	require.NoError(t, err)
	assert.True(t, builtin.BuiltIn)
	assert.Empty(t, builtin.ID)
	require.Len(t, builtin.Entries, 1)
	assert.True(t, builtin.Entries[0].Percent.Equal(num("20")))

	_, err = svc.Create(ctx, taxdomain.CreateRequest{
		Code:    taxdomain.TaxClassCodeEUVATStandard,
		Name:    "Shadowed",
		Entries: []taxdomain.EntryRequest{{Name: "VAT", Percent: num("21")}},
	})
	require.NoError(t, err)

	stored, err := svc.Get(ctx, taxdomain.TaxClassCodeEUVATStandard)
	require.NoError(t, err)
	assert.False(t, stored.BuiltIn)
	assert.Equal(t, "Shadowed", stored.Name)

	_, err = svc.Get(ctx, "MISSING")
	assert.ErrorIs(t, err, taxdomain.ErrNotFound)
}

func TestServiceUpdateAndDisable(t *testing.T) {
	svc := setupService(t)
	ctx := orgCtx()

	created, err := svc.Create(ctx, taxdomain.CreateRequest{Code: "DE", Name: "Germany", Entries: []taxdomain.EntryRequest{{Name: "MwSt", Percent: num("19")}}})
	require.NoError(t, err)

	mode := taxdomain.CombinationOneAfterAnother
	updated, err := svc.Update(ctx, taxdomain.UpdateRequest{
		ID:              created.ID,
		Name:            ptr("Deutschland"),
		CombinationMode: &mode,
		Entries:         []taxdomain.EntryRequest{{Name: "MwSt", Percent: num("7")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Deutschland", updated.Name)
	assert.Equal(t, "DE", updated.Code)
	assert.Equal(t, mode, updated.CombinationMode)
	assert.True(t, updated.Entries[0].Percent.Equal(num("7")))

	_, err = svc.Update(ctx, taxdomain.UpdateRequest{ID: created.ID, Name: ptr(" ")})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidName)
	_, err = svc.Update(ctx, taxdomain.UpdateRequest{ID: "abc"})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidID)
	_, err = svc.Update(ctx, taxdomain.UpdateRequest{ID: "12345"})
	assert.ErrorIs(t, err, taxdomain.ErrNotFound)

	disabled, err := svc.Disable(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, disabled.IsEnabled)

	_, err = svc.Calculate(ctx, taxdomain.CalculateRequest{TaxClassCode: "DE", Amount: num("100")})
	assert.ErrorIs(t, err, taxdomain.ErrTaxClassDisabled)

	enabled := false
	items, err := svc.List(ctx, taxdomain.ListRequest{IsEnabled: &enabled})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "DE", items[0].Code)
}

func TestServiceCalculateWithTaxClass(t *testing.T) {
	svc := setupService(t)
	ctx := orgCtx()

	_, err := svc.Create(ctx, taxdomain.CreateRequest{
		Code:            "CHAIN",
		Name:            "Chained",
		CombinationMode: taxdomain.CombinationOneAfterAnother,
		Entries: []taxdomain.EntryRequest{
			{Name: "A", Percent: num("10")},
			{Name: "B", Percent: num("20")},
		},
	})
	require.NoError(t, err)

	fromNet, err := svc.Calculate(ctx, taxdomain.CalculateRequest{TaxClassCode: "CHAIN", Amount: num("100")})
	require.NoError(t, err)
	assert.Equal(t, "CHAIN", fromNet.TaxClassCode)
	assert.Equal(t, taxdomain.CalculationFromNet, fromNet.CalculationMode)
	assert.True(t, fromNet.GrossAmount.Equal(num("132")), fromNet.GrossAmount.String())
	assert.True(t, fromNet.TaxAmount.Equal(num("32")))
	assert.True(t, fromNet.Entries[0].Amount.Equal(num("10")))
	assert.True(t, fromNet.Entries[1].Amount.Equal(num("22")))

	fromGross, err := svc.Calculate(ctx, taxdomain.CalculateRequest{
		TaxClassCode:    "CHAIN",
		CalculationMode: "GROSS",
		Amount:          num("132"),
	})
	require.NoError(t, err)
	assert.Equal(t, taxdomain.CalculationFromGross, fromGross.CalculationMode)
	assert.True(t, fromGross.NetAmount.Equal(num("100")), fromGross.NetAmount.String())
	assert.True(t, fromGross.GrossAmount.Equal(num("132")))
}

func TestServiceCalculateInlineEntries(t *testing.T) {
	svc := setupService(t)
	ctx := orgCtx()

	resp, err := svc.Calculate(ctx, taxdomain.CalculateRequest{
		TaxClassCode: "IGNORED",
		Entries: []taxdomain.EntryRequest{
			{Name: "A", Percent: num("10")},
			{Name: "B", Percent: num("20")},
		},
		Amount: num("100"),
	})
	require.NoError(t, err)
	assert.Empty(t, resp.TaxClassCode)
	assert.Equal(t, taxdomain.CombinationCombine, resp.CombinationMode)
	assert.True(t, resp.GrossAmount.Equal(num("130")))

	_, err = svc.Calculate(ctx, taxdomain.CalculateRequest{
		Entries:         []taxdomain.EntryRequest{{Percent: num("10")}},
		CombinationMode: "stacked",
		Amount:          num("100"),
	})
	assert.True(t, taxdomain.IsUnsupported(err))

	_, err = svc.Calculate(ctx, taxdomain.CalculateRequest{
		Entries:         []taxdomain.EntryRequest{{Percent: num("10")}},
		CalculationMode: "invalid",
		Amount:          num("100"),
	})
	assert.ErrorIs(t, err, taxdomain.ErrUnsupportedCalculationMode)
}

func TestServiceCalculateBuiltinAndErrors(t *testing.T) {
	svc := setupService(t)
	ctx := orgCtx()

	resp, err := svc.Calculate(ctx, taxdomain.CalculateRequest{TaxClassCode: taxdomain.TaxClassCodeNoTax, Amount: num("42.5")})
	require.NoError(t, err)
	assert.True(t, resp.GrossAmount.Equal(num("42.5")))
	assert.True(t, resp.TaxAmount.IsZero())
	assert.Empty(t, resp.Entries)

	_, err = svc.Calculate(ctx, taxdomain.CalculateRequest{TaxClassCode: "MISSING", Amount: num("1")})
	assert.ErrorIs(t, err, taxdomain.ErrNotFound)

	_, err = svc.Calculate(ctx, taxdomain.CalculateRequest{Amount: num("1")})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidTaxCode)

	_, err = svc.Calculate(ctx, taxdomain.CalculateRequest{TaxClassCode: taxdomain.TaxClassCodeNoTax, Amount: num("-1")})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidAmount)
}

func ptr[T any](value T) *T {
	return &value
}
