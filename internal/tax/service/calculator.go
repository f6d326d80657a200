package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	obslogger "github.com/smallbiznis/taxengine/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/taxengine/internal/observability/metrics"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// UpdateTaxes derives the missing amount of price and every tax entry amount.
// An empty mode means CalculationFromNet. The price is mutated in place and
// returned; it is left untouched when an error is returned.
// No rounding is applied.
func UpdateTaxes(price *taxdomain.Price, mode taxdomain.CalculationMode) (*taxdomain.Price, error) {
	switch mode {
	case taxdomain.CalculationFromNet, "":
		return calculateFromNet(price)
	case taxdomain.CalculationFromGross:
		return calculateFromGross(price)
	default:
		return nil, &taxdomain.UnsupportedError{
			Err:   taxdomain.ErrUnsupportedCalculationMode,
			Value: string(mode),
		}
	}
}

func calculateFromNet(price *taxdomain.Price) (*taxdomain.Price, error) {
	entries := price.TaxEntries
	net := price.NetAmount

	switch price.CombinationMode {
	case taxdomain.CombinationCombine:
		gross := net
		for i := range entries {
			amount := net.Mul(entries[i].Percent).Div(hundred)
			entries[i].Amount = amount
			gross = gross.Add(amount)
		}
		price.GrossAmount = gross

	case taxdomain.CombinationOneAfterAnother:
		gross := net
		for i := range entries {
			amount := gross.Mul(entries[i].Percent).Div(hundred)
			entries[i].Amount = amount
			gross = gross.Add(amount)
		}
		price.GrossAmount = gross

	default:
		return nil, unsupportedCombination(price.CombinationMode)
	}

	return price, nil
}

func calculateFromGross(price *taxdomain.Price) (*taxdomain.Price, error) {
	entries := price.TaxEntries
	gross := price.GrossAmount

	switch price.CombinationMode {
	case taxdomain.CombinationCombine:
		if len(entries) == 0 {
			price.NetAmount = gross
			return price, nil
		}

		divisor := hundred
		for _, entry := range entries {
			divisor = divisor.Add(entry.Percent)
		}
		if divisor.IsZero() {
			return nil, fmt.Errorf("combined percent of -100: %w", taxdomain.ErrInvalidTaxRate)
		}

		// Each amount only depends on gross, the reverse walk mirrors
		// the one_after_another branch.
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].Amount = gross.Mul(entries[i].Percent).Div(divisor)
		}
		price.NetAmount = gross.Mul(hundred).Div(divisor)

	case taxdomain.CombinationOneAfterAnother:
		for i, entry := range entries {
			if hundred.Add(entry.Percent).IsZero() {
				return nil, fmt.Errorf("entry %d percent of -100: %w", i, taxdomain.ErrInvalidTaxRate)
			}
		}

		current := gross
		for i := len(entries) - 1; i >= 0; i-- {
			percent := entries[i].Percent
			amount := current.Mul(percent).Div(hundred.Add(percent))
			entries[i].Amount = amount
			current = current.Sub(amount)
		}
		price.NetAmount = current

	default:
		return nil, unsupportedCombination(price.CombinationMode)
	}

	return price, nil
}

func unsupportedCombination(mode taxdomain.CombinationMode) error {
	return &taxdomain.UnsupportedError{
		Err:   taxdomain.ErrUnsupportedCombinationMode,
		Value: string(mode),
	}
}

type CalculatorParams struct {
	fx.In

	Log     *zap.Logger
	Metrics *obsmetrics.TaxMetrics `optional:"true"`
}

// Calculator runs UpdateTaxes with tracing, metrics and logging.
type Calculator struct {
	log     *zap.Logger
	metrics *obsmetrics.TaxMetrics
	tracer  trace.Tracer
}

func NewCalculator(p CalculatorParams) *Calculator {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Calculator{
		log:     log.Named("tax.calculator"),
		metrics: p.Metrics,
		tracer:  otel.Tracer("taxengine/tax"),
	}
}

func (c *Calculator) UpdateTaxes(ctx context.Context, price *taxdomain.Price, mode taxdomain.CalculationMode) (*taxdomain.Price, error) {
	if mode == "" {
		mode = taxdomain.CalculationFromNet
	}

	ctx, span := c.tracer.Start(ctx, "tax.UpdateTaxes", trace.WithAttributes(
		attribute.String("tax.calculation_mode", string(mode)),
		attribute.String("tax.combination_mode", string(price.CombinationMode)),
		attribute.Int("tax.entries", len(price.TaxEntries)),
	))
	defer span.End()

	start := time.Now()
	result, err := UpdateTaxes(price, mode)
	c.metrics.RecordCalculation(string(mode), string(price.CombinationMode), len(price.TaxEntries), time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tax calculation failed")
		obslogger.WithContext(ctx, c.log).Warn("tax calculation rejected",
			zap.String("calculation_mode", string(mode)),
			zap.String("combination_mode", string(price.CombinationMode)),
			zap.Error(err),
		)
		return nil, err
	}

	c.log.Debug("tax calculation done",
		zap.String("calculation_mode", string(mode)),
		zap.String("net_amount", result.NetAmount.String()),
		zap.String("gross_amount", result.GrossAmount.String()),
	)
	return result, nil
}
