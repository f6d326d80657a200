package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"gorm.io/gorm"
)

const (
	TaxResultOK           = "ok"
	TaxResultUnsupported  = "unsupported"
	TaxResultInvalidRate  = "invalid_rate"
	TaxResultUnknownError = "error"
)

const (
	StoreReasonUniqueViolation  = "unique_violation"
	StoreReasonDeadlineExceeded = "deadline_exceeded"
	StoreReasonDB               = "db"
	StoreReasonUnknown          = "unknown"
)

const labelUnknown = "unknown"

// TaxMetrics captures tax calculation and tax class store signals.
type TaxMetrics struct {
	calculations       *prometheus.CounterVec
	calculationEntries prometheus.Observer
	calculationLatency prometheus.Observer
	storeErrors        *prometheus.CounterVec
}

var (
	taxMetricsOnce sync.Once
	taxMetrics     *TaxMetrics
)

// Tax returns the singleton tax metrics registry.
func Tax() *TaxMetrics {
	return TaxWithConfig(Config{})
}

// TaxWithConfig returns the singleton tax metrics registry using config labels.
func TaxWithConfig(cfg Config) *TaxMetrics {
	taxMetricsOnce.Do(func() {
		taxMetrics = NewTaxMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return taxMetrics
}

// ResetTaxMetricsForTest resets the tax metrics singleton for tests.
func ResetTaxMetricsForTest() {
	taxMetricsOnce = sync.Once{}
	taxMetrics = nil
}

// NewTaxMetrics registers tax collectors on registerer.
func NewTaxMetrics(registerer prometheus.Registerer, cfg Config) *TaxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "taxengine"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	calculations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "taxengine_tax_calculations_total",
		Help:        "Tax calculations by mode and result.",
		ConstLabels: constLabels,
	}, []string{"calculation_mode", "combination_mode", "result"})
	calculationEntries := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "taxengine_tax_calculation_entries",
		Help:        "Number of tax entries per calculation.",
		Buckets:     []float64{0, 1, 2, 3, 5, 8, 13},
		ConstLabels: constLabels,
	})
	calculationLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "taxengine_tax_calculation_duration_seconds",
		Help:        "Tax calculation latency.",
		Buckets:     []float64{0.000005, 0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.001, 0.01},
		ConstLabels: constLabels,
	})
	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "taxengine_tax_class_store_errors_total",
		Help:        "Tax class store errors by operation and low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})

	registerer.MustRegister(
		calculations,
		calculationEntries,
		calculationLatency,
		storeErrors,
	)

	return &TaxMetrics{
		calculations:       calculations,
		calculationEntries: calculationEntries,
		calculationLatency: calculationLatency,
		storeErrors:        storeErrors,
	}
}

// Calculations exposes the calculation counter for assertions.
func (m *TaxMetrics) Calculations() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.calculations
}

// StoreErrors exposes the store error counter for assertions.
func (m *TaxMetrics) StoreErrors() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.storeErrors
}

// RecordCalculation counts one calculation. Unknown modes are folded into a
// single label value.
func (m *TaxMetrics) RecordCalculation(calculationMode, combinationMode string, entries int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.calculations.WithLabelValues(
		normalizeCalculationMode(calculationMode),
		normalizeCombinationMode(combinationMode),
		ClassifyCalculationResult(err),
	).Inc()
	m.calculationEntries.Observe(float64(entries))
	m.calculationLatency.Observe(duration.Seconds())
}

// IncStoreError counts a failed tax class store operation.
func (m *TaxMetrics) IncStoreError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.storeErrors.WithLabelValues(strings.TrimSpace(operation), ClassifyStoreReason(err)).Inc()
}

func ClassifyCalculationResult(err error) string {
	switch {
	case err == nil:
		return TaxResultOK
	case taxdomain.IsUnsupported(err):
		return TaxResultUnsupported
	case errors.Is(err, taxdomain.ErrInvalidTaxRate):
		return TaxResultInvalidRate
	default:
		return TaxResultUnknownError
	}
}

func ClassifyStoreReason(err error) string {
	if err == nil {
		return StoreReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StoreReasonDeadlineExceeded
	}
	if isUniqueViolation(err) {
		return StoreReasonUniqueViolation
	}
	if isDBError(err) {
		return StoreReasonDB
	}
	return StoreReasonUnknown
}

func normalizeCalculationMode(mode string) string {
	switch taxdomain.CalculationMode(mode) {
	case taxdomain.CalculationFromNet, taxdomain.CalculationFromGross:
		return mode
	default:
		return labelUnknown
	}
}

func normalizeCombinationMode(mode string) string {
	if taxdomain.CombinationMode(mode).Valid() {
		return mode
	}
	return labelUnknown
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return hasPGCode(err, "23505")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrNotImplemented) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
