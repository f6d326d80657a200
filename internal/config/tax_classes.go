package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TaxClassConfig is the file representation of a built-in tax class.
type TaxClassConfig struct {
	Code            string          `mapstructure:"code"`
	Name            string          `mapstructure:"name"`
	CombinationMode string          `mapstructure:"combinationMode"`
	Entries         []TaxRateConfig `mapstructure:"entries"`
}

type TaxRateConfig struct {
	Name    string `mapstructure:"name"`
	Percent string `mapstructure:"percent"`
}

func DefaultTaxClasses() []taxdomain.TaxClass {
	return []taxdomain.TaxClass{
		{
			Code:            taxdomain.TaxClassCodeNoTax,
			Name:            "No tax",
			CombinationMode: taxdomain.CombinationCombine,
			IsEnabled:       true,
		},
		{
			Code:            taxdomain.TaxClassCodeEUVATStandard,
			Name:            "EU VAT standard",
			CombinationMode: taxdomain.CombinationCombine,
			Entries: []taxdomain.TaxClassEntry{
				{Name: "VAT", Percent: decimal.NewFromInt(20)},
			},
			IsEnabled: true,
		},
	}
}

// TaxClassConfigHolder serves built-in tax classes and swaps them atomically
// when taxclasses.yml changes on disk.
type TaxClassConfigHolder struct {
	current atomic.Value // holds map[string]taxdomain.TaxClass
}

func NewTaxClassConfigHolder(cfg Config, log *zap.Logger) (*TaxClassConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("taxclasses")
	v.SetConfigType("yml")
	if cfg.TaxClassesPath != "" {
		v.AddConfigPath(cfg.TaxClassesPath)
	}
	v.AddConfigPath("/etc/taxengine")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TAXENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return newTaxClassConfigHolder(v, log)
}

func newTaxClassConfigHolder(v *viper.Viper, log *zap.Logger) (*TaxClassConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.tax_classes")

	holder := &TaxClassConfigHolder{}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		holder.store(DefaultTaxClasses())
		log.Info("tax class config not found, using defaults")
		return holder, nil
	}

	classes, err := decodeTaxClasses(v)
	if err != nil {
		return nil, err
	}
	holder.store(classes)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeTaxClasses(v)
		if err != nil {
			log.Warn("invalid tax class config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.store(updated)
		log.Info("tax class config reloaded", zap.String("file", e.Name), zap.Int("classes", len(updated)))
	})

	return holder, nil
}

// Lookup returns a copy of the built-in class with code.
func (h *TaxClassConfigHolder) Lookup(code string) (*taxdomain.TaxClass, bool) {
	if h == nil {
		return nil, false
	}
	classes, _ := h.current.Load().(map[string]taxdomain.TaxClass)
	class, ok := classes[code]
	if !ok {
		return nil, false
	}
	class.Entries = append(class.Entries[:0:0], class.Entries...)
	return &class, true
}

// Codes lists the built-in class codes.
func (h *TaxClassConfigHolder) Codes() []string {
	if h == nil {
		return nil
	}
	classes, _ := h.current.Load().(map[string]taxdomain.TaxClass)
	codes := make([]string, 0, len(classes))
	for code := range classes {
		codes = append(codes, code)
	}
	return codes
}

func (h *TaxClassConfigHolder) store(classes []taxdomain.TaxClass) {
	byCode := make(map[string]taxdomain.TaxClass, len(classes))
	for _, class := range classes {
		byCode[class.Code] = class
	}
	h.current.Store(byCode)
}

func decodeTaxClasses(v *viper.Viper) ([]taxdomain.TaxClass, error) {
	var raw []TaxClassConfig
	if err := v.UnmarshalKey("taxClasses", &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("taxClasses cannot be empty")
	}

	classes := make([]taxdomain.TaxClass, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, item := range raw {
		class := taxdomain.TaxClass{
			Code:            strings.TrimSpace(item.Code),
			Name:            strings.TrimSpace(item.Name),
			CombinationMode: taxdomain.CombinationMode(strings.ToLower(strings.TrimSpace(item.CombinationMode))),
			IsEnabled:       true,
		}
		if class.CombinationMode == "" {
			class.CombinationMode = taxdomain.CombinationCombine
		}
		for _, entry := range item.Entries {
			percent, err := decimal.NewFromString(strings.TrimSpace(entry.Percent))
			if err != nil {
				return nil, fmt.Errorf("taxClasses[%d]: invalid percent %q: %w", i, entry.Percent, err)
			}
			class.Entries = append(class.Entries, taxdomain.TaxClassEntry{
				Name:    strings.TrimSpace(entry.Name),
				Percent: percent,
			})
		}
		if err := class.Validate(); err != nil {
			return nil, fmt.Errorf("taxClasses[%d]: %w", i, err)
		}
		if _, dup := seen[class.Code]; dup {
			return nil, fmt.Errorf("taxClasses[%d]: duplicate code %q", i, class.Code)
		}
		seen[class.Code] = struct{}{}
		classes = append(classes, class)
	}
	return classes, nil
}
