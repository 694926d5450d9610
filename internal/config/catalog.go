package config

import (
	"errors"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Category is a material category groups can be created for.
type Category struct {
	Code  string `mapstructure:"code" json:"code"`
	Label string `mapstructure:"label" json:"label"`
}

type Catalog struct {
	Categories []Category `mapstructure:"categories" json:"categories"`
}

func DefaultCatalog() Catalog {
	return Catalog{
		Categories: []Category{
			{Code: "cement", Label: "Cement & Concrete"},
			{Code: "steel", Label: "Steel & Rebar"},
			{Code: "bricks", Label: "Bricks & Blocks"},
			{Code: "timber", Label: "Timber & Wood"},
			{Code: "roofing", Label: "Roofing Materials"},
			{Code: "plumbing", Label: "Plumbing Supplies"},
			{Code: "electrical", Label: "Electrical Supplies"},
			{Code: "tiles", Label: "Tiles & Flooring"},
			{Code: "paint", Label: "Paint & Finishes"},
			{Code: "hardware", Label: "Hardware & Tools"},
		},
	}
}

// Has reports whether code names a configured category.
func (c Catalog) Has(code string) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, cat := range c.Categories {
		if cat.Code == code {
			return true
		}
	}
	return false
}

type CatalogHolder struct {
	current atomic.Value // holds Catalog
}

// NewStaticCatalogHolder returns a holder that never reloads.
func NewStaticCatalogHolder(catalog Catalog) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(normalizeCatalog(catalog))
	return holder
}

func NewCatalogHolder(cfg Config, log *zap.Logger) (*CatalogHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.CatalogPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("catalog")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/bulkbuy")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BULKBUY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("catalog file not found, using defaults")
		return NewStaticCatalogHolder(DefaultCatalog()), nil
	}

	var catalog Catalog
	if err := v.Unmarshal(&catalog); err != nil {
		return nil, err
	}
	if err := validateCatalog(catalog); err != nil {
		return nil, err
	}

	holder := NewStaticCatalogHolder(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Catalog
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("catalog reload failed", zap.Error(err))
			return
		}
		if err := validateCatalog(updated); err != nil {
			log.Warn("invalid catalog ignored", zap.Error(err))
			return
		}
		holder.current.Store(normalizeCatalog(updated))
		log.Info("catalog reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CatalogHolder) Get() Catalog {
	return h.current.Load().(Catalog)
}

func validateCatalog(c Catalog) error {
	if len(c.Categories) == 0 {
		return errors.New("catalog.categories cannot be empty")
	}
	for _, cat := range c.Categories {
		if strings.TrimSpace(cat.Code) == "" {
			return errors.New("catalog category code cannot be empty")
		}
	}
	return nil
}

func normalizeCatalog(c Catalog) Catalog {
	out := Catalog{Categories: make([]Category, 0, len(c.Categories))}
	for _, cat := range c.Categories {
		code := strings.ToLower(strings.TrimSpace(cat.Code))
		label := strings.TrimSpace(cat.Label)
		if label == "" {
			label = code
		}
		out.Categories = append(out.Categories, Category{Code: code, Label: label})
	}
	sort.SliceStable(out.Categories, func(i, j int) bool {
		return out.Categories[i].Code < out.Categories[j].Code
	})
	return out
}
