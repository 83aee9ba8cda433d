// Package config loads seeder settings from defaults, an optional file, .env, SEEDER_* variables and flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/finance-seeder/internal/calendar"
	"github.com/dvloznov/finance-seeder/internal/domain"
	"github.com/dvloznov/finance-seeder/internal/ledger"
	"github.com/dvloznov/finance-seeder/internal/merchants"
	"github.com/dvloznov/finance-seeder/internal/sampler"
	"github.com/dvloznov/finance-seeder/internal/simulation"
	"github.com/dvloznov/finance-seeder/internal/upstream"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment variables the seeder reads.
const EnvPrefix = "SEEDER"

// DryRunCustomerID stands in for the customer of a dry run that names none.
const DryRunCustomerID = "dry-run-customer"

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the seeder.
type Config struct {
	APIKey          string `mapstructure:"api_key" validate:"required_unless=DryRun true"`
	BaseURL         string `mapstructure:"base_url" validate:"required,url"`
	CustomerID      string `mapstructure:"customer_id"`
	AccountID       string `mapstructure:"account_id"`
	AccountFallback bool   `mapstructure:"account_fallback"`

	YearStart  int `mapstructure:"year_start" validate:"gte=1"`
	YearEnd    int `mapstructure:"year_end" validate:"gtefield=YearStart"`
	MonthStart int `mapstructure:"month_start" validate:"min=1,max=12"`
	MonthEnd   int `mapstructure:"month_end" validate:"min=1,max=12,gtefield=MonthStart"`
	BurstMin   int `mapstructure:"burst_min" validate:"gte=0"`
	BurstMax   int `mapstructure:"burst_max" validate:"gtefield=BurstMin"`

	MerchantPoolSize int    `mapstructure:"merchant_pool_size" validate:"gte=1"`
	MerchantPrefix   string `mapstructure:"merchant_prefix" validate:"required"`

	PInvestment float64 `mapstructure:"p_investment" validate:"gte=0,lte=1"`
	PLoan       float64 `mapstructure:"p_loan" validate:"gte=0,lte=1"`

	Seed            uint64 `mapstructure:"seed"`
	TransferAmounts bool   `mapstructure:"transfer_amounts"`

	HTTPTimeout time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	DryRun      bool          `mapstructure:"dry_run"`
	LogLevel    string        `mapstructure:"log_level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	MetricsAddr string        `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	Export   ExportConfig             `mapstructure:"export"`
	Profiles map[string]ProfileConfig `mapstructure:"profiles"`
}

// ExportConfig selects where the run ledger is written. Empty fields disable a sink.
type ExportConfig struct {
	GCSURI          string `mapstructure:"gcs_uri" validate:"omitempty,startswith=gs://"`
	BigQueryTable   string `mapstructure:"bigquery_table"`
	CredentialsFile string `mapstructure:"credentials_file" validate:"omitempty,file"`
}

// ProfileConfig overrides one event kind's amount range and vocabulary. Unset fields keep the built-in value.
type ProfileConfig struct {
	Min          *float64 `mapstructure:"min"`
	Max          *float64 `mapstructure:"max"`
	Descriptions []string `mapstructure:"descriptions"`
}

// Options tells Load where to look besides the environment.
type Options struct {
	// ConfigFile is an optional YAML, JSON or TOML file.
	ConfigFile string

	// EnvFile is loaded into the process environment first; a missing file is ignored.
	EnvFile string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SetDefaults registers every key with its default so that env overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	def := simulation.DefaultConfig()

	v.SetDefault("api_key", "")
	v.SetDefault("base_url", upstream.DefaultBaseURL)
	v.SetDefault("customer_id", "")
	v.SetDefault("account_id", "")
	v.SetDefault("account_fallback", false)
	v.SetDefault("year_start", def.Years.Start)
	v.SetDefault("year_end", def.Years.End)
	v.SetDefault("month_start", def.Months.Start)
	v.SetDefault("month_end", def.Months.End)
	v.SetDefault("burst_min", def.Bursts.Start)
	v.SetDefault("burst_max", def.Bursts.End)
	v.SetDefault("merchant_pool_size", def.MerchantPoolSize)
	v.SetDefault("merchant_prefix", merchants.DefaultPrefix)
	v.SetDefault("p_investment", def.PInvestment)
	v.SetDefault("p_loan", def.PLoan)
	v.SetDefault("seed", 0)
	v.SetDefault("transfer_amounts", false)
	v.SetDefault("http_timeout", upstream.DefaultTimeout)
	v.SetDefault("dry_run", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("export.gcs_uri", "")
	v.SetDefault("export.bigquery_table", "")
	v.SetDefault("export.credentials_file", "")
}

// Load reads the configuration into v and validates it. Flags must already be bound to v.
func Load(v *viper.Viper, opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: load %s: %v", ErrInvalid, opts.EnvFile, err)
		}
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if err := validate.Struct(c); err != nil {
		var valErrs validator.ValidationErrors
		if errors.As(err, &valErrs) {
			for _, valErr := range valErrs {
				errs = multierror.Append(errs, fmt.Errorf("%s: failed %s", fieldName(valErr), strings.TrimSpace(valErr.Tag()+" "+valErr.Param())))
			}
		} else {
			errs = multierror.Append(errs, err)
		}
	}

	if !c.DryRun && c.CustomerID == "" && c.AccountID == "" {
		errs = multierror.Append(errs, errors.New("customer_id: required unless account_id is set"))
	}

	if c.Export.BigQueryTable != "" {
		if _, err := ledger.ParseTableRef(c.Export.BigQueryTable); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("export.bigquery_table: %w", err))
		}
	}

	profiles, err := c.SamplerProfiles()
	if err != nil {
		errs = multierror.Append(errs, err)
	} else if err := profiles.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

// SamplerProfiles applies the configured overrides to the built-in profiles.
func (c *Config) SamplerProfiles() (sampler.Profiles, error) {
	profiles := sampler.DefaultProfiles()
	if c.TransferAmounts {
		profiles = profiles.WithTransferAmounts()
	}

	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs *multierror.Error
	for _, name := range names {
		kind, err := domain.ParseKind(name)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("profiles.%s: %w", name, err))
			continue
		}

		override := c.Profiles[name]
		p := profiles[kind]
		if override.Min != nil {
			p.Min = decimal.NewFromFloat(*override.Min)
		}
		if override.Max != nil {
			p.Max = decimal.NewFromFloat(*override.Max)
		}
		if override.Descriptions != nil {
			p.Descriptions = append([]string(nil), override.Descriptions...)
		}
		profiles[kind] = p
	}

	return profiles, errs.ErrorOrNil()
}

// Simulation builds the driver configuration.
func (c *Config) Simulation() (simulation.Config, error) {
	profiles, err := c.SamplerProfiles()
	if err != nil {
		return simulation.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	customerID := c.CustomerID
	if c.DryRun && customerID == "" && c.AccountID == "" {
		customerID = DryRunCustomerID
	}

	return simulation.Config{
		CustomerID:       customerID,
		AccountID:        c.AccountID,
		Years:            calendar.Range{Start: c.YearStart, End: c.YearEnd},
		Months:           calendar.Range{Start: c.MonthStart, End: c.MonthEnd},
		Bursts:           calendar.Range{Start: c.BurstMin, End: c.BurstMax},
		MerchantPoolSize: c.MerchantPoolSize,
		MerchantPrefix:   c.MerchantPrefix,
		PInvestment:      c.PInvestment,
		PLoan:            c.PLoan,
		Seed:             c.Seed,
		TransferAmounts:  c.TransferAmounts,
		Profiles:         profiles,
	}, nil
}

// Nessie returns the upstream client options. The key is passed through untouched.
func (c *Config) Nessie() upstream.NessieOptions {
	return upstream.NessieOptions{
		BaseURL:         c.BaseURL,
		APIKey:          c.APIKey,
		Timeout:         c.HTTPTimeout,
		AccountFallback: c.AccountFallback,
	}
}
