package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/jobboard/aicredits/internal/models"
)

// PolicyFile is the static credit policy read from credits.yml at start-up.
// Changing it requires a restart.
type PolicyFile struct {
	FeatureCosts   map[string]int64    `mapstructure:"feature_costs"`
	Packages       map[string]int64    `mapstructure:"packages"`
	SignupBonus    int64               `mapstructure:"signup_bonus"`
	GuestAllotment int64               `mapstructure:"guest_allotment"`
	ModelPrices    []models.ModelPrice `mapstructure:"model_prices"`
}

// DefaultPolicyFile returns the policy used when no credits.yml is found.
func DefaultPolicyFile() PolicyFile {
	return PolicyFile{
		FeatureCosts: map[string]int64{
			string(models.FeatureJobMatch):              5,
			string(models.FeatureResumeEnhance):         15,
			string(models.FeatureJobDescriptionEnhance): 10,
			string(models.FeatureFileParse):             2,
		},
		Packages: map[string]int64{
			"starter":  50,
			"pro":      200,
			"business": 500,
		},
		SignupBonus:    50,
		GuestAllotment: 50,
		ModelPrices:    models.DefaultModelPrices(),
	}
}

// LoadPolicyFile reads the credits policy. An explicit path must exist;
// with an empty path the standard locations are searched and defaults
// apply when nothing is found. Scalars can be overridden with
// AICREDITS_CREDITS_SIGNUP_BONUS and AICREDITS_CREDITS_GUEST_ALLOTMENT.
func LoadPolicyFile(path string) (PolicyFile, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("credits")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/aicredits")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AICREDITS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicyFile()
	v.SetDefault("credits.signup_bonus", defaults.SignupBonus)
	v.SetDefault("credits.guest_allotment", defaults.GuestAllotment)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return PolicyFile{}, fmt.Errorf("read credits config: %w", err)
		}
	}

	pf := defaults
	// A listed price table replaces the defaults instead of merging into them.
	pf.ModelPrices = nil
	if err := v.UnmarshalKey("credits", &pf); err != nil {
		return PolicyFile{}, fmt.Errorf("decode credits config: %w", err)
	}
	// Scalars are read through Get so env overrides apply.
	pf.SignupBonus = v.GetInt64("credits.signup_bonus")
	pf.GuestAllotment = v.GetInt64("credits.guest_allotment")

	if len(pf.ModelPrices) == 0 {
		pf.ModelPrices = defaults.ModelPrices
	}

	return pf, nil
}

// FeatureCostTable converts the file's cost map to typed credits.
func (pf PolicyFile) FeatureCostTable() map[models.Feature]models.Credits {
	out := make(map[models.Feature]models.Credits, len(pf.FeatureCosts))
	for k, v := range pf.FeatureCosts {
		out[models.Feature(k)] = models.Credits(v)
	}
	return out
}

// PackageTable converts the file's package map to typed credits.
func (pf PolicyFile) PackageTable() map[string]models.Credits {
	out := make(map[string]models.Credits, len(pf.Packages))
	for k, v := range pf.Packages {
		out[k] = models.Credits(v)
	}
	return out
}
