package config

// RouterConfig configures model selection. Weights mirrors
// router.Weights; a zero-value Weights falls back to router.DefaultWeights
// at startup rather than here, so every field defaults to zero.
type RouterConfig struct {
	DefaultModel string `yaml:"default_model"`

	Weights struct {
		Complexity  float64 `yaml:"complexity"`
		Budget      float64 `yaml:"budget"`
		CostEff     float64 `yaml:"cost_eff"`
		Reliability float64 `yaml:"reliability"`
		Speed       float64 `yaml:"speed"`
		Multimodal  float64 `yaml:"multimodal"`
		Capability  float64 `yaml:"capability"`
	} `yaml:"weights"`
}

func applyRouterDefaults(cfg *RouterConfig) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-3-5-sonnet-20241022"
	}
}
