package config

func loadProductionConfig(cfg *Config) {
	cfg.DatabaseFilePath = "/data/circulate.sqlite"
	cfg.ServerHost = "0.0.0.0"
}
