// Package config loads relay configuration. Default() is the baseline, Load
// reads a JSON or YAML file over it and FromEnv overlays RELAY_* variables.
//
//	cfg, err := config.Load("/etc/relay.yaml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
package config
