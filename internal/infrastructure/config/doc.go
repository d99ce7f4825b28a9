// Package config handles loading and validating the clip bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CLIPBRIDGE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The bridge talks to two brokers, so MQTT settings appear twice: under
// hub (the automation hub, plus its topic prefixes) and under devices (the
// broker the appliances connect to).
//
// Security Considerations:
//   - Broker passwords and the InfluxDB token should be set via environment variables
//   - Config.String redacts credentials and is safe to log
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Hub.PonderPrefix)
package config
