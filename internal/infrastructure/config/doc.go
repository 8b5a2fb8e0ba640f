// Package config handles loading and validating ColdWatch Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (COLDWATCH_*)
//   - Validation of required fields and threshold bands
//   - Hot reload of the file via fsnotify (see Watch)
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, device auth secret)
//     should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Service.Name)
package config
