// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and SCRIPTBOX_-prefixed environment
// variables. It covers server transport settings, logging, script execution
// policy defaults, and observability endpoints.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server transport: %s\n", cfg.Server.Transport)
package config
