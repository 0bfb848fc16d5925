// Package config loads and validates the driverd process configuration.
//
// The process configuration covers the shared infrastructure (database,
// MQTT, InfluxDB, HTTP API, logging) and points at the driver definitions
// file. Per-instance driver configuration lives in package driver.
//
// Loading order:
//  1. Defaults
//  2. YAML file
//  3. DRIVERD_* environment variables
//
// Secrets (MQTT password, InfluxDB token) should come from the environment.
//
//	cfg, err := config.Load("configs/driverd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
