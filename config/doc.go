// Package config provides configuration loading and validation for partflow.
//
// The package handles YAML configuration files, environment variables, and CLI flags
// with automatic merging and validation using go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (PARTFLOW_ prefix)
//  4. CLI flags
//
// # Usage
//
//	cfg, err := config.Load([]string{"config.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store in context for subcommands
//	ctx = config.WithContext(ctx, cfg)
//
//	// Retrieve later
//	cfg, err = config.FromContext(ctx)
//
// # Environment Variables
//
// All config keys map to environment variables with PARTFLOW_ prefix:
//   - server.port → PARTFLOW_SERVER_PORT
//   - database.type → PARTFLOW_DATABASE_TYPE
//   - storage.type → PARTFLOW_STORAGE_TYPE
//
// # Configuration Structure
//
// The Config struct contains:
//   - Server: HTTP port
//   - Service: part size limit, signed URL expiry cap, sweep and cleanup timing
//   - Database: type (sqlite/postgres), DSN, and table names
//   - Storage: backend type (filesystem/s3) and per-backend settings
//   - Auth: access mode, signing region/service, and access keys
//   - CORS: cross-origin resource sharing settings
//   - Log: logging level
//
// # Validation
//
// Configuration is validated using struct tags:
//   - Port must be 1-65535
//   - Storage type must be filesystem or s3
//   - Auth mode must be public or private
//   - Log level must be debug, info, warn, or error
package config
