// ABOUTME: Package config loads and validates dayline-server configuration
// ABOUTME: YAML files with ${ENV_VAR} expansion and duration string parsing
//
// Package config handles loading dayline-server configuration from YAML files.
//
// Configuration supports environment variable expansion using ${VAR_NAME}
// syntax, which is applied to the raw file contents before parsing. Duration
// fields (such as auth.window) are written as Go duration strings ("5m",
// "1h30m") and parsed after unmarshaling.
//
// Example configuration:
//
//	server:
//	  http_addr: ":8080"
//	  base_url: "https://dayline.example.com"
//	database:
//	  path: "/var/lib/dayline/dayline.db"
//	redis:
//	  enabled: false
//	  addr: "localhost:6379"
//	auth:
//	  window: "5m"
//	  admin_secret: "${DAYLINE_ADMIN_SECRET}"
//	blobs:
//	  dir: "/var/lib/dayline/blobs"
//	logging:
//	  level: "info"
//	  format: "json"
package config
