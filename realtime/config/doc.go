// Package config loads settings for the client store and the development
// relay server.
//
// Settings are layered, later layers winning:
//   - built-in defaults (Default)
//   - an optional YAML file (Load)
//   - a .env file in the working directory (LoadDotEnv)
//   - process environment variables (ApplyEnv)
//   - command line flags, applied by the caller
//
// Environment variables:
//
//	WS_URL              base URL of the relay, e.g. ws://localhost:8000/ws
//	NEXT_PUBLIC_WS_URL  alias of WS_URL
//	HOST, PORT          listen address of the relay server
//	NATS_URL            NATS server for cross-instance delivery (empty: in-process)
//	RELAY_CHANNEL       bus channel / NATS subject
//	ECHO_PREFIX         prefix the relay adds to echoed text
//	STRICT_SESSION_IDS  require session ids to be UUIDs
//
// Usage:
//
//	_ = config.LoadDotEnv()
//	cfg, err := config.Load("sessionsocket.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg.ApplyEnv(os.LookupEnv)
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config
