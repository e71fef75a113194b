// Package config handles configuration loading for ledgerbot.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. The file extension picks the decoder: ".toml" uses TOML, anything
// else is read as YAML. Missing values fall back to the Default* constants.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from LEDGERBOT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/ledgerbot/gateway.yaml
//  3. ~/.config/ledgerbot/gateway.yaml
//
// A .env file in the working directory is loaded into the environment by the
// command before the config is read, so secrets can live there.
//
// # Environment Variable Expansion
//
//	messenger:
//	  page_access_token: "${PAGE_ACCESS_TOKEN}"
//	  verify_token: "${VERIFY_TOKEN}"
//
// The PORT environment variable, when set, replaces the port of server.http_addr.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:1337"
//
//	messenger:
//	  page_access_token: "${PAGE_ACCESS_TOKEN}"
//	  verify_token: "${VERIFY_TOKEN}"
//	  app_secret: "${APP_SECRET}"   # optional, verifies X-Hub-Signature-256
//	  graph_api_url: "https://graph.facebook.com/v2.6"
//	  send_timeout: "10s"
//	  send_rate: 20     # Send API calls per second
//	  send_burst: 20
//
//	ledger:
//	  url: "https://ocap.arcblock.io/api/btc"
//	  timeout: "15s"
//
//	stream:
//	  enabled: true
//	  url: "wss://ws.blockchain.info/inv"
//	  subscribe_message: '{"op":"blocks_sub"}'
//	  hash_path: "x.hash"
//	  height_path: "x.height"
//	  reconnect_delay: "5s"
//
//	notify:
//	  concurrency: 8
//
//	dedupe:
//	  ttl: "5m"
//	  max_size: 100000
//
//	frontends:
//	  matrix:
//	    enabled: false
//	    homeserver: "https://matrix.org"
//	    user_id: "@ledgerbot:matrix.org"
//	    access_token: "${MATRIX_TOKEN}"
//	    allowed_rooms: []
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
