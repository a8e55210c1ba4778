package config

import "time"

// ConfigOption is one configuration key with its default and the comment
// written next to it by `config generate`.
type ConfigOption struct {
	Key     string
	Default any
	Comment string
}

// GetConfigOptions returns the default configuration options and their meanings.
// This is the single source of truth for default values and generator output.
func GetConfigOptions() []ConfigOption {
	return []ConfigOption{
		// Core paths and endpoints
		{Key: "runtime_dir", Default: "", Comment: "Directory for sockets and the daemon lock; empty means $XDG_RUNTIME_DIR/upbridge"},
		{Key: "http_addr", Default: "127.0.0.1:8417", Comment: "Status HTTP listen address for the daemon; empty disables it"},
		{Key: "subscriptions", Default: []string{}, Comment: "Topics the daemon listens on, as \"<uri>\" or \"<uri>=log|nats\""},

		{Key: "log.level", Default: "info", Comment: "Log level: debug, info, warn, error"},
		{Key: "log.format", Default: "auto", Comment: "Log format: auto, console, json"},

		{Key: "host.socket", Default: "", Comment: "Host service socket; empty means runtime_dir/host.sock"},
		{Key: "host.listener_socket", Default: "", Comment: "Socket the daemon serves deliveries on; empty means runtime_dir/listener.sock"},
		{Key: "host.quic_addr", Default: "", Comment: "Reach the host over QUIC at this address instead of the socket"},
		{Key: "host.quic_insecure", Default: false, Comment: "Skip QUIC certificate verification (development only)"},
		{Key: "host.version", Default: 2, Comment: "Interface version the loopback host reports (1 disables send)"},

		{Key: "client.package", Default: "upbridge", Comment: "Package name the bridge registers with the host"},
		{Key: "client.entity", Default: "upbridge", Comment: "Entity name the bridge registers with the host"},
		{Key: "client.entity_version", Default: 1, Comment: "Entity major version"},

		{Key: "registry.collision_policy", Default: "keep_first", Comment: "Handle collisions: keep_first or reject"},

		{Key: "dispatch.mode", Default: "pool", Comment: "Delivery mode: inline (host thread) or pool"},
		{Key: "dispatch.workers", Default: 4, Comment: "Delivery workers; deliveries for one handle stay ordered"},
		{Key: "dispatch.queue_size", Default: 256, Comment: "Queued deliveries per worker"},
		{Key: "dispatch.policy", Default: "drop_oldest", Comment: "Full queue policy: block, drop_oldest, drop_newest"},

		{Key: "bridge.rollback_on_failure", Default: true, Comment: "Remove a registration the host refused"},
		{Key: "bridge.call_timeout", Default: (5 * time.Second).String(), Comment: "Timeout for one host call made by the CLI or daemon"},

		{Key: "nats.url", Default: "", Comment: "NATS server for the nats sink; empty disables it"},
		{Key: "nats.subject_prefix", Default: "upbridge", Comment: "Subject prefix for forwarded messages"},

		{Key: "tls.cert_file", Default: "", Comment: "QUIC server certificate (PEM)"},
		{Key: "tls.key_file", Default: "", Comment: "QUIC server key (PEM)"},
		{Key: "tls.domain", Default: "", Comment: "Obtain a QUIC certificate for this domain via ACME"},
		{Key: "tls.email", Default: "", Comment: "ACME account email"},
	}
}
