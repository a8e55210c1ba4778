package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// applyDefaults seeds Viper with defaults defined in GetConfigOptions.
// This centralizes default values and descriptions in one place.
func applyDefaults(v *viper.Viper) {
	for _, o := range GetConfigOptions() {
		v.SetDefault(o.Key, o.Default)
	}
}

// Load resolves configuration with precedence: defaults < file < env.
// The provided Viper instance is mutated with defaults, file contents, and env.
func Load(ctx context.Context, v *viper.Viper) error {
	// Configure Viper search paths. If SetConfigFile was provided upstream,
	// it takes precedence; these paths are harmless fallbacks.
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "upbridge"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "upbridge"))
		}
		v.AddConfigPath(".")
	}

	// Apply centralized defaults (lowest precedence)
	applyDefaults(v)

	// Read config file if present (overrides defaults)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	// Environment variables: UPBRIDGE_* (highest among these sources)
	v.SetEnvPrefix("upbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow comma-separated env override for subscriptions
	if s := strings.TrimSpace(os.Getenv("UPBRIDGE_SUBSCRIPTIONS")); s != "" {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		v.Set("subscriptions", out)
	}
	return nil
}

// DefaultConfigPath resolves the standard config.toml location.
func DefaultConfigPath() string {
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		home, _ := os.UserHomeDir()
		xdg = filepath.Join(home, ".config")
	}
	return filepath.Join(xdg, "upbridge", "config.toml")
}

// Config is the typed view of the settings the process wires itself from.
type Config struct {
	RuntimeDir    string
	HTTPAddr      string
	Subscriptions []Subscription

	LogLevel  string
	LogFormat string

	HostSocket     string
	ListenerSocket string
	QUICAddr       string
	QUICInsecure   bool
	HostVersion    int

	ClientPackage       string
	ClientEntity        string
	ClientEntityVersion int

	CollisionPolicy string

	DispatchMode      string
	DispatchWorkers   int
	DispatchQueueSize int
	DispatchPolicy    string

	RollbackOnFailure bool
	CallTimeout       time.Duration

	NATSURL           string
	NATSSubjectPrefix string

	TLSCertFile string
	TLSKeyFile  string
	TLSDomain   string
	TLSEmail    string
}

// Subscription is one configured topic and the sink its deliveries go to.
type Subscription struct {
	Topic string
	Sink  string
}

// ParseSubscription splits "<uri>=<sink>"; the sink defaults to "log".
func ParseSubscription(s string) Subscription {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "="); i > 0 {
		return Subscription{Topic: strings.TrimSpace(s[:i]), Sink: strings.TrimSpace(s[i+1:])}
	}
	return Subscription{Topic: s, Sink: "log"}
}

// FromViper reads a Config from a loaded Viper instance.
func FromViper(v *viper.Viper) Config {
	c := Config{
		RuntimeDir:          expandHome(v.GetString("runtime_dir")),
		HTTPAddr:            v.GetString("http_addr"),
		LogLevel:            v.GetString("log.level"),
		LogFormat:           v.GetString("log.format"),
		HostSocket:          expandHome(v.GetString("host.socket")),
		ListenerSocket:      expandHome(v.GetString("host.listener_socket")),
		QUICAddr:            v.GetString("host.quic_addr"),
		QUICInsecure:        v.GetBool("host.quic_insecure"),
		HostVersion:         v.GetInt("host.version"),
		ClientPackage:       v.GetString("client.package"),
		ClientEntity:        v.GetString("client.entity"),
		ClientEntityVersion: v.GetInt("client.entity_version"),
		CollisionPolicy:     v.GetString("registry.collision_policy"),
		DispatchMode:        v.GetString("dispatch.mode"),
		DispatchWorkers:     v.GetInt("dispatch.workers"),
		DispatchQueueSize:   v.GetInt("dispatch.queue_size"),
		DispatchPolicy:      v.GetString("dispatch.policy"),
		RollbackOnFailure:   v.GetBool("bridge.rollback_on_failure"),
		CallTimeout:         v.GetDuration("bridge.call_timeout"),
		NATSURL:             v.GetString("nats.url"),
		NATSSubjectPrefix:   v.GetString("nats.subject_prefix"),
		TLSCertFile:         expandHome(v.GetString("tls.cert_file")),
		TLSKeyFile:          expandHome(v.GetString("tls.key_file")),
		TLSDomain:           v.GetString("tls.domain"),
		TLSEmail:            v.GetString("tls.email"),
	}
	for _, s := range v.GetStringSlice("subscriptions") {
		if strings.TrimSpace(s) == "" {
			continue
		}
		c.Subscriptions = append(c.Subscriptions, ParseSubscription(s))
	}
	return c
}

// expandHome expands a leading ~ for convenience.
func expandHome(p string) string {
	if len(p) > 0 && p[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
