package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/spf13/viper"

	"github.com/mithrel/upbridge/pkg/api"
)

var (
	validLevels   = []string{"debug", "info", "warn", "warning", "error"}
	validFormats  = []string{"auto", "console", "json"}
	validModes    = []string{"inline", "pool"}
	validPolicies = []string{"block", "drop_oldest", "drop_newest"}
	validSinks    = []string{"log", "nats"}
)

// CheckConfigValidity reports every invalid setting at once.
func CheckConfigValidity(v *viper.Viper) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	oneOf := func(key string, allowed []string) {
		val := strings.ToLower(strings.TrimSpace(v.GetString(key)))
		for _, a := range allowed {
			if val == a {
				return
			}
		}
		add("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), val)
	}
	oneOf("log.level", validLevels)
	oneOf("log.format", validFormats)
	oneOf("dispatch.mode", validModes)
	oneOf("dispatch.policy", validPolicies)
	oneOf("registry.collision_policy", []string{"keep_first", "reject"})

	if v.GetInt("dispatch.workers") <= 0 {
		add("dispatch.workers must be greater than 0")
	}
	if v.GetInt("dispatch.queue_size") <= 0 {
		add("dispatch.queue_size must be greater than 0")
	}
	if hv := v.GetInt("host.version"); hv < 1 || hv > 2 {
		add("host.version must be 1 or 2")
	}
	if strings.TrimSpace(v.GetString("client.package")) == "" {
		add("client.package must not be empty")
	}
	if strings.TrimSpace(v.GetString("client.entity")) == "" {
		add("client.entity must not be empty")
	}
	if v.GetInt("client.entity_version") < 0 {
		add("client.entity_version must not be negative")
	}
	if v.GetDuration("bridge.call_timeout") <= 0 {
		add("bridge.call_timeout must be a positive duration")
	}
	for _, key := range []string{"http_addr", "host.quic_addr"} {
		if addr := v.GetString(key); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add("%s is not host:port: %v", key, err)
			}
		}
	}
	if (v.GetString("tls.cert_file") == "") != (v.GetString("tls.key_file") == "") {
		add("tls.cert_file and tls.key_file must be set together")
	}

	usesNATS := false
	for _, raw := range v.GetStringSlice("subscriptions") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		sub := ParseSubscription(raw)
		if _, err := api.ParseURI(sub.Topic); err != nil {
			add("subscription %q: %v", raw, err)
		}
		known := false
		for _, s := range validSinks {
			known = known || sub.Sink == s
		}
		if !known {
			add("subscription %q: unknown sink %q", raw, sub.Sink)
		}
		usesNATS = usesNATS || sub.Sink == "nats"
	}
	if usesNATS && v.GetString("nats.url") == "" {
		add("nats.url is required by nats subscriptions")
	}
	return errors.Join(errs...)
}
