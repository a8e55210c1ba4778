package config

import (
	"fmt"
	"strconv"
	"strings"
)

// RenderDefaultTOML renders a TOML config with defaults from GetConfigOptions.
func RenderDefaultTOML() string {
	var lines []string
	lines = append(lines, "# upbridge configuration (TOML)", "")
	top, sections, order := splitSections(GetConfigOptions())
	for _, o := range top {
		appendOption(&lines, o)
	}
	for _, section := range order {
		lines = append(lines, "["+section+"]")
		for _, o := range sections[section] {
			appendOption(&lines, o)
		}
	}
	return strings.Join(lines, "\n")
}

// UpdateTOML merges defaults into an existing TOML string and comments out
// unknown keys. Missing top-level keys are inserted before the first section
// so they do not land inside one.
func UpdateTOML(existing string) (string, bool) {
	opts := GetConfigOptions()
	known := make(map[string]bool, len(opts))
	for _, o := range opts {
		known[o.Key] = true
	}

	seen := make(map[string]bool)
	section := ""
	firstSection := -1
	changed := false
	out := make([]string, 0)
	for _, line := range strings.Split(existing, "\n") {
		trim := strings.TrimSpace(line)
		switch {
		case trim == "" || strings.HasPrefix(trim, "#"):
		case strings.HasPrefix(trim, "[") && strings.HasSuffix(trim, "]"):
			section = strings.TrimSpace(trim[1 : len(trim)-1])
			if firstSection < 0 {
				firstSection = len(out)
			}
		default:
			key, ok := parseTOMLKey(line)
			if !ok {
				break
			}
			full := key
			if section != "" {
				full = section + "." + key
			}
			seen[full] = true
			if !known[full] {
				indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
				out = append(out, indent+"# OUTDATED: option removed from config schema", indent+"# "+strings.TrimLeft(line, " \t"))
				changed = true
				continue
			}
		}
		out = append(out, line)
	}

	var missing []ConfigOption
	for _, o := range opts {
		if !seen[o.Key] {
			missing = append(missing, o)
		}
	}
	if len(missing) == 0 {
		return strings.Join(out, "\n"), changed
	}

	top, sections, order := splitSections(missing)
	if len(top) > 0 {
		var ins []string
		for _, o := range top {
			appendOption(&ins, o)
		}
		if firstSection < 0 {
			out = append(out, ins...)
		} else {
			out = append(out[:firstSection], append(ins, out[firstSection:]...)...)
		}
	}
	if len(order) > 0 {
		out = append(out, "", "# Added by config update")
		for _, s := range order {
			out = append(out, "["+s+"]")
			for _, o := range sections[s] {
				appendOption(&out, o)
			}
		}
	}
	return strings.Join(out, "\n"), true
}

// splitSections groups dotted keys by their first segment, keeping order.
func splitSections(opts []ConfigOption) (top []ConfigOption, sections map[string][]ConfigOption, order []string) {
	sections = make(map[string][]ConfigOption)
	for _, o := range opts {
		name, rest, ok := strings.Cut(o.Key, ".")
		if !ok {
			top = append(top, o)
			continue
		}
		if _, exists := sections[name]; !exists {
			order = append(order, name)
		}
		sections[name] = append(sections[name], ConfigOption{Key: rest, Default: o.Default, Comment: o.Comment})
	}
	return top, sections, order
}

func parseTOMLKey(line string) (string, bool) {
	idx := strings.Index(line, "=")
	if idx == -1 {
		return "", false
	}
	key := strings.TrimSpace(line[:idx])
	if key == "" || strings.HasPrefix(key, "[") || strings.HasPrefix(key, "\"") || strings.HasPrefix(key, "'") {
		return "", false
	}
	return key, true
}

func appendOption(lines *[]string, o ConfigOption) {
	if o.Comment != "" {
		*lines = append(*lines, "# "+o.Comment)
	}
	*lines = append(*lines, o.Key+" = "+tomlValue(o.Default), "")
}

func tomlValue(value any) string {
	switch v := value.(type) {
	case string:
		return strconv.Quote(v)
	case bool, int, int64, float64:
		return fmt.Sprint(v)
	case []string:
		q := make([]string, len(v))
		for i, s := range v {
			q[i] = strconv.Quote(s)
		}
		return "[" + strings.Join(q, ", ") + "]"
	}
	return strconv.Quote(fmt.Sprint(value))
}
