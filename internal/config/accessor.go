package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Settings are addressed by dot paths built from their json names, e.g.
// "render.engine" or "telegram.tokens.0". A section path such as "render"
// addresses the whole section.

// GetByPath returns the setting at path.
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(reflect.ValueOf(cfg).Elem(), path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SetByPath parses value as the type of the setting at path and stores it.
// Lists take comma-separated values. Sections cannot be set as a whole.
func SetByPath(cfg *Config, path, value string) error {
	v, err := lookup(reflect.ValueOf(cfg).Elem(), path)
	if err != nil {
		return err
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: expected true or false, got %q", path, value)
		}
		v.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: expected a whole number, got %q", path, value)
		}
		v.SetInt(int64(n))
	case reflect.Slice:
		items := splitList(value)
		list := reflect.MakeSlice(v.Type(), len(items), len(items))
		for i, item := range items {
			list.Index(i).SetString(item)
		}
		v.Set(list)
	case reflect.Struct:
		return fmt.Errorf("%s is a section, set one of its keys: %s", path, strings.Join(keys(v.Type()), ", "))
	default:
		return fmt.Errorf("%s: unsupported setting type %s", path, v.Type())
	}
	return nil
}

func lookup(v reflect.Value, path string) (reflect.Value, error) {
	if path == "" {
		return reflect.Value{}, errors.New("empty path")
	}
	for _, key := range strings.Split(path, ".") {
		switch v.Kind() {
		case reflect.Struct:
			f, ok := field(v, key)
			if !ok {
				return reflect.Value{}, fmt.Errorf("unknown config key %q in %s, expected one of: %s",
					key, path, strings.Join(keys(v.Type()), ", "))
			}
			v = f
		case reflect.Slice:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= v.Len() {
				return reflect.Value{}, fmt.Errorf("invalid list index %q in %s", key, path)
			}
			v = v.Index(idx)
		default:
			return reflect.Value{}, fmt.Errorf("%s: %T has no key %q", path, v.Interface(), key)
		}
	}
	return v, nil
}

func field(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if jsonName(t.Field(i)) == key {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// keys lists the json names of a section's settings in declaration order.
func keys(t reflect.Type) []string {
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		out = append(out, jsonName(t.Field(i)))
	}
	return out
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

// ListPaths returns every setting with its current value, including those
// left out of the config file because they are unset.
func ListPaths(cfg *Config) map[string]any {
	out := make(map[string]any)
	collect("", reflect.ValueOf(cfg).Elem(), out)
	return out
}

func collect(prefix string, v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		path := jsonName(t.Field(i))
		if prefix != "" {
			path = prefix + "." + path
		}
		if f := v.Field(i); f.Kind() == reflect.Struct {
			collect(path, f, out)
		} else {
			out[path] = f.Interface()
		}
	}
}

// Sanitize returns a copy of the config with the adapter tokens masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	for i, tok := range copy.Telegram.Tokens {
		copy.Telegram.Tokens[i] = maskString(tok)
	}
	if copy.Discord.Token != "" {
		copy.Discord.Token = maskString(copy.Discord.Token)
	}
	if copy.Slack.BotToken != "" {
		copy.Slack.BotToken = maskString(copy.Slack.BotToken)
	}
	if copy.Slack.AppToken != "" {
		copy.Slack.AppToken = maskString(copy.Slack.AppToken)
	}

	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
