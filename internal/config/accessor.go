package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Paths address Config fields by their json names joined with dots, e.g.
// "dispatch.matchMode" or "transports.telegram.token". Fields tagged
// secret:"true" are masked by Sanitize.

// Setting is one leaf of the config tree.
type Setting struct {
	Path  string
	Value any
}

// GetByPath returns the value at path. Sections are returned as their
// struct value.
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(cfg, path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SetByPath parses raw according to the type of the field at path and
// stores it. Sections cannot be set as a whole.
func SetByPath(cfg *Config, path, raw string) error {
	v, err := lookup(cfg, path)
	if err != nil {
		return err
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %q is not a boolean", path, raw)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", path, raw)
		}
		v.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", path, raw)
		}
		v.SetFloat(f)
	case reflect.Struct:
		return fmt.Errorf("%s is a section; set one of: %s", path, strings.Join(fieldNames(v.Type()), ", "))
	default:
		return fmt.Errorf("%s: unsupported type %s", path, v.Type())
	}
	return nil
}

// lookup walks path through cfg and returns the addressable field.
func lookup(cfg *Config, path string) (reflect.Value, error) {
	if path == "" {
		return reflect.Value{}, fmt.Errorf("empty path")
	}
	v := reflect.ValueOf(cfg).Elem()
	walked := ""
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%s is not a section", walked)
		}
		f, ok := fieldByJSONName(v.Type(), key)
		if !ok {
			where := "config"
			if walked != "" {
				where = walked
			}
			return reflect.Value{}, fmt.Errorf("key not found: %s (%s has: %s)", path, where, strings.Join(fieldNames(v.Type()), ", "))
		}
		v = v.FieldByIndex(f.Index)
		if walked == "" {
			walked = key
		} else {
			walked += "." + key
		}
	}
	return v, nil
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

func fieldByJSONName(t reflect.Type, key string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.IsExported() && jsonName(f) == key {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

func fieldNames(t reflect.Type) []string {
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if f := t.Field(i); f.IsExported() {
			names = append(names, jsonName(f))
		}
	}
	return names
}

// ListPaths returns every leaf setting of cfg, sorted by path. Empty
// optional fields are included so they can be discovered and set.
func ListPaths(cfg *Config) []Setting {
	var out []Setting
	collect("", reflect.ValueOf(cfg).Elem(), &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func collect(prefix string, v reflect.Value, out *[]Setting) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		path := jsonName(f)
		if prefix != "" {
			path = prefix + "." + path
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			collect(path, fv, out)
			continue
		}
		*out = append(*out, Setting{Path: path, Value: fv.Interface()})
	}
}

// Sanitize returns a copy of cfg with every secret field masked.
func Sanitize(cfg *Config) *Config {
	clone := *cfg
	mask(reflect.ValueOf(&clone).Elem())
	return &clone
}

func mask(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fv := v.Field(i)
		switch {
		case fv.Kind() == reflect.Struct:
			mask(fv)
		case fv.Kind() == reflect.String && f.Tag.Get("secret") == "true" && fv.String() != "":
			fv.SetString(maskString(fv.String()))
		}
	}
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
