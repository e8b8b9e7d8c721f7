package config

import (
	"reflect"

	"github.com/mitchellh/mapstructure"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/signedfetch"
)

// stringHook builds a DecodeHookFunc that parses string-kinded input into
// the target type with parse.
func stringHook[T any](parse func(string) (T, error)) mapstructure.DecodeHookFunc {
	target := reflect.TypeOf(*new(T))
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != target {
			return data, nil
		}
		return parse(reflect.ValueOf(data).String())
	}
}

// StringToPlatform is a DecodeHookFunc that normalizes and validates a
// platform name.
func StringToPlatform() mapstructure.DecodeHookFunc {
	return stringHook(domain.ParsePlatform)
}

// StringToFormat is a DecodeHookFunc that validates an envelope format name.
func StringToFormat() mapstructure.DecodeHookFunc {
	return stringHook(signedfetch.ParseFormat)
}

// StringToByteSize is a DecodeHookFunc that accepts sizes like "4MiB".
func StringToByteSize() mapstructure.DecodeHookFunc {
	return stringHook(func(s string) (ByteSize, error) {
		n, err := ParseSize(s)
		return ByteSize(n), err
	})
}
