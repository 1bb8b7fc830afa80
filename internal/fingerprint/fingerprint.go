// Package fingerprint derives stable cache keys for market queries.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"
)

// Size is the digest length in bytes. 128 bits is plenty to keep distinct
// queries apart; the keys are not a security boundary.
const Size = 16

// ErrInvalidUTF8 is returned for a subject, kind or param string that is not
// valid UTF-8. JSON would silently replace the bad bytes, folding distinct
// inputs onto one key.
var ErrInvalidUTF8 = errors.New("fingerprint input is not valid UTF-8")

// Generate returns the fingerprint of a (subject, kind, params) tuple as a
// 32 character hex string. The tuple is hashed as the JSON array
// [subject, kind, params], so no field can run into its neighbour. Params
// are serialised with sorted keys at every nesting level, so map iteration
// order never changes the result. A nil map and an empty map produce the
// same fingerprint.
func Generate(subject, kind string, params map[string]any) (string, error) {
	if !utf8.ValidString(subject) || !utf8.ValidString(kind) {
		return "", ErrInvalidUTF8
	}
	canonical, err := Canonical(params)
	if err != nil {
		return "", err
	}
	tuple, err := json.Marshal([]any{subject, kind, json.RawMessage(canonical)})
	if err != nil {
		return "", fmt.Errorf("serialising tuple: %w", err)
	}
	sum := sha256.Sum256(tuple)
	return hex.EncodeToString(sum[:Size]), nil
}

// Canonical serialises params into the form hashed by Generate.
func Canonical(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	if err := checkUTF8(reflect.ValueOf(params)); err != nil {
		return "", err
	}
	// encoding/json writes map keys in sorted order, including nested maps.
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("serialising params: %w", err)
	}
	return string(b), nil
}

// checkUTF8 walks every string json.Marshal would emit, map keys included.
func checkUTF8(v reflect.Value) error {
	switch v.Kind() {
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return fmt.Errorf("%w: %q", ErrInvalidUTF8, v.String())
		}
	case reflect.Interface, reflect.Pointer:
		if !v.IsNil() {
			return checkUTF8(v.Elem())
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkUTF8(iter.Key()); err != nil {
				return err
			}
			if err := checkUTF8(iter.Value()); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return nil // []byte is base64 encoded
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkUTF8(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				if err := checkUTF8(v.Field(i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
