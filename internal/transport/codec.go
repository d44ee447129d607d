package transport

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
)

// Codec selects how a message is copied across a port.
type Codec string

const (
	// CodecClone deep-copies the message value, keeping Go types intact.
	CodecClone Codec = "clone"
	// CodecJSON encodes and decodes the message through encoding/json, so
	// numbers arrive as float64 and structs inside payloads arrive as maps.
	CodecJSON Codec = "json"
)

// ParseCodec maps a configuration string to a Codec. The empty string
// selects CodecClone.
func ParseCodec(name string) (Codec, error) {
	switch Codec(strings.ToLower(strings.TrimSpace(name))) {
	case "", CodecClone:
		return CodecClone, nil
	case CodecJSON:
		return CodecJSON, nil
	default:
		return "", syncerrors.NewConfigError(fmt.Sprintf("unknown transport codec '%s'", name), nil)
	}
}

// transfer produces the receiver's copy of msg.
func transfer[T any](codec Codec, msg T) (T, error) {
	var out T
	switch codec {
	case CodecJSON:
		data, err := json.Marshal(msg)
		if err != nil {
			return out, err
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return out, err
		}
		return out, nil
	default:
		copied, err := Clone(msg)
		if err != nil {
			return out, err
		}
		if copied == nil {
			return out, nil
		}
		typed, ok := copied.(T)
		if !ok {
			return out, fmt.Errorf("clone produced %T, want %s", copied, reflect.TypeOf(msg))
		}
		return typed, nil
	}
}
