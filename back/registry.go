// Package back maintains a registry of Backend implementations
// that can be constructed from a configuration map.
package back

import (
	"context"
	"fmt"

	"github.com/bobg/blobpack"
)

// Factory constructs a Backend from a parsed JSON config map.
type Factory func(context.Context, map[string]interface{}) (blobpack.Backend, error)

var registry = make(map[string]Factory)

// Register associates a factory with a config "type" key.
// Backend packages call it from init.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create builds the Backend described by conf["type"] and friends.
func Create(ctx context.Context, key string, conf map[string]interface{}) (blobpack.Backend, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}
