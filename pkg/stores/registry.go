package stores

import (
	"fmt"
	"sort"
)

// Builder constructs a retailer extractor from run dependencies.
type Builder func(deps Deps) Extractor

var builders = map[string]Builder{}

// Register adds a retailer to the registry. Called from retailer package
// init funcs; the set of retailers is closed at build time.
func Register(name string, b Builder) {
	if _, dup := builders[name]; dup {
		panic("stores: duplicate retailer " + name)
	}
	builders[name] = b
}

// New builds the named retailer's extractor.
func New(name string, deps Deps) (Extractor, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("stores: unknown retailer %q (known: %v)", name, Names())
	}
	return b(deps), nil
}

// Names lists registered retailers in stable order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
