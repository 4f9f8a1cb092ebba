package policy

import (
	_ "embed"
	"strings"
)

//go:embed disposable.txt
var rawDisposable string

//go:embed free_providers.txt
var rawFreeProviders string

var (
	disposableSet   map[string]struct{}
	freeProviderSet map[string]struct{}
)

func init() {
	disposableSet = parseList(rawDisposable)
	freeProviderSet = parseList(rawFreeProviders)
}

func parseList(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[strings.ToLower(line)] = struct{}{}
	}
	return set
}
