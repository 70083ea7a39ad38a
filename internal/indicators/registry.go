package indicators

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownIndicator is returned when a name has no registered algorithm.
var ErrUnknownIndicator = fmt.Errorf("unknown indicator")

var (
	registryMu sync.RWMutex
	registry   = map[string]Indicator{}
)

// Register adds an indicator to the global registry. Built-ins register from
// init(); custom indicator modules do the same, which is how they are
// discovered at startup. Re-registering a name replaces the previous entry.
func Register(ind Indicator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(ind.Name())] = ind
}

// Lookup resolves an indicator by name, case-insensitively.
func Lookup(name string) (Indicator, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ind, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndicator, name)
	}
	return ind, nil
}

// Names lists all registered indicator names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Search returns indicator names whose name or keywords contain the query.
func Search(query string) []string {
	query = strings.ToLower(query)
	registryMu.RLock()
	defer registryMu.RUnlock()
	var matches []string
	for name, ind := range registry {
		if strings.Contains(name, query) {
			matches = append(matches, name)
			continue
		}
		for _, kw := range ind.Keywords() {
			if strings.Contains(strings.ToLower(kw), query) {
				matches = append(matches, name)
				break
			}
		}
	}
	sort.Strings(matches)
	return matches
}
