package observability

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// ErrUnknownObserver is returned for names nothing was registered under.
var ErrUnknownObserver = errors.New("unknown observer")

// SlogName always resolves to a SlogObserver. Resolve binds it to the logger
// it is given; GetObserver uses slog.Default.
const SlogName = "slog"

var named = struct {
	sync.RWMutex
	observers map[string]Observer
}{
	observers: map[string]Observer{"noop": NoOpObserver{}},
}

// RegisterObserver adds or replaces a named observer. Configuration files
// refer to observers by these names.
func RegisterObserver(name string, observer Observer) {
	named.Lock()
	named.observers[name] = observer
	named.Unlock()
}

func GetObserver(name string) (Observer, error) {
	return lookup(name, slog.Default())
}

// ObserverNames lists the resolvable names, sorted.
func ObserverNames() []string {
	named.RLock()
	names := make([]string, 0, len(named.observers)+1)
	for name := range named.observers {
		names = append(names, name)
	}
	named.RUnlock()

	if !slices.Contains(names, SlogName) {
		names = append(names, SlogName)
	}
	slices.Sort(names)
	return names
}

// Resolve turns a comma-separated list of names into one observer. Blank
// entries are ignored. Unknown names are reported together in the error
// while the known ones are still returned; an empty result is NoOpObserver.
func Resolve(names string, logger *slog.Logger) (Observer, error) {
	var (
		observers []Observer
		errs      error
	)
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		observer, err := lookup(name, logger)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		observers = append(observers, observer)
	}

	multi := NewMultiObserver(observers...)
	switch multi.Len() {
	case 0:
		return NoOpObserver{}, errs
	case 1:
		return multi.observers[0], errs
	default:
		return multi, errs
	}
}

func lookup(name string, logger *slog.Logger) (Observer, error) {
	named.RLock()
	observer, ok := named.observers[name]
	named.RUnlock()

	switch {
	case ok:
		return observer, nil
	case name == SlogName:
		return NewSlogObserver(logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownObserver, name)
	}
}
