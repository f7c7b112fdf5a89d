package liveness

import (
	"strings"

	"github.com/panbanda/deadpy/pkg/config"
)

// AllowList holds the names presumed live regardless of usage evidence.
type AllowList struct {
	names  map[string]struct{}
	dunder bool
}

// NewAllowList builds an allow-list from the liveness configuration.
func NewAllowList(cfg config.LivenessConfig) *AllowList {
	a := &AllowList{
		names:  make(map[string]struct{}),
		dunder: cfg.DunderIsLive,
	}
	for _, list := range [][]string{cfg.SpecialMethods, cfg.FrameworkMethods, cfg.OverrideNames} {
		for _, name := range list {
			a.names[name] = struct{}{}
		}
	}
	return a
}

// Contains reports whether name is always live.
func (a *AllowList) Contains(name string) bool {
	if _, ok := a.names[name]; ok {
		return true
	}
	return a.dunder && isDunder(name)
}

// isDunder matches __name__ style identifiers.
func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}
