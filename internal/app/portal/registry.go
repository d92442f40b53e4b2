package portal

import (
	"fmt"
	"log"
	"sort"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

// Registry maps portal keys to adapters. It is built once and read-only afterwards.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Name()]; dup {
			return nil, fmt.Errorf("portal %q registered twice", a.Name())
		}
		r.adapters[a.Name()] = a
	}
	return r, nil
}

// Get returns the adapter bound to key.
func (r *Registry) Get(key string) (Adapter, bool) {
	a, ok := r.adapters[key]
	return a, ok
}

// Keys returns the registered portal keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildRegistry registers every portal the configuration carries credentials for.
func BuildRegistry(cfg *config.Config) (*Registry, error) {
	sim := Simulation{Latency: cfg.SimulatedLatency}
	var adapters []Adapter

	if creds, ok := cfg.Portals[config.PortalSAMGov]; ok && creds.APIKey != "" {
		adapters = append(adapters, NewSAMGovAdapter(creds, sim))
	} else {
		log.Printf("WARN: SAM.gov credentials not configured, portal %s disabled", config.PortalSAMGov)
	}

	if creds, ok := cfg.Portals[config.PortalGSAeBuy]; ok && creds.Username != "" {
		ebuy, err := NewGSAeBuyAdapter(creds, cfg.ProofDir(), sim)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, ebuy)
	} else {
		log.Printf("WARN: GSA eBuy credentials not configured, portal %s disabled", config.PortalGSAeBuy)
	}

	if cfg.EnableMockPortal {
		adapters = append(adapters, NewMockPortalAdapter())
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no portal adapters configured")
	}
	registry, err := NewRegistry(adapters...)
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Portal adapters registered: %v", registry.Keys())
	return registry, nil
}
