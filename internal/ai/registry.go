package ai

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/annaparis/salonbot/internal/store"
)

// SwitchLog persists the provider switch audit trail. *store.DB satisfies it.
type SwitchLog interface {
	RecordProviderSwitch(ctx context.Context, from, to, reason string) error
	ProviderSwitchHistory(ctx context.Context) ([]store.ProviderSwitch, error)
	ResetProviderSwitchHistory(ctx context.Context) error
}

// Registry holds every configured provider client and the currently active
// one. Switching is safe under concurrent pipeline calls and needs no
// restart.
type Registry struct {
	log      *zap.Logger
	switches SwitchLog

	mu        sync.RWMutex
	clients   map[string]Client
	current   string
	requests  map[string]int
	totalCost float64
}

// NewRegistry creates a registry with the given default provider.
func NewRegistry(defaultProvider string, switches SwitchLog, log *zap.Logger) *Registry {
	if defaultProvider == "" {
		defaultProvider = ProviderClaude
	}
	return &Registry{
		log:      log.Named("registry"),
		switches: switches,
		clients:  make(map[string]Client),
		current:  defaultProvider,
		requests: make(map[string]int),
	}
}

// Register adds a provider client.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Provider()] = c
	r.log.Info("provider registered",
		zap.String("provider", c.Provider()),
		zap.String("model", c.Model()))
}

// Current returns the active provider name.
func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Get returns a registered client by name.
func (r *Registry) Get(provider string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[provider]
	return c, ok
}

// Available lists the registered provider names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Switch changes the active provider and records it. The previous provider
// name is returned.
func (r *Registry) Switch(ctx context.Context, provider, reason string) (string, error) {
	r.mu.Lock()
	if _, ok := r.clients[provider]; !ok {
		available := make([]string, 0, len(r.clients))
		for name := range r.clients {
			available = append(available, name)
		}
		r.mu.Unlock()
		sort.Strings(available)
		return "", fmt.Errorf("invalid provider %q, valid: %v", provider, available)
	}
	old := r.current
	r.current = provider
	r.mu.Unlock()

	if r.switches != nil {
		if err := r.switches.RecordProviderSwitch(ctx, old, provider, reason); err != nil {
			r.log.Warn("switch history not recorded", zap.Error(err))
		}
	}
	r.log.Info("provider switched",
		zap.String("from", old),
		zap.String("to", provider),
		zap.String("reason", reason))
	return old, nil
}

// History returns the recorded switches.
func (r *Registry) History(ctx context.Context) ([]store.ProviderSwitch, error) {
	if r.switches == nil {
		return nil, nil
	}
	return r.switches.ProviderSwitchHistory(ctx)
}

// ResetHistory clears the recorded switches.
func (r *Registry) ResetHistory(ctx context.Context) error {
	if r.switches == nil {
		return nil
	}
	return r.switches.ResetProviderSwitchHistory(ctx)
}

// Complete runs a completion on the active provider and keeps usage stats.
func (r *Registry) Complete(ctx context.Context, system, user string, maxTokens int) (*Completion, error) {
	r.mu.RLock()
	name := r.current
	client, ok := r.clients[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}

	comp, err := client.Complete(ctx, system, user, maxTokens)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.requests[name]++
	r.totalCost += comp.Cost
	r.mu.Unlock()
	return comp, nil
}

// UsageStats summarizes registry activity since startup.
type UsageStats struct {
	CurrentProvider    string         `json:"current_provider"`
	RequestsByProvider map[string]int `json:"requests_by_provider"`
	TotalRequests      int            `json:"total_requests"`
	TotalCostEstimate  float64        `json:"total_cost_estimate"`
}

// Stats returns a snapshot of usage counters.
func (r *Registry) Stats() UsageStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byProvider := make(map[string]int, len(r.requests))
	total := 0
	for name, n := range r.requests {
		byProvider[name] = n
		total += n
	}
	return UsageStats{
		CurrentProvider:    r.current,
		RequestsByProvider: byProvider,
		TotalRequests:      total,
		TotalCostEstimate:  r.totalCost,
	}
}

// CompareResult is one provider's outcome in a comparison run.
type CompareResult struct {
	Completion *Completion `json:"completion,omitempty"`
	Err        string      `json:"error,omitempty"`
}

// CompareAll fans the same request out to every registered provider and
// collects the results. A failing provider does not fail the run.
func (r *Registry) CompareAll(ctx context.Context, system, user string, maxTokens int) map[string]CompareResult {
	r.mu.RLock()
	clients := make(map[string]Client, len(r.clients))
	for name, c := range r.clients {
		clients[name] = c
	}
	r.mu.RUnlock()

	results := make(map[string]CompareResult, len(clients))
	var resMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for name, client := range clients {
		g.Go(func() error {
			comp, err := client.Complete(gctx, system, user, maxTokens)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				results[name] = CompareResult{Err: err.Error()}
				return nil
			}
			results[name] = CompareResult{Completion: comp}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
