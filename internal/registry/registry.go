package registry

import (
	"errors"
	"fmt"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

var ErrDuplicateMeter = errors.New("duplicate meter id")

// Registry is the read-only set of configured meters. It is built once and
// iterates in load order.
type Registry struct {
	byID  map[string]domain.MeterConfig
	order []domain.MeterConfig
}

func New(meters []domain.MeterConfig) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]domain.MeterConfig, len(meters)),
		order: make([]domain.MeterConfig, 0, len(meters)),
	}
	for _, m := range meters {
		if _, exists := r.byID[m.MeterID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMeter, m.MeterID)
		}
		r.byID[m.MeterID] = m
		r.order = append(r.order, m)
	}
	return r, nil
}

func (r *Registry) Get(meterID string) (domain.MeterConfig, error) {
	m, ok := r.byID[meterID]
	if !ok {
		return domain.MeterConfig{}, fmt.Errorf("%w: %s", domain.ErrMeterNotFound, meterID)
	}
	return m, nil
}

// All returns a copy of the meters in load order.
func (r *Registry) All() []domain.MeterConfig {
	out := make([]domain.MeterConfig, len(r.order))
	copy(out, r.order)
	return out
}

// ByTopic resolves a push topic to its meter; the first meter in load order
// wins when topics collide.
func (r *Registry) ByTopic(topic string) (domain.MeterConfig, bool) {
	if topic == "" {
		return domain.MeterConfig{}, false
	}
	for _, m := range r.order {
		if m.PushTopic == topic {
			return m, true
		}
	}
	return domain.MeterConfig{}, false
}

// Topics lists the distinct non-empty push topics.
func (r *Registry) Topics() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range r.order {
		if m.PushTopic == "" {
			continue
		}
		if _, ok := seen[m.PushTopic]; ok {
			continue
		}
		seen[m.PushTopic] = struct{}{}
		out = append(out, m.PushTopic)
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }
