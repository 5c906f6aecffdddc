package provider

import (
	"fmt"
	"sort"

	"gitlab.com/tozd/go/errors"

	"versfm/internal/domain"
)

// Set holds the providers the panes can reference.
type Set struct {
	providers map[string]Provider
}

func NewSet(providers ...Provider) (*Set, error) {
	set := &Set{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if err := set.Add(p); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (set *Set) Add(p Provider) error {
	if _, exists := set.providers[p.ID()]; exists {
		return errors.Errorf("provider %q registered twice: %w", p.ID(), domain.ErrConfiguration)
	}
	set.providers[p.ID()] = p
	return nil
}

func (set *Set) Get(id string) (Provider, bool) {
	p, ok := set.providers[id]
	return p, ok
}

// MustGet panics when id is unknown. Plans and panes only carry ids that
// were resolved at startup, so a miss is a wiring bug.
func (set *Set) MustGet(id string) Provider {
	p, ok := set.providers[id]
	if !ok {
		panic(fmt.Sprintf("provider %q is not registered", id))
	}
	return p
}

func (set *Set) IDs() []string {
	ids := make([]string, 0, len(set.providers))
	for id := range set.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
