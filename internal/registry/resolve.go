package registry

import (
	"log/slog"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
)

// Resolution is the outcome of picking a model for a turn.
type Resolution struct {
	Model       domain.ModelDescriptor
	Requested   string
	Substituted bool
}

// Select picks the model for a turn: the explicit request if it is known and
// credentialed, then the mode default, then the first credentialed model in
// registry order. It returns ErrNoProviders when nothing is credentialed.
func (r *Registry) Select(requested string, mode domain.Mode, configured func(domain.Provider) bool) (Resolution, error) {
	wanted := requested
	if wanted == "" {
		wanted = r.Tier(mode).DefaultModel
	}

	if m, err := r.Resolve(wanted); err == nil && configured(m.Provider) {
		return Resolution{Model: m, Requested: wanted}, nil
	}

	candidates := []string{r.Tier(mode).DefaultModel}
	for _, m := range r.models {
		candidates = append(candidates, m.ID)
	}

	for _, id := range candidates {
		m, err := r.Resolve(id)
		if err != nil || !configured(m.Provider) {
			continue
		}
		if id == wanted {
			continue
		}
		slog.Warn("model substituted",
			"requested", wanted,
			"substituted", m.ID,
			"mode", mode,
		)
		return Resolution{Model: m, Requested: wanted, Substituted: true}, nil
	}

	return Resolution{Requested: wanted}, domain.ErrNoProviders
}
