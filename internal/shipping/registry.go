package shipping

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownCarrier flags a carrier id absent from the registry. This
// is a configuration defect, not a caller mistake.
var ErrUnknownCarrier = errors.New("shipping: unknown carrier")

// Carrier describes a delivery provider known to the platform.
type Carrier struct {
	ID                  string
	DisplayName         string
	TrackingURLTemplate string
	TransitDays         int
}

// Registry resolves carrier ids to carrier metadata. The table is
// configured at startup and read-only afterwards.
type Registry struct {
	carriers map[string]Carrier
}

// NewRegistry builds a registry over the provided carriers.
func NewRegistry(carriers ...Carrier) *Registry {
	table := make(map[string]Carrier, len(carriers))
	for _, carrier := range carriers {
		id := normalizeID(carrier.ID)
		if id == "" {
			continue
		}
		carrier.ID = id
		table[id] = carrier
	}
	return &Registry{carriers: table}
}

// DefaultRegistry returns the registry seeded with the carriers the
// marketplace currently integrates.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Carrier{ID: "nzpost", DisplayName: "NZ Post", TrackingURLTemplate: "https://www.nzpost.co.nz/tools/tracking?trackid={tracking}", TransitDays: 3},
		Carrier{ID: "courierpost", DisplayName: "CourierPost", TrackingURLTemplate: "https://www.courierpost.co.nz/track/{tracking}", TransitDays: 2},
		Carrier{ID: "aramex", DisplayName: "Aramex", TrackingURLTemplate: "https://www.aramex.co.nz/tools/track?l={tracking}", TransitDays: 4},
		Carrier{ID: "dhl", DisplayName: "DHL Express", TrackingURLTemplate: "https://www.dhl.com/nz-en/home/tracking.html?tracking-id={tracking}", TransitDays: 5},
	)
}

// List returns all configured carriers ordered by id.
func (r *Registry) List() []Carrier {
	if r == nil || len(r.carriers) == 0 {
		return nil
	}
	out := make([]Carrier, 0, len(r.carriers))
	for _, carrier := range r.carriers {
		out = append(out, carrier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve returns the carrier for the id or ErrUnknownCarrier.
func (r *Registry) Resolve(carrierID string) (Carrier, error) {
	if r == nil {
		return Carrier{}, fmt.Errorf("%w: registry not configured", ErrUnknownCarrier)
	}
	carrier, ok := r.carriers[normalizeID(carrierID)]
	if !ok {
		return Carrier{}, fmt.Errorf("%w: %q", ErrUnknownCarrier, carrierID)
	}
	return carrier, nil
}

// Known reports whether the id resolves without building the error.
func (r *Registry) Known(carrierID string) bool {
	if r == nil {
		return false
	}
	_, ok := r.carriers[normalizeID(carrierID)]
	return ok
}

// TrackingURL substitutes the tracking number into the carrier's URL template.
func (c Carrier) TrackingURL(trackingNumber string) string {
	return strings.ReplaceAll(c.TrackingURLTemplate, "{tracking}", strings.TrimSpace(trackingNumber))
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
