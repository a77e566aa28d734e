package shipping

import (
	"errors"
	"strings"
	"testing"
)

func TestResolveSeededCarriers(t *testing.T) {
	registry := DefaultRegistry()

	for _, id := range []string{"nzpost", "courierpost", "aramex", "dhl"} {
		carrier, err := registry.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", id, err)
		}
		if carrier.DisplayName == "" || carrier.TrackingURLTemplate == "" {
			t.Fatalf("carrier %s missing metadata: %#v", id, carrier)
		}
		if carrier.TransitDays <= 0 {
			t.Fatalf("carrier %s missing transit estimate", id)
		}
	}
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	registry := DefaultRegistry()
	carrier, err := registry.Resolve("NZPOST")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if carrier.ID != "nzpost" {
		t.Fatalf("unexpected carrier id: %s", carrier.ID)
	}
}

func TestResolveUnknownCarrier(t *testing.T) {
	registry := DefaultRegistry()
	if _, err := registry.Resolve("pigeon-express"); !errors.Is(err, ErrUnknownCarrier) {
		t.Fatalf("expected ErrUnknownCarrier, got %v", err)
	}
	if registry.Known("pigeon-express") {
		t.Fatal("Known should report false for unknown carriers")
	}
}

func TestTrackingURL(t *testing.T) {
	registry := DefaultRegistry()
	carrier, err := registry.Resolve("nzpost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	url := carrier.TrackingURL(" AB123 ")
	if !strings.Contains(url, "AB123") {
		t.Fatalf("tracking URL missing tracking number: %s", url)
	}
	if strings.Contains(url, "{tracking}") {
		t.Fatalf("placeholder not substituted: %s", url)
	}
}
