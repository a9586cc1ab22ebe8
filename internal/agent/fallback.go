package agent

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/mtzanidakis/realtymesh/internal/format"
	"github.com/mtzanidakis/realtymesh/internal/swarm"
)

const (
	// DefaultFallbackPrice is used when the heuristic itself cannot run.
	DefaultFallbackPrice int64 = 5_000_000
	defaultSizeSqft            = 1000
)

type priceTier struct {
	cities []string
	rate   float64
}

var priceTiers = []priceTier{
	{[]string{"mumbai", "delhi", "bangalore", "gurgaon"}, 15000},
	{[]string{"pune", "chennai", "hyderabad", "kolkata"}, 7500},
	{[]string{"ahmedabad", "jaipur", "surat", "lucknow"}, 5000},
}

const defaultRate = 4000

var listingFeatures = []string{
	"Prime location",
	"Well-ventilated rooms",
	"Good connectivity",
	"Peaceful neighborhood",
	"Ready to move",
}

// FallbackPrice estimates a price in INR from a per-sq-ft rate picked by
// city tier, adjusted for villas and plots. It is deterministic and never
// fails: anything it cannot work with yields DefaultFallbackPrice.
func FallbackPrice(location any, size any, propertyType string) (price int64) {
	defer func() {
		if recover() != nil {
			price = DefaultFallbackPrice
		}
	}()

	sqft, ok := sizeSqft(size)
	if !ok {
		return DefaultFallbackPrice
	}

	rate := float64(defaultRate)
	loc := strings.ToLower(format.Display(location))
tiers:
	for _, tier := range priceTiers {
		for _, city := range tier.cities {
			if strings.Contains(loc, city) {
				rate = tier.rate
				break tiers
			}
		}
	}

	switch strings.ToLower(propertyType) {
	case "villa":
		rate *= 1.3
	case "plot":
		rate *= 0.7
	}

	v := rate * float64(sqft)
	if math.IsNaN(v) || math.IsInf(v, 0) || v > math.MaxInt64 || v < math.MinInt64 {
		return DefaultFallbackPrice
	}
	return int64(math.Round(v))
}

// sizeSqft converts a requested size to whole square feet. Empty values
// (missing, zero, "", false) mean the default size; fractional numbers are
// truncated; strings must hold an integer.
func sizeSqft(v any) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return defaultSizeSqft, true
	case bool:
		if !t {
			return defaultSizeSqft, true
		}
		return 1, true
	case float64:
		if t == 0 {
			return defaultSizeSqft, true
		}
		if math.IsNaN(t) || math.IsInf(t, 0) || t >= math.MaxInt64 || t < math.MinInt64 {
			return 0, false
		}
		return int64(t), true
	case int:
		if t == 0 {
			return defaultSizeSqft, true
		}
		return int64(t), true
	case int64:
		if t == 0 {
			return defaultSizeSqft, true
		}
		return t, true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		if n == 0 {
			return defaultSizeSqft, true
		}
		return n, true
	case string:
		if t == "" {
			return defaultSizeSqft, true
		}
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// listingInput is what the listing role reads from a request: either a
// nested "property" object or flat keys.
type listingInput struct {
	Location     any
	Size         any
	Price        any
	PropertyType string
}

func readListingInput(req swarm.Request) listingInput {
	in := listingInput{
		Location:     "Not specified",
		Size:         float64(defaultSizeSqft),
		Price:        float64(0),
		PropertyType: "Apartment",
	}

	if raw, ok := req.Get("property"); ok {
		if prop, ok := raw.(map[string]any); ok {
			if v, ok := prop["location"]; ok {
				in.Location = v
			}
			if v, ok := prop["size_sqft"]; ok {
				in.Size = v
			}
			if v, ok := prop["price"]; ok {
				in.Price = v
			}
			if v, ok := prop["type"]; ok {
				in.PropertyType = format.Display(v)
			}
			return in
		}
	}

	if v, ok := req.Get("location"); ok {
		in.Location = v
	}
	if v, ok := req.Get("size_sqft"); ok {
		in.Size = v
	} else if v, ok := req.Get("size"); ok {
		in.Size = v
	}
	if v, ok := req.Get("price"); ok {
		in.Price = v
	}
	if v, ok := req.Get("property_type"); ok {
		in.PropertyType = format.Display(v)
	}
	return in
}

// FallbackListing synthesizes the single listing returned when generation
// produced nothing usable.
func FallbackListing(req swarm.Request) []swarm.Item {
	in := readListingInput(req)
	location := format.Display(in.Location)
	size := format.Display(in.Size)

	var sizeValue any = size
	if n, ok := sizeSqft(in.Size); ok {
		sizeValue = n
		size = strconv.FormatInt(n, 10)
	}

	features := make([]any, len(listingFeatures))
	for i, f := range listingFeatures {
		features[i] = f
	}

	return []swarm.Item{{
		"title": "Beautiful " + in.PropertyType + " in " + location,
		"description": "Well-maintained " + strings.ToLower(in.PropertyType) + " spanning " + size +
			" sq ft in the heart of " + location + ". Perfect for families looking for a comfortable home.",
		"price_in_inr": FallbackPrice(in.Location, in.Size, in.PropertyType),
		"location":     location,
		"size_sq_ft":   sizeValue,
		"features":     features,
	}}
}
