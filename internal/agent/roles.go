package agent

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mtzanidakis/realtymesh/internal/format"
	"github.com/mtzanidakis/realtymesh/internal/swarm"
)

// Role describes one worker: how it prompts the model and, optionally, how
// it synthesizes a result when the model gives nothing usable.
type Role struct {
	Name        string
	Description string
	// Instruction is the system prompt. It pins the JSON shape.
	Instruction string
	Prompt      func(req swarm.Request) string
	// Fallback, when set, turns any failure into a degraded success.
	Fallback func(req swarm.Request) []swarm.Item
	// FailureMessage prefixes the message of a recovered panic.
	FailureMessage string
}

const (
	notSpecified = "Not specified"
	none         = "None"
)

var roles = map[string]Role{
	"buyer": {
		Name:        "buyer",
		Description: "Helps buyers find and evaluate real estate properties based on their preferences, location, and budget.",
		Instruction: "Given a buyer's preferences (location, budget, property type, and key requirements), " +
			"suggest 2-3 suitable property options. " +
			"Return ONLY valid JSON in the following format:\n" +
			`{ "buyer": [ { "name": "...", "description": "...", "price": 0, "location": "...", "size": 0, "features": ["..."] } ] }` + "\n" +
			"Do not include any extra text, markdown, or code fences.",
		Prompt: func(req swarm.Request) string {
			return "Suggest real estate properties for a buyer.\n" +
				"Location: " + req.String("location", notSpecified) + "\n" +
				"Budget: " + req.String("budget", notSpecified) + "\n" +
				"Property Type: " + req.String("property_type", notSpecified) + "\n" +
				"Requirements: " + req.String("requirements", none) + "\n" +
				"Return ONLY valid JSON with a 'buyer' array."
		},
		FailureMessage: "Failed to fetch buyer recommendations",
	},
	"seller": {
		Name:        "seller",
		Description: "Creates property listings with market-based pricing and detailed descriptions.",
		Instruction: "You are a real estate agent. Create a property listing based on the given details. " +
			"Generate appropriate market pricing based on location, size, and property type.\n\n" +
			"RESPOND ONLY IN THIS JSON FORMAT:\n" +
			"{\n" +
			`  "seller": [{` + "\n" +
			`    "title": "Property name",` + "\n" +
			`    "description": "Brief attractive description",` + "\n" +
			`    "price_in_inr": 5000000,` + "\n" +
			`    "location": "Location details",` + "\n" +
			`    "size_sq_ft": 1000,` + "\n" +
			`    "features": ["Feature 1", "Feature 2", "Feature 3"]` + "\n" +
			"  }]\n" +
			"}\n\n" +
			"PRICING GUIDELINES:\n" +
			"- Mumbai/Delhi/Bangalore: ₹10,000-20,000 per sq.ft\n" +
			"- Other major cities: ₹5,000-10,000 per sq.ft\n" +
			"- Smaller cities: ₹3,000-6,000 per sq.ft\n" +
			"NO MARKDOWN. NO EXTRA TEXT. ONLY JSON.",
		Prompt: func(req swarm.Request) string {
			in := readListingInput(req)
			return "Create a property listing:\n" +
				"Location: " + format.Display(in.Location) + "\n" +
				"Size: " + format.Display(in.Size) + " sq ft\n" +
				"Property Type: " + in.PropertyType + "\n" +
				"Reference Price: ₹" + format.Display(in.Price) + "\n" +
				"Generate market-appropriate pricing and features."
		},
		Fallback:       FallbackListing,
		FailureMessage: "Failed to create listing",
	},
	"price": {
		Name:        "price",
		Description: "Estimates and compares property prices based on location, size, and property type.",
		Instruction: "Given property details (location, property type, and size in sq. ft), " +
			"estimate the price range in INR and provide a short justification. " +
			"For each property input, return:\n" +
			"- Property type\n" +
			"- Location\n" +
			"- Size (sq. ft)\n" +
			"- Estimated price range (min-max INR)\n" +
			"- Justification (why this price range, e.g., demand, locality, market trends)\n" +
			"Return the result strictly in JSON format with a 'price' array. " +
			"Do not include extra text or markdown formatting.",
		Prompt: func(req swarm.Request) string {
			size := req.String("size", "")
			if size == "" {
				size = req.String("size_sqft", notSpecified)
			}
			return "Estimate the property price.\n" +
				"Location: " + req.String("location", notSpecified) + "\n" +
				"Property Type: " + req.String("property_type", notSpecified) + "\n" +
				"Size: " + size + " sq. ft\n" +
				"Return as JSON with a 'price' array."
		},
		FailureMessage: "Failed to estimate price",
	},
	"neighborhood": {
		Name:        "neighborhood",
		Description: "Provides neighborhood insights such as safety, schools, amenities, transportation, and lifestyle for a location.",
		Instruction: "Given a neighborhood location, provide insights about:\n" +
			"- Area name\n" +
			"- Safety rating (1-5)\n" +
			"- Nearby schools and ratings\n" +
			"- Key amenities (hospitals, malls, grocery stores, parks, gyms, etc.)\n" +
			"- Transportation & connectivity\n" +
			"- Lifestyle & community description\n" +
			"Return the result strictly in JSON format with a 'neighborhood' array. " +
			"Do not include extra text or markdown formatting.",
		Prompt: func(req swarm.Request) string {
			return "Provide neighborhood insights.\n" +
				"Location: " + req.String("location", notSpecified) + "\n" +
				"Requirements: " + req.String("requirements", none) + "\n" +
				"Return as JSON with a 'neighborhood' array."
		},
		FailureMessage: "Failed to fetch neighborhood insights",
	},
}

// LookupRole returns a built-in role by name, case-insensitively.
func LookupRole(name string) (Role, error) {
	r, ok := roles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Role{}, fmt.Errorf("unknown role %q (known: %s)", name, strings.Join(RoleNames(), ", "))
	}
	return r, nil
}

// RoleNames lists the built-in roles, sorted.
func RoleNames() []string {
	names := make([]string, 0, len(roles))
	for n := range roles {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// App is the session namespace of the role.
func (r Role) App() string {
	return r.Name + "_app"
}
