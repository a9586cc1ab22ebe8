package format

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// Formatter renders one role's items as a markdown block. It never returns
// an empty string: no items yields a "No ... available." line.
type Formatter func(items []map[string]any) string

const (
	fallbackTitle = "Property"
	fallbackArea  = "Area"
	fallbackDesc  = "No description"
	na            = "N/A"
)

// For returns the formatter for a role. Unknown roles get Generic.
func For(role string) Formatter {
	switch role {
	case "buyer":
		return Buyer
	case "seller":
		return Seller
	case "price":
		return Price
	case "neighborhood":
		return Neighborhood
	default:
		return Generic(role)
	}
}

func Buyer(items []map[string]any) string {
	if len(items) == 0 {
		return "No buyer recommendations available."
	}
	var b strings.Builder
	b.WriteString("### Buyer Recommendations:\n\n")
	for _, item := range items {
		e := Normalize(item)
		fmt.Fprintf(&b, "* **%s**\n", or(e.Title, fallbackTitle))
		fmt.Fprintf(&b, "  * %s\n", or(e.Description, fallbackDesc))
		fmt.Fprintf(&b, "  * Price: %s\n", or(e.Price, na))
		fmt.Fprintf(&b, "  * Location: %s\n", or(e.Location, na))
		fmt.Fprintf(&b, "  * Size: %s\n", or(e.Size, na))
		writeList(&b, "Features", e.Features)
		b.WriteString("\n")
	}
	return b.String()
}

func Seller(items []map[string]any) string {
	if len(items) == 0 {
		return "No seller listings available."
	}
	var b strings.Builder
	b.WriteString("### Seller Listings:\n\n")
	for _, item := range items {
		e := Normalize(item)
		fmt.Fprintf(&b, "* **%s**\n", or(e.Title, fallbackTitle))
		fmt.Fprintf(&b, "  * %s\n", or(e.Description, fallbackDesc))
		fmt.Fprintf(&b, "  * Asking Price: %s\n", or(e.AskingPrice, e.Price, na))
		fmt.Fprintf(&b, "  * Location: %s\n", or(e.Location, na))
		fmt.Fprintf(&b, "  * Size: %s\n", or(e.Size, na))
		if len(e.Amenities) > 0 {
			writeList(&b, "Amenities", e.Amenities)
		} else {
			writeList(&b, "Features", e.Features)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func Price(items []map[string]any) string {
	if len(items) == 0 {
		return "No price estimation available."
	}
	var b strings.Builder
	b.WriteString("### Price Estimates:\n\n")
	for _, item := range items {
		e := Normalize(item)
		fmt.Fprintf(&b, "* **%s**\n", or(e.Title, e.PropertyType, fallbackTitle))
		fmt.Fprintf(&b, "  * Estimated Price: %s\n", or(e.EstimatedPrice, e.PriceRange, e.Price, na))
		fmt.Fprintf(&b, "  * Confidence: %s\n", or(e.Confidence, na))
		if e.Justification != "" {
			fmt.Fprintf(&b, "  * Justification: %s\n", e.Justification)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func Neighborhood(items []map[string]any) string {
	if len(items) == 0 {
		return "No neighborhood insights available."
	}
	var b strings.Builder
	b.WriteString("### Neighborhood Insights:\n\n")
	for _, item := range items {
		e := Normalize(item)
		fmt.Fprintf(&b, "* **%s**\n", or(e.Title, e.Location, fallbackArea))
		fmt.Fprintf(&b, "  * %s\n", or(e.Description, fallbackDesc))
		fmt.Fprintf(&b, "  * Average Price: %s\n", or(e.AveragePrice, e.Price, na))
		fmt.Fprintf(&b, "  * Safety: %s\n", or(e.Safety, na))
		if len(e.Highlights) > 0 {
			writeList(&b, "Highlights", e.Highlights)
		} else {
			writeList(&b, "Amenities", e.Amenities)
		}
		writeList(&b, "Schools", e.Schools)
		writeList(&b, "Transport", e.Transport)
		b.WriteString("\n")
	}
	return b.String()
}

// Generic formats items of a role without a dedicated layout: the title
// line followed by every other field sorted by name.
func Generic(role string) Formatter {
	return func(items []map[string]any) string {
		if len(items) == 0 {
			return fmt.Sprintf("No %s available.", role)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "### %s:\n\n", heading(role))
		for _, item := range items {
			e := Normalize(item)
			fmt.Fprintf(&b, "* **%s**\n", or(e.Title, fallbackTitle))
			for _, key := range sortedKeys(item) {
				if f, ok := aliases[fold(key)]; ok && f == fTitle {
					continue
				}
				lines := List(item[key])
				switch len(lines) {
				case 0:
				case 1:
					fmt.Fprintf(&b, "  * %s: %s\n", heading(key), lines[0])
				default:
					writeList(&b, heading(key), lines)
				}
			}
			b.WriteString("\n")
		}
		return b.String()
	}
}

func writeList(b *strings.Builder, label string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "  * %s:\n", label)
	for _, l := range lines {
		fmt.Fprintf(b, "    * %s\n", l)
	}
}

// or returns the first non-empty value.
func or(values ...string) string {
	i := slices.IndexFunc(values, func(s string) bool { return s != "" })
	if i < 0 {
		return ""
	}
	return values[i]
}

// heading turns a key like "school_rating" into "School Rating".
func heading(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
