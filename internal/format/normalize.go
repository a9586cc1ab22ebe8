// Package format turns worker items into display-ready text. Items are
// untyped JSON objects whose field names drift between producers, so every
// item goes through Normalize once and the role formatters only ever see an
// Entry.
package format

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// Entry is the canonical view of one item. Empty fields were absent or null.
type Entry struct {
	Title          string
	Description    string
	PropertyType   string
	Price          string
	AskingPrice    string
	EstimatedPrice string
	PriceRange     string
	Confidence     string
	Justification  string
	Location       string
	Size           string
	Safety         string
	AveragePrice   string
	Features       []string
	Amenities      []string
	Highlights     []string
	Schools        []string
	Transport      []string

	// Extra holds fields no alias claimed, keyed by their original name.
	Extra map[string]any
}

type field int

const (
	fTitle field = iota
	fDescription
	fPropertyType
	fPrice
	fAskingPrice
	fEstimatedPrice
	fPriceRange
	fConfidence
	fJustification
	fLocation
	fSize
	fSafety
	fAveragePrice
	fFeatures
	fAmenities
	fHighlights
	fSchools
	fTransport
)

// aliases maps a folded key (lowercase, letters and digits only) to the
// canonical field. Display-side names like "Property name/title" and
// worker-side names like "price_in_inr" both land here.
var aliases = map[string]field{
	"propertynametitle": fTitle,
	"title":             fTitle,
	"name":              fTitle,
	"propertyname":      fTitle,
	"propertytitle":     fTitle,
	"neighborhoodname":  fTitle,
	"neighbourhoodname": fTitle,
	"areaname":          fTitle,

	"description":                      fDescription,
	"details":                          fDescription,
	"summary":                          fDescription,
	"info":                             fDescription,
	"lifestyle":                        fDescription,
	"lifestyleandcommunitydescription": fDescription,

	"propertytype": fPropertyType,
	"type":         fPropertyType,

	"priceininr": fPrice,
	"price":      fPrice,
	"cost":       fPrice,
	"amount":     fPrice,

	"askingpriceininr": fAskingPrice,
	"askingprice":      fAskingPrice,
	"listedprice":      fAskingPrice,

	"estimatedpriceininr": fEstimatedPrice,
	"estimatedprice":      fEstimatedPrice,
	"valuation":           fEstimatedPrice,
	"estimate":            fEstimatedPrice,
	"predictedprice":      fEstimatedPrice,

	"estimatedpricerange":          fPriceRange,
	"estimatedpricerangeinr":       fPriceRange,
	"estimatedpricerangeminmaxinr": fPriceRange,
	"pricerange":                   fPriceRange,
	"pricerangeinr":                fPriceRange,

	"confidencelevel": fConfidence,
	"confidence":      fConfidence,

	"justification": fJustification,
	"reason":        fJustification,
	"rationale":     fJustification,

	"location": fLocation,
	"address":  fLocation,
	"locality": fLocation,

	"size":     fSize,
	"sizesqft": fSize,
	"areasqft": fSize,
	"sqft":     fSize,

	"safetyrating": fSafety,
	"safety":       fSafety,

	"averagepriceininr": fAveragePrice,
	"averageprice":      fAveragePrice,

	"keyfeatures": fFeatures,
	"features":    fFeatures,
	"facilities":  fFeatures,

	"amenities":    fAmenities,
	"keyamenities": fAmenities,

	"highlights": fHighlights,

	"schools":                 fSchools,
	"nearbyschools":           fSchools,
	"nearbyschoolsandratings": fSchools,

	"transport":                     fTransport,
	"transportation":                fTransport,
	"connectivity":                  fTransport,
	"transportationconnectivity":    fTransport,
	"transportationandconnectivity": fTransport,
}

func fold(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize resolves the aliases of one item. When two keys map to the same
// field the first non-empty one in key order wins; Go maps have no order, so
// keys are visited sorted by their folded form for a stable result.
func Normalize(item map[string]any) Entry {
	var e Entry
	for _, key := range sortedKeys(item) {
		v := item[key]
		f, ok := aliases[fold(key)]
		if !ok {
			if v != nil {
				if e.Extra == nil {
					e.Extra = make(map[string]any)
				}
				e.Extra[key] = v
			}
			continue
		}
		switch f {
		case fFeatures:
			setList(&e.Features, v)
		case fAmenities:
			setList(&e.Amenities, v)
		case fHighlights:
			setList(&e.Highlights, v)
		case fSchools:
			setList(&e.Schools, v)
		case fTransport:
			setList(&e.Transport, v)
		default:
			setText(e.text(f), v)
		}
	}
	return e
}

func sortedKeys(item map[string]any) []string {
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(fold(a), fold(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return keys
}

func (e *Entry) text(f field) *string {
	switch f {
	case fTitle:
		return &e.Title
	case fDescription:
		return &e.Description
	case fPropertyType:
		return &e.PropertyType
	case fPrice:
		return &e.Price
	case fAskingPrice:
		return &e.AskingPrice
	case fEstimatedPrice:
		return &e.EstimatedPrice
	case fPriceRange:
		return &e.PriceRange
	case fConfidence:
		return &e.Confidence
	case fJustification:
		return &e.Justification
	case fLocation:
		return &e.Location
	case fSize:
		return &e.Size
	case fSafety:
		return &e.Safety
	case fAveragePrice:
		return &e.AveragePrice
	}
	panic(fmt.Sprintf("format: field %d is not a text field", f))
}

func setText(dst *string, v any) {
	if *dst != "" {
		return
	}
	*dst = strings.TrimSpace(Display(v))
}

func setList(dst *[]string, v any) {
	if len(*dst) > 0 {
		return
	}
	*dst = List(v)
}

// List renders a value as display lines: arrays element by element, a
// scalar as a single line, null as nothing.
func List(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := strings.TrimSpace(Display(e)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(t))
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := strings.TrimSpace(Display(t)); s != "" {
			return []string{s}
		}
		return nil
	}
}

// Display renders a decoded JSON value as text: integral numbers without
// exponent, nested values as compact JSON.
func Display(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
