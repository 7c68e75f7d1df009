package property

import "strconv"

// Geo holds the synthetic geolocation data exposed to guests for the
// simulated client. A local debugger has no real edge POP, so the values
// are stable fakes with a plausible shape.
type Geo struct {
	ASName      string
	ASNumber    int
	City        string
	ConnSpeed   string
	Continent   string
	CountryCode string
	CountryName string
	Latitude    float64
	Longitude   float64
	Region      string
}

// DefaultGeo returns the geolocation used when the caller does not supply
// one. The ASN is from the range reserved for documentation.
func DefaultGeo() Geo {
	return Geo{
		ASName:      "wasmdbg",
		ASNumber:    64496,
		City:        "Austin",
		ConnSpeed:   "broadband",
		Continent:   "NA",
		CountryCode: "US",
		CountryName: "United States of America",
		Latitude:    30.2672,
		Longitude:   -97.7431,
		Region:      "TX",
	}
}

// Properties renders the geo fields as property values, keyed by the
// client.geo.* paths in the rule table.
func (g Geo) Properties() map[string]string {
	return map[string]string{
		"client.geo.as_name":      g.ASName,
		"client.geo.as_number":    strconv.Itoa(g.ASNumber),
		"client.geo.city":         g.City,
		"client.geo.conn_speed":   g.ConnSpeed,
		"client.geo.continent":    g.Continent,
		"client.geo.country_code": g.CountryCode,
		"client.geo.country_name": g.CountryName,
		"client.geo.latitude":     strconv.FormatFloat(g.Latitude, 'f', 4, 64),
		"client.geo.longitude":    strconv.FormatFloat(g.Longitude, 'f', 4, 64),
		"client.geo.region":       g.Region,
	}
}

// GeoPaths returns the client.geo.* paths in seeding order.
func GeoPaths() []string {
	return geoPaths
}
