package intent

import "strings"

// supportedCities are the city slugs providers currently operate in.
var supportedCities = map[string]bool{
	"guangzhou": true,
	"hainan":    true,
}

// subLocalityAliases maps district/neighborhood names to their parent city
// slug. Checked before the generic city table so that e.g. "tianhe"
// resolves to guangzhou instead of being treated as an unknown city.
var subLocalityAliases = map[string]string{
	// Guangzhou districts
	"tianhe":   "guangzhou",
	"baiyun":   "guangzhou",
	"panyu":    "guangzhou",
	"yuexiu":   "guangzhou",
	"haizhu":   "guangzhou",
	"liwan":    "guangzhou",
	"huangpu":  "guangzhou",
	"canton":   "guangzhou",
	// Hainan localities
	"sanya":     "hainan",
	"haikou":    "hainan",
	"dadonghai": "hainan",
	"yalong":    "hainan",
}

// knownCities is the generic recognition table, including cities we do not
// serve; recognizing them is what lets the guard answer precisely.
var knownCities = []string{
	"guangzhou", "hainan", "shanghai", "beijing", "shenzhen",
	"yiwu", "hangzhou", "chengdu", "xiamen", "foshan",
}

// ResolveCity scans free text for a locality. Sub-locality aliases win over
// the generic table; the returned slug is always the parent city.
func ResolveCity(text string) string {
	lower := strings.ToLower(text)
	for alias, parent := range subLocalityAliases {
		if strings.Contains(lower, alias) {
			return parent
		}
	}
	for _, city := range knownCities {
		if strings.Contains(lower, city) {
			return city
		}
	}
	return ""
}

// CitySupported reports whether the slug is in the serviceable set.
func CitySupported(city string) bool {
	return supportedCities[city]
}

const unavailableReply = "Sorry, we are not yet available in that city. " +
	"We currently serve Guangzhou and Hainan - happy to help you there!"

// Guard short-circuits bookable intents aimed at unsupported cities. It
// must run after classification and before any catalog call so unsupported
// cities never cost a provider request. Returns "" when routing may proceed.
func Guard(it Classification) string {
	if !it.Intent.Bookable() {
		return ""
	}
	if it.City == "" || CitySupported(it.City) {
		return ""
	}
	return unavailableReply
}
