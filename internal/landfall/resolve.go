package landfall

import (
	"math"

	"github.com/couchcryptid/ar-landfall/internal/domain"
)

// Candidate is one continent's overlap with an AR and the landfall found on
// it. Found is false when the landfall search failed or was skipped.
type Candidate struct {
	Proportion float64
	Max        Max
	Found      bool
}

// Resolve picks the landfall continent. Priority is ascending: every
// continent with a positive proportion overwrites the previous choice, so
// the last one in priority order wins, whether or not its landfall was
// found. Overlap size plays no part. Without any overlap the result is a
// missing landfall with no continent.
func Resolve(priority []string, byName map[string]Candidate) domain.Landfall {
	lf := Missing("")
	for _, name := range priority {
		c, ok := byName[name]
		if !ok || !(c.Proportion > 0) {
			continue
		}
		if !c.Found {
			lf = Missing(name)
			continue
		}
		lf = domain.Landfall{
			Continent: name,
			Lon:       c.Max.Lon,
			Lat:       c.Max.Lat,
			Intensity: c.Max.Value,
			Found:     true,
		}
	}
	return lf
}

// Missing returns a landfall on continent with no location or intensity.
func Missing(continent string) domain.Landfall {
	return domain.Landfall{
		Continent: continent,
		Lon:       math.NaN(),
		Lat:       math.NaN(),
		Intensity: math.NaN(),
	}
}
