package discovery

// NeutralConfidence is assigned when an advert carries no signal hints.
const NeutralConfidence = 0.5

type band struct {
	floor float64
	value float64
}

// Bands are checked top-down; the first floor the reading meets wins.
var (
	rssiBands = []band{{-50, 1.0}, {-60, 0.85}, {-70, 0.7}, {-80, 0.5}, {-90, 0.3}}
	snrBands  = []band{{20, 1.0}, {10, 0.75}, {5, 0.5}, {0, 0.25}}
	geoBonus  = []struct{ within, bonus float64 }{{10, 0.15}, {100, 0.1}, {1000, 0.05}}
)

const bandFloorValue = 0.1

func banded(reading float64, bands []band) float64 {
	for _, b := range bands {
		if reading >= b.floor {
			return b.value
		}
	}
	return bandFloorValue
}

// Confidence scores an advert's signal hints into [0, 1]. RSSI (dBm) and
// SNR (dB) map into bands and are averaged when both are present; a tight
// geo radius adds a bonus. An advert without radio hints starts at
// NeutralConfidence.
func Confidence(a TipAdvert) float64 {
	var sum float64
	var n int
	if a.RSSI != nil {
		sum += banded(*a.RSSI, rssiBands)
		n++
	}
	if a.SNR != nil {
		sum += banded(*a.SNR, snrBands)
		n++
	}

	c := NeutralConfidence
	if n > 0 {
		c = sum / float64(n)
	}
	if a.Geo != nil {
		for _, g := range geoBonus {
			if a.Geo.RadiusM <= g.within {
				c += g.bonus
				break
			}
		}
	}
	return clamp01(c)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
