package discovery

import (
	"errors"
	"fmt"
	"math"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// MessageType is the "type" field of every advert on the wire.
const MessageType = "advertise_tip"

// GeoHint is the sender's approximate position.
type GeoHint struct {
	Lat     float64
	Lon     float64
	RadiusM float64
}

// TipAdvert is one peer's claim about a tile's tip. Adverts are unreliable
// and idempotent: they may be lost, duplicated, or reordered.
type TipAdvert struct {
	PeerID     string
	SpaceID    string
	TileID     string
	TipEvent   string
	TipSegment addr.HashRef

	// SenderTS is the sender's clock in milliseconds. It orders adverts
	// from the same peer and is never compared with the local clock.
	SenderTS int64

	Geo  *GeoHint
	RSSI *float64
	SNR  *float64
}

// Tile returns the advertised tile.
func (a TipAdvert) Tile() world.TileKey {
	return world.TileKey{Space: a.SpaceID, Tile: a.TileID}
}

// Validate checks the advert's required fields.
func (a TipAdvert) Validate() error {
	switch {
	case a.PeerID == "":
		return errors.New("advert: missing peer_id")
	case a.TipEvent == "":
		return errors.New("advert: missing tip_event")
	case a.SenderTS <= 0:
		return errors.New("advert: ts must be positive")
	}
	if err := a.Tile().Validate(); err != nil {
		return fmt.Errorf("advert: %w", err)
	}
	if _, err := addr.ParseHashRef(string(a.TipSegment)); err != nil {
		return fmt.Errorf("advert: tip_segment: %w", err)
	}
	for name, v := range map[string]*float64{"rssi_hint": a.RSSI, "snr_hint": a.SNR} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("advert: %s is not finite", name)
		}
	}
	if g := a.Geo; g != nil {
		if g.Lat < -90 || g.Lat > 90 || g.Lon < -180 || g.Lon > 180 || g.RadiusM < 0 || math.IsNaN(g.RadiusM) {
			return errors.New("advert: geo_hint out of range")
		}
	}
	return nil
}

// Newer reports whether a supersedes b: a later sender timestamp, or the
// same timestamp with a lexicographically greater tip event.
func (a TipAdvert) Newer(b TipAdvert) bool {
	if a.SenderTS != b.SenderTS {
		return a.SenderTS > b.SenderTS
	}
	return a.TipEvent > b.TipEvent
}

// CanonicalValue returns the wire form.
func (a TipAdvert) CanonicalValue() (addr.Value, error) {
	obj := addr.Object{
		"type":        addr.String(MessageType),
		"peer_id":     addr.String(a.PeerID),
		"space_id":    addr.String(a.SpaceID),
		"tile_id":     addr.String(a.TileID),
		"tip_event":   addr.String(a.TipEvent),
		"tip_segment": addr.String(string(a.TipSegment)),
		"ts":          addr.Number(float64(a.SenderTS)),
	}
	if g := a.Geo; g != nil {
		obj["geo_hint"] = addr.Object{
			"lat":      addr.Number(g.Lat),
			"lon":      addr.Number(g.Lon),
			"radius_m": addr.Number(g.RadiusM),
		}
	}
	if a.RSSI != nil {
		obj["rssi_hint"] = addr.Number(*a.RSSI)
	}
	if a.SNR != nil {
		obj["snr_hint"] = addr.Number(*a.SNR)
	}
	return obj, nil
}

// Encode returns the canonical wire bytes.
func (a TipAdvert) Encode() ([]byte, error) {
	return addr.Canonicalize(a)
}

// ID is the content id of the advert's wire form. Identical datagrams have
// identical ids.
func (a TipAdvert) ID() (addr.HashRef, error) {
	return addr.ContentID(a)
}

// MarshalJSON writes the wire form.
func (a TipAdvert) MarshalJSON() ([]byte, error) {
	return a.Encode()
}

// UnmarshalJSON reads the wire form.
func (a *TipAdvert) UnmarshalJSON(data []byte) error {
	out, err := DecodeAdvert(data)
	if err != nil {
		return err
	}
	*a = out
	return nil
}

// DecodeAdvert parses and validates a wire message.
func DecodeAdvert(data []byte) (TipAdvert, error) {
	v, err := addr.ParseJSON(data)
	if err != nil {
		return TipAdvert{}, fmt.Errorf("advert: %w", err)
	}
	obj, ok := v.(addr.Object)
	if !ok {
		return TipAdvert{}, errors.New("advert: not an object")
	}
	if typ, _ := obj["type"].(addr.String); typ != MessageType {
		return TipAdvert{}, fmt.Errorf("advert: unexpected type %q", string(typ))
	}

	str := func(k string) string {
		s, _ := obj[k].(addr.String)
		return string(s)
	}
	num := func(o addr.Object, k string) (float64, bool) {
		n, ok := o[k].(addr.Number)
		return float64(n), ok
	}

	a := TipAdvert{
		PeerID:     str("peer_id"),
		SpaceID:    str("space_id"),
		TileID:     str("tile_id"),
		TipEvent:   str("tip_event"),
		TipSegment: addr.HashRef(str("tip_segment")),
	}
	ts, ok := num(obj, "ts")
	if !ok || ts != math.Trunc(ts) {
		return TipAdvert{}, errors.New("advert: ts must be an integer")
	}
	a.SenderTS = int64(ts)

	if raw, present := obj["geo_hint"]; present {
		g, ok := raw.(addr.Object)
		if !ok {
			return TipAdvert{}, errors.New("advert: geo_hint must be an object")
		}
		lat, okLat := num(g, "lat")
		lon, okLon := num(g, "lon")
		if !okLat || !okLon {
			return TipAdvert{}, errors.New("advert: geo_hint needs lat and lon")
		}
		radius, _ := num(g, "radius_m")
		a.Geo = &GeoHint{Lat: lat, Lon: lon, RadiusM: radius}
	}
	for k, dst := range map[string]**float64{"rssi_hint": &a.RSSI, "snr_hint": &a.SNR} {
		raw, present := obj[k]
		if !present {
			continue
		}
		n, ok := raw.(addr.Number)
		if !ok {
			return TipAdvert{}, fmt.Errorf("advert: %s must be a number", k)
		}
		f := float64(n)
		*dst = &f
	}

	if err := a.Validate(); err != nil {
		return TipAdvert{}, err
	}
	return a, nil
}
