package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/dnogares/web-sub001/internal/loader"
	"github.com/paulmach/orb"
)

// acceptedTypes are the GeoJSON document types a parcel may be sent as.
var acceptedTypes = map[string]bool{
	"Polygon":            true,
	"MultiPolygon":       true,
	"Point":              true,
	"MultiPoint":         true,
	"LineString":         true,
	"MultiLineString":    true,
	"GeometryCollection": true,
	"Feature":            true,
	"FeatureCollection":  true,
}

// ParcelGeometry is a parcel as received from a caller: a GeoJSON geometry,
// Feature or FeatureCollection. The raw document is kept so that it can be
// decoded in the declared CRS later.
type ParcelGeometry struct {
	Type string
	Raw  json.RawMessage
}

// UnmarshalJSON accepts any GeoJSON object of a supported type.
func (p *ParcelGeometry) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("failed to unmarshal parcel geometry: %w", err)
	}
	if !acceptedTypes[head.Type] {
		return fmt.Errorf("unsupported GeoJSON type %q", head.Type)
	}
	p.Type = head.Type
	p.Raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

// MarshalJSON returns the document as received.
func (p ParcelGeometry) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("null"), nil
	}
	return p.Raw, nil
}

// Decode merges every part of the document and reprojects it from srid to
// EPSG:4326. srid 0 means EPSG:4326. A document without geometry fails with
// loader.ErrEmpty.
func (p ParcelGeometry) Decode(srid int) (orb.Geometry, error) {
	crs := geo.Canonical
	if srid != 0 {
		crs = geo.EPSG(srid)
	}
	return loader.DecodeParcel(p.Raw, crs)
}

// AnalyzeRequest is the body of an analysis request.
type AnalyzeRequest struct {
	ParcelID string          `json:"parcel_id" binding:"required,max=128"`
	Geometry *ParcelGeometry `json:"geometry" binding:"required"`
	SRID     int             `json:"srid" binding:"omitempty,min=1"`
}
