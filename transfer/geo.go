package transfer

import (
	"encoding/json"

	"github.com/ll2l/indexcopy/client"
)

// TransformGeo rewrites every geography point in the source shape
//
//	{"Latitude": 47.6, "Longitude": -122.1, "IsEmpty": false, "CoordinateSystem": {...}}
//
// into the GeoJSON shape the upload endpoint accepts
//
//	{"type": "Point", "coordinates": [-122.1, 47.6]}
//
// The point may sit at any depth, including inside collections. Points that
// are already GeoJSON are left alone, so the transform is idempotent. It
// returns the number of points rewritten.
func TransformGeo(doc client.Document) int {
	n := 0
	for k, v := range doc {
		var c int
		doc[k], c = transformValue(v)
		n += c
	}
	return n
}

func transformValue(v interface{}) (interface{}, int) {
	switch t := v.(type) {
	case map[string]interface{}:
		if p, ok := geoPoint(t); ok {
			return p, 1
		}
		n := 0
		for k, child := range t {
			var c int
			t[k], c = transformValue(child)
			n += c
		}
		return t, n
	case client.Document:
		return t, TransformGeo(t)
	case []interface{}:
		n := 0
		for i, child := range t {
			var c int
			t[i], c = transformValue(child)
			n += c
		}
		return t, n
	}
	return v, 0
}

// pointKeys are the members of a serialized geography point. An object with
// any other member is a complex field that happens to carry coordinates.
var pointKeys = map[string]bool{
	"Latitude":         true,
	"Longitude":        true,
	"CoordinateSystem": true,
	"IsEmpty":          true,
	"Z":                true,
	"M":                true,
}

// geoPoint converts m when it has the geography point shape: Latitude,
// Longitude and CoordinateSystem, and nothing but point members. An empty
// point (null coordinates) becomes null.
func geoPoint(m map[string]interface{}) (interface{}, bool) {
	latV, hasLat := m["Latitude"]
	lonV, hasLon := m["Longitude"]
	_, hasCRS := m["CoordinateSystem"]
	if !hasLat || !hasLon || !hasCRS {
		return nil, false
	}
	for k := range m {
		if !pointKeys[k] {
			return nil, false
		}
	}
	if latV == nil && lonV == nil {
		return nil, true
	}

	lat, ok := coordinate(latV)
	if !ok {
		return nil, false
	}
	lon, ok := coordinate(lonV)
	if !ok {
		return nil, false
	}

	return map[string]interface{}{
		"type":        "Point",
		"coordinates": []interface{}{lon, lat},
	}, true
}

func coordinate(v interface{}) (interface{}, bool) {
	switch v.(type) {
	case json.Number, float64, float32, int, int64:
		return v, true
	}
	return nil, false
}
