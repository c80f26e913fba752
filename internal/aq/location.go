package aq

import "strings"

// locationIDPrecision is the geohash length used for location identity.
// Ten characters give a cell of roughly 1.2 m x 0.6 m, so two devices at the
// same physical spot share a locationID even if their firmware-reported ids
// differ, while moving a device yields a new locationID and therefore a new
// deployment.
const locationIDPrecision = 10

const geohashBase32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// LocationID encodes a point into the spatial identity key.
func LocationID(lon, lat float64) string {
	return encodeGeohash(lat, lon, locationIDPrecision)
}

// DeviceID builds a vendor-prefixed device identifier, e.g. "pa.76545".
func DeviceID(prefix, nativeID string) string {
	return prefix + "." + nativeID
}

// DeviceDeploymentID composes the durable primary key for one physical
// deployment of a device.
func DeviceDeploymentID(locationID, deviceID string) string {
	return locationID + "_" + deviceID
}

// ValidCoordinates reports whether a point is a plausible WGS84 coordinate.
func ValidCoordinates(lon, lat float64) bool {
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

func encodeGeohash(lat, lon float64, precision int) string {
	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0

	var sb strings.Builder
	sb.Grow(precision)

	bits := 0
	ch := 0
	even := true
	for sb.Len() < precision {
		if even {
			mid := (lonMin + lonMax) / 2
			if lon >= mid {
				ch = ch<<1 | 1
				lonMin = mid
			} else {
				ch <<= 1
				lonMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if lat >= mid {
				ch = ch<<1 | 1
				latMin = mid
			} else {
				ch <<= 1
				latMax = mid
			}
		}
		even = !even
		bits++
		if bits == 5 {
			sb.WriteByte(geohashBase32[ch])
			bits, ch = 0, 0
		}
	}
	return sb.String()
}
