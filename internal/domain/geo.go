package domain

import "math"

// EarthRadiusM is the spherical earth radius used for all transposition
// math. WGS-84 equatorial radius; adequate at placefile scales.
const EarthRadiusM = 6378137.0

// RangeBearing returns the great-circle distance in metres and the initial
// bearing in radians from (lat1, lon1) to (lat2, lon2), degrees in.
func RangeBearing(lat1, lon1, lat2, lon2 float64) (rangeM, bearingRad float64) {
	φ1 := lat1 * math.Pi / 180
	λ1 := lon1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	λ2 := lon2 * math.Pi / 180

	dφ := φ2 - φ1
	dλ := λ2 - λ1

	// Haversine; a can drift a hair negative at zero distance.
	a := math.Sin(dφ/2)*math.Sin(dφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	if a < 0 {
		a = 0
	}
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	bearing := math.Atan2(
		math.Sin(dλ)*math.Cos(φ2),
		math.Cos(φ1)*math.Sin(φ2)-math.Sin(φ1)*math.Cos(φ2)*math.Cos(dλ),
	)
	return EarthRadiusM * c, bearing
}

// Destination returns the point rangeM metres from (lat, lon) along the
// initial bearing bearingRad. Degrees in, degrees out, longitude normalized
// to (-180, 180].
func Destination(lat, lon, rangeM, bearingRad float64) (outLat, outLon float64) {
	φ1 := lat * math.Pi / 180
	λ1 := lon * math.Pi / 180
	δ := rangeM / EarthRadiusM

	φ2 := math.Asin(math.Sin(φ1)*math.Cos(δ) + math.Cos(φ1)*math.Sin(δ)*math.Cos(bearingRad))
	λ2 := λ1 + math.Atan2(
		math.Sin(bearingRad)*math.Sin(δ)*math.Cos(φ1),
		math.Cos(δ)-math.Sin(φ1)*math.Sin(φ2),
	)

	outLat = φ2 * 180 / math.Pi
	outLon = λ2 * 180 / math.Pi
	for outLon <= -180 {
		outLon += 360
	}
	for outLon > 180 {
		outLon -= 360
	}
	return outLat, outLon
}

// Transpose moves a point so its range and bearing from the destination
// radar equal those it held from the source radar.
func Transpose(lat, lon float64, from, to RadarSite) (outLat, outLon float64) {
	rangeM, bearing := RangeBearing(from.Lat, from.Lon, lat, lon)
	return Destination(to.Lat, to.Lon, rangeM, bearing)
}
