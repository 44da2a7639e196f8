// Package domain models Displaced Real-Time (DRT) radar simulation sessions.
//
// # Displaced Real-Time
//
// A DRT simulation replays a historical severe-weather event as though it
// were happening now, with a fixed temporal offset. The session picks a
// playback start of "now minus two hours"; every artifact the session
// publishes (NEXRAD Level-II volume scans, placefile overlays, hodograph
// images) is re-timed by the session-constant shift
//
//	Δt = playback_start − event_start
//
// so a GR2Analyst client polling the session's directories sees a coherent
// "live" storm running two hours behind wall clock.
//
// # NEXRAD Archive-II conventions
//
// Volume files in the public Level-II store are named
//
//	SSSSyyyymmdd_HHMMSS[.suffix]   e.g. KGRR20230824_233004_V06
//
// where SSSS is the 4-character ICAO station id and the 15-character
// datetime substring at offset 4 is the authoritative volume time (UTC,
// whole seconds). Store keys are prefixed YYYY/MM/DD/SSSS/. Only suffixes
// V06, V08 and .gz denote Level-II volumes; tarballs and legacy formats
// share the same prefixes and are ignored.
//
// Each volume file begins, after outer decompression, with a 24-byte volume
// header: a 9-byte version tag, a 3-byte volume number, a big-endian Julian
// date (days since 1970-01-01, one-based: 1 = 1970-01-01), big-endian
// milliseconds past midnight UTC, and the 4-byte station id. The munge
// operation rewrites only this header; product-level timestamps deeper in
// the message segments are left alone, which rendering clients accept.
//
// # Transposition
//
// When a session selects a destination radar different from the source, all
// geographic artifacts are moved so that each point keeps the same
// great-circle range and bearing from the destination radar that it held
// from the source radar. Coordinates use a spherical earth of radius
// 6 378 137 m; the error over placefile distances is well under the one
// metre the displays can resolve.
//
// # Radar site catalog
//
// The WSR-88D site catalog (ICAO, latitude, longitude, and two companion
// ASOS surface stations used for hodograph ground truth) is embedded at
// build time and immutable after load.
package domain
