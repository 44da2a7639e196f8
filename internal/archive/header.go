// Package archive reads and writes the NEXRAD Archive-II volume header,
// the only bytes of a Level-II file the simulation rewrites.
package archive

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// HeaderSize is the length of the volume header. Payload bytes beyond it
// are never touched.
const HeaderSize = 24

// Header is the 24-byte Archive-II volume header.
//
// Layout (all offsets after outer decompression):
//
//	0..8    ASCII version tag, e.g. "AR2V0006."   (preserved verbatim)
//	9..11   ASCII volume number, e.g. "001"       (preserved verbatim)
//	12..15  big-endian uint32 Julian date, days since 1970-01-01, ONE-based:
//	        1 = 1970-01-01. The off-by-one is a NEXRAD legacy and a classic
//	        bug source; Time and SetTime own the adjustment.
//	16..19  big-endian uint32 milliseconds past 00:00 UTC of that date
//	20..23  ASCII station id, 4 chars
type Header struct {
	Tag          [9]byte
	VolumeNumber [3]byte
	JulianDate   uint32
	Milliseconds uint32
	Station      [4]byte
}

// ReadHeader consumes exactly HeaderSize bytes from r. A short read is an
// error: the file is not a usable Archive-II volume.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("read volume header: %w", err)
	}

	var h Header
	copy(h.Tag[:], buf[0:9])
	copy(h.VolumeNumber[:], buf[9:12])
	h.JulianDate = binary.BigEndian.Uint32(buf[12:16])
	h.Milliseconds = binary.BigEndian.Uint32(buf[16:20])
	copy(h.Station[:], buf[20:24])
	return h, nil
}

// Marshal renders the header back to its wire form.
func (h Header) Marshal() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:9], h.Tag[:])
	copy(buf[9:12], h.VolumeNumber[:])
	binary.BigEndian.PutUint32(buf[12:16], h.JulianDate)
	binary.BigEndian.PutUint32(buf[16:20], h.Milliseconds)
	copy(buf[20:24], h.Station[:])
	return buf
}

// WriteTo writes the header to w.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	buf := h.Marshal()
	n, err := w.Write(buf[:])
	return int64(n), err
}

// Time returns the volume instant encoded by the date and time fields.
func (h Header) Time() time.Time {
	// JulianDate is one-based: day 1 is 1970-01-01.
	sec := int64(h.JulianDate-1)*86400 + int64(h.Milliseconds)/1000
	ns := int64(h.Milliseconds) % 1000 * int64(time.Millisecond)
	return time.Unix(sec, ns).UTC()
}

// SetTime re-encodes the date and time fields for the given UTC instant.
// Sub-second precision is preserved in the milliseconds field.
func (h *Header) SetTime(t time.Time) {
	sec := t.Unix()
	h.JulianDate = uint32(sec/86400) + 1
	h.Milliseconds = uint32(sec%86400)*1000 + uint32(t.Nanosecond()/int(time.Millisecond))
}

// SetStation overwrites the station id. The id must be exactly 4 bytes.
func (h *Header) SetStation(id string) error {
	if len(id) != len(h.Station) {
		return fmt.Errorf("station id %q: want %d bytes", id, len(h.Station))
	}
	copy(h.Station[:], id)
	return nil
}
