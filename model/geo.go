package model

import (
	"bytes"
	"encoding/binary"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lon float64
	Lat float64
}

const (
	wkbLineString      = 2
	wkbMultiLineString = 5
)

// EncodeWKBMultiLineString encodes route shapes as little-endian WKB.
// The database ingests the bytes directly via ST_GeomFromWKB.
func EncodeWKBMultiLineString(lines [][]Point) []byte {
	if len(lines) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.WriteByte(1) // little-endian
	binary.Write(buf, binary.LittleEndian, uint32(wkbMultiLineString))
	binary.Write(buf, binary.LittleEndian, uint32(len(lines)))
	for _, line := range lines {
		buf.WriteByte(1)
		binary.Write(buf, binary.LittleEndian, uint32(wkbLineString))
		binary.Write(buf, binary.LittleEndian, uint32(len(line)))
		for _, p := range line {
			binary.Write(buf, binary.LittleEndian, p.Lon)
			binary.Write(buf, binary.LittleEndian, p.Lat)
		}
	}
	return buf.Bytes()
}
