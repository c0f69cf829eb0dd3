// Package endian selects the byte order of replicate archive payloads and
// packs float64 columns with it.
//
// Archives are written little-endian unless asked otherwise; the header records
// the order so a reader on any host decodes them the same way.
//
//	engine := endian.GetLittleEndianEngine()
//	buf = endian.AppendFloat64s(engine, buf, column)
package endian

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/nanalysis/ringfit/format"
)

// EndianEngine combines binary.ByteOrder and binary.AppendByteOrder. Both
// binary.LittleEndian and binary.BigEndian satisfy it.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Native reports the host byte order.
func Native() format.ByteOrder {
	var i uint16 = 0x0100
	b := (*[2]byte)(unsafe.Pointer(&i))
	if b[0] == 0x01 {
		return format.BigEndian
	}

	return format.LittleEndian
}

// GetLittleEndianEngine returns the little-endian engine.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the big-endian engine.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}

// Engine returns the engine for an archive byte order tag.
func Engine(order format.ByteOrder) (EndianEngine, error) {
	switch order {
	case format.LittleEndian:
		return binary.LittleEndian, nil
	case format.BigEndian:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unsupported byte order: %s", order)
	}
}

// Order returns the archive tag of engine.
func Order(engine EndianEngine) format.ByteOrder {
	if engine == EndianEngine(binary.BigEndian) {
		return format.BigEndian
	}

	return format.LittleEndian
}

// AppendFloat64s appends the IEEE-754 bits of vals to buf.
func AppendFloat64s(engine EndianEngine, buf []byte, vals []float64) []byte {
	for _, v := range vals {
		buf = engine.AppendUint64(buf, math.Float64bits(v))
	}

	return buf
}

// ReadFloat64s decodes len(dst) values from the front of buf and returns the
// remaining bytes.
func ReadFloat64s(engine EndianEngine, buf []byte, dst []float64) ([]byte, error) {
	if len(buf) < 8*len(dst) {
		return nil, fmt.Errorf("need %d bytes for %d values, have %d", 8*len(dst), len(dst), len(buf))
	}
	for i := range dst {
		dst[i] = math.Float64frombits(engine.Uint64(buf[8*i:]))
	}

	return buf[8*len(dst):], nil
}
