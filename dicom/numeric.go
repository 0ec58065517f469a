package dicom

import (
	"encoding/binary"
	"math"
)

func checkMultiple(tag Tag, vr string, raw []byte, width int) error {
	if len(raw)%width != 0 {
		return newCodecError(tag, vr, "invalid_length: value not a multiple of element width")
	}
	return nil
}

func decodeUint16s(tag Tag, vr string, raw []byte, order binary.ByteOrder) ([]uint16, error) {
	if err := checkMultiple(tag, vr, raw, 2); err != nil {
		return nil, err
	}
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = order.Uint16(raw[i*2 : i*2+2])
	}
	return out, nil
}

func decodeInt16s(tag Tag, vr string, raw []byte, order binary.ByteOrder) ([]int16, error) {
	if err := checkMultiple(tag, vr, raw, 2); err != nil {
		return nil, err
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(order.Uint16(raw[i*2 : i*2+2]))
	}
	return out, nil
}

func decodeUint32s(tag Tag, vr string, raw []byte, order binary.ByteOrder) ([]uint32, error) {
	if err := checkMultiple(tag, vr, raw, 4); err != nil {
		return nil, err
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = order.Uint32(raw[i*4 : i*4+4])
	}
	return out, nil
}

func decodeInt32s(tag Tag, vr string, raw []byte, order binary.ByteOrder) ([]int32, error) {
	if err := checkMultiple(tag, vr, raw, 4); err != nil {
		return nil, err
	}
	out := make([]int32, len(raw)/4)
	for i := range out {
		out[i] = int32(order.Uint32(raw[i*4 : i*4+4]))
	}
	return out, nil
}

func decodeUint64s(tag Tag, vr string, raw []byte, order binary.ByteOrder) ([]uint64, error) {
	if err := checkMultiple(tag, vr, raw, 8); err != nil {
		return nil, err
	}
	out := make([]uint64, len(raw)/8)
	for i := range out {
		out[i] = order.Uint64(raw[i*8 : i*8+8])
	}
	return out, nil
}

func decodeInt64s(tag Tag, vr string, raw []byte, order binary.ByteOrder) ([]int64, error) {
	if err := checkMultiple(tag, vr, raw, 8); err != nil {
		return nil, err
	}
	out := make([]int64, len(raw)/8)
	for i := range out {
		out[i] = int64(order.Uint64(raw[i*8 : i*8+8]))
	}
	return out, nil
}

func decodeFloat32s(tag Tag, vr string, raw []byte, order binary.ByteOrder) ([]float32, error) {
	if err := checkMultiple(tag, vr, raw, 4); err != nil {
		return nil, err
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(order.Uint32(raw[i*4 : i*4+4]))
	}
	return out, nil
}

func decodeFloat64s(tag Tag, vr string, raw []byte, order binary.ByteOrder) ([]float64, error) {
	if err := checkMultiple(tag, vr, raw, 8); err != nil {
		return nil, err
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(raw[i*8 : i*8+8]))
	}
	return out, nil
}

// encodeNumeric renders a decoded numeric slice back to wire bytes in the
// given byte order. Values produced outside this package (e.g. by a
// service handler constructing a response dataset) may also arrive as
// plain Go scalars or slices of the matching width; both shapes are
// accepted.
func encodeNumeric(vr string, value interface{}, order binary.ByteOrder) []byte {
	switch vr {
	case VR_US:
		return encodeUint16s(toUint16Slice(value), order)
	case VR_SS:
		return encodeInt16s(toInt16Slice(value), order)
	case VR_UL:
		return encodeUint32s(toUint32Slice(value), order)
	case VR_SL:
		return encodeInt32s(toInt32Slice(value), order)
	case VR_FL:
		return encodeFloat32s(toFloat32Slice(value), order)
	case VR_FD:
		return encodeFloat64s(toFloat64Slice(value), order)
	case VR_UV:
		return encodeUint64s(toUint64Slice(value), order)
	case VR_SV:
		return encodeInt64s(toInt64Slice(value), order)
	default:
		return nil
	}
}

func encodeUint16s(v []uint16, order binary.ByteOrder) []byte {
	out := make([]byte, len(v)*2)
	for i, x := range v {
		order.PutUint16(out[i*2:], x)
	}
	return out
}

func encodeInt16s(v []int16, order binary.ByteOrder) []byte {
	out := make([]byte, len(v)*2)
	for i, x := range v {
		order.PutUint16(out[i*2:], uint16(x))
	}
	return out
}

func encodeUint32s(v []uint32, order binary.ByteOrder) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		order.PutUint32(out[i*4:], x)
	}
	return out
}

func encodeInt32s(v []int32, order binary.ByteOrder) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		order.PutUint32(out[i*4:], uint32(x))
	}
	return out
}

func encodeUint64s(v []uint64, order binary.ByteOrder) []byte {
	out := make([]byte, len(v)*8)
	for i, x := range v {
		order.PutUint64(out[i*8:], x)
	}
	return out
}

func encodeInt64s(v []int64, order binary.ByteOrder) []byte {
	out := make([]byte, len(v)*8)
	for i, x := range v {
		order.PutUint64(out[i*8:], uint64(x))
	}
	return out
}

func encodeFloat32s(v []float32, order binary.ByteOrder) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		order.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}

func encodeFloat64s(v []float64, order binary.ByteOrder) []byte {
	out := make([]byte, len(v)*8)
	for i, x := range v {
		order.PutUint64(out[i*8:], math.Float64bits(x))
	}
	return out
}

func toUint16Slice(v interface{}) []uint16 {
	switch x := v.(type) {
	case []uint16:
		return x
	case uint16:
		return []uint16{x}
	case int:
		return []uint16{uint16(x)}
	default:
		return nil
	}
}

func toInt16Slice(v interface{}) []int16 {
	switch x := v.(type) {
	case []int16:
		return x
	case int16:
		return []int16{x}
	case int:
		return []int16{int16(x)}
	default:
		return nil
	}
}

func toUint32Slice(v interface{}) []uint32 {
	switch x := v.(type) {
	case []uint32:
		return x
	case uint32:
		return []uint32{x}
	case int:
		return []uint32{uint32(x)}
	default:
		return nil
	}
}

func toInt32Slice(v interface{}) []int32 {
	switch x := v.(type) {
	case []int32:
		return x
	case int32:
		return []int32{x}
	case int:
		return []int32{int32(x)}
	default:
		return nil
	}
}

func toUint64Slice(v interface{}) []uint64 {
	switch x := v.(type) {
	case []uint64:
		return x
	case uint64:
		return []uint64{x}
	case int:
		return []uint64{uint64(x)}
	default:
		return nil
	}
}

func toInt64Slice(v interface{}) []int64 {
	switch x := v.(type) {
	case []int64:
		return x
	case int64:
		return []int64{x}
	case int:
		return []int64{int64(x)}
	default:
		return nil
	}
}

func toFloat32Slice(v interface{}) []float32 {
	switch x := v.(type) {
	case []float32:
		return x
	case float32:
		return []float32{x}
	default:
		return nil
	}
}

func toFloat64Slice(v interface{}) []float64 {
	switch x := v.(type) {
	case []float64:
		return x
	case float64:
		return []float64{x}
	default:
		return nil
	}
}
