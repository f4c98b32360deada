/*
 * UCG collective communication engine.
 */

// Package reduceop implements the built-in reduction operators the step
// builder selects from (spec §4.3 step 5), grounded in
// original_source/builtin/ops/builtin_ops.h's ucg_op_reduce_full_f
// selection table. Each specialization is a tight loop over one Go numeric
// type; anything outside the built-in (operator, operand) matrix falls
// back to a caller-supplied transport.ReduceOperator.
package reduceop

import (
	"encoding/binary"
	"math"

	"github.com/coles-systems/ucg/wire"
)

// Func reduces count elements of src into dst in place: dst[i] = dst[i] OP
// src[i]. Both slices are raw little-endian encodings of the operand type;
// callers pick the right Func via Lookup.
type Func func(dst, src []byte, count int)

// Lookup returns the built-in specialization for (op, operand), and
// ok=false when none exists — callers must then fall back to a
// transport.ReduceOperator supplied by the embedding runtime.
func Lookup(op wire.Operator, operand wire.Operand) (Func, bool) {
	row, ok := table[operand]
	if !ok {
		return nil, false
	}
	fn, ok := row[op]
	return fn, ok
}

var table = map[wire.Operand]map[wire.Operator]Func{
	wire.OperandI32: numericTable(decodeI32, encodeI32),
	wire.OperandU32: numericTable(decodeU32, encodeU32),
	wire.OperandI64: numericTable(decodeI64, encodeI64),
	wire.OperandU64: numericTable(decodeU64, encodeU64),
	wire.OperandF32: floatTable(decodeF32, encodeF32),
	wire.OperandF64: floatTable(decodeF64, encodeF64),
}

// numericTable builds the integer operator set (sum/min/max/prod/logical/
// bitwise) for one decode/encode pair. minloc/maxloc are deliberately not
// in this table: they require a paired (value, index) encoding the source
// describes but the distilled spec never pins down a wire layout for, so
// Lookup reports ok=false for them and the step builder falls back to the
// caller's transport.ReduceOperator.
func numericTable[T int64 | uint64](decode func([]byte) T, encode func([]byte, T)) map[wire.Operator]Func {
	return map[wire.Operator]Func{
		wire.OpSum: elementwise(decode, encode, func(a, b T) T { return a + b }),
		wire.OpMin: elementwise(decode, encode, func(a, b T) T {
			if a < b {
				return a
			}
			return b
		}),
		wire.OpMax: elementwise(decode, encode, func(a, b T) T {
			if a > b {
				return a
			}
			return b
		}),
		wire.OpProd: elementwise(decode, encode, func(a, b T) T { return a * b }),
		wire.OpLand: elementwise(decode, encode, func(a, b T) T { return boolT[T](a != 0 && b != 0) }),
		wire.OpLor:  elementwise(decode, encode, func(a, b T) T { return boolT[T](a != 0 || b != 0) }),
		wire.OpBand: elementwise(decode, encode, func(a, b T) T { return a & b }),
		wire.OpBor:  elementwise(decode, encode, func(a, b T) T { return a | b }),
		wire.OpBxor: elementwise(decode, encode, func(a, b T) T { return a ^ b }),
	}
}

func boolT[T int64 | uint64](v bool) T {
	if v {
		return 1
	}
	return 0
}

func floatTable[T float32 | float64](decode func([]byte) T, encode func([]byte, T)) map[wire.Operator]Func {
	return map[wire.Operator]Func{
		wire.OpSum: elementwise(decode, encode, func(a, b T) T { return a + b }),
		wire.OpMin: elementwise(decode, encode, func(a, b T) T {
			if a < b {
				return a
			}
			return b
		}),
		wire.OpMax: elementwise(decode, encode, func(a, b T) T {
			if a > b {
				return a
			}
			return b
		}),
		wire.OpProd: elementwise(decode, encode, func(a, b T) T { return a * b }),
	}
}

func elementwise[T int64 | uint64 | float32 | float64](decode func([]byte) T, encode func([]byte, T), op func(a, b T) T) Func {
	return func(dst, src []byte, count int) {
		width := len(dst) / maxInt(count, 1)
		if width == 0 {
			return
		}
		for i := 0; i < count; i++ {
			off := i * width
			if off+width > len(dst) || off+width > len(src) {
				return
			}
			d := decode(dst[off : off+width])
			s := decode(src[off : off+width])
			encode(dst[off:off+width], op(d, s))
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func decodeI32(b []byte) int64     { return int64(int32(binary.LittleEndian.Uint32(b))) }
func encodeI32(b []byte, v int64)  { binary.LittleEndian.PutUint32(b, uint32(int32(v))) }
func decodeU32(b []byte) uint64    { return uint64(binary.LittleEndian.Uint32(b)) }
func encodeU32(b []byte, v uint64) { binary.LittleEndian.PutUint32(b, uint32(v)) }
func decodeI64(b []byte) int64     { return int64(binary.LittleEndian.Uint64(b)) }
func encodeI64(b []byte, v int64)  { binary.LittleEndian.PutUint64(b, uint64(v)) }
func decodeU64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }
func encodeU64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

func decodeF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
func encodeF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
func decodeF64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}
func encodeF64(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}
