package packet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeVectors writes rows of float32 vectors to w as little-endian
// binary16 values, row-major, with no header: dimension and row count live
// in the manifest (dimension is fixed per packet).
func EncodeVectors(w io.Writer, rows [][]float32) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 2)
	for _, row := range rows {
		for _, v := range row {
			binary.LittleEndian.PutUint16(buf, float32ToFloat16(v))
			if _, err := bw.Write(buf); err != nil {
				return fmt.Errorf("packet: writing vector row: %w", err)
			}
		}
	}
	return bw.Flush()
}

// DecodeVectors reads n rows of dim float16 values each from r and expands
// them to float32.
func DecodeVectors(r io.Reader, n, dim int) ([][]float32, error) {
	br := bufio.NewReader(r)
	raw := make([]byte, 2*dim)
	rows := make([][]float32, n)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("packet: reading vector row %d: %w", i, err)
		}
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			row[j] = float16ToFloat32(binary.LittleEndian.Uint16(raw[2*j : 2*j+2]))
		}
		rows[i] = row
	}
	return rows, nil
}
