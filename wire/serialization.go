package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// byteOrder is the canonical byte order of all fixed-width fields.
var byteOrder = binary.LittleEndian

// maxVarBytesLength bounds length-prefixed byte slices, so a corrupted
// length prefix cannot trigger a huge allocation.
const maxVarBytesLength = 1 << 24

func writeUint32(w io.Writer, value uint32) error {
	var buf [4]byte
	byteOrder.PutUint32(buf[:], value)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return byteOrder.Uint32(buf[:]), nil
}

func writeUint64(w io.Writer, value uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], value)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return byteOrder.Uint64(buf[:]), nil
}

func writeUvarint(w io.Writer, value uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], value)
	_, err := w.Write(buf[:n])
	return errors.WithStack(err)
}

func readUvarint(r io.Reader) (uint64, error) {
	value, err := binary.ReadUvarint(byteReader{r})
	return value, errors.WithStack(err)
}

// byteReader adapts any io.Reader to io.ByteReader for ReadUvarint.
type byteReader struct {
	r io.Reader
}

func (br byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(br.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeVarBytes(w io.Writer, data []byte) error {
	err := writeUvarint(w, uint64(len(data)))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return errors.WithStack(err)
}

func readVarBytes(r io.Reader) ([]byte, error) {
	length, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if length > maxVarBytesLength {
		return nil, errors.Errorf("variable length payload of %d bytes "+
			"exceeds the maximum of %d", length, maxVarBytesLength)
	}
	if length == 0 {
		return nil, nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

func writeBytes(w io.Writer, data []byte) error {
	_, err := w.Write(data)
	return errors.WithStack(err)
}

func readBytes(r io.Reader, data []byte) error {
	_, err := io.ReadFull(r, data)
	return errors.WithStack(err)
}
