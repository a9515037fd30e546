package processor

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// rollbackData is the undo log of one applied block: the multiplicity
// each input's UTXO entry carried before it was decremented, in input
// order. Together with the stored body it is sufficient to invert the
// apply exactly; the kernels to remove and the outputs to decrement are
// read from the body itself.
type rollbackData struct {
	priorMultiplicities []uint32
}

func (rd *rollbackData) serialize(w io.Writer) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(rd.priorMultiplicities)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return errors.WithStack(err)
	}
	var buf [4]byte
	for _, prior := range rd.priorMultiplicities {
		binary.LittleEndian.PutUint32(buf[:], prior)
		if _, err := w.Write(buf[:]); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (rd *rollbackData) bytes() []byte {
	var buf bytes.Buffer
	if err := rd.serialize(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func deserializeRollbackData(data []byte) (*rollbackData, error) {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if count > uint64(r.Len()/4) {
		return nil, errors.Errorf("undo log declares %d entries in %d bytes", count, r.Len())
	}

	rd := &rollbackData{priorMultiplicities: make([]uint32, count)}
	var buf [4]byte
	for i := range rd.priorMultiplicities {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, errors.WithStack(err)
		}
		rd.priorMultiplicities[i] = binary.LittleEndian.Uint32(buf[:])
	}
	return rd, nil
}
