package walstore

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/821684824/raftcore/utils/pd"
)

const frameSizeBytes = 8

var crcTable = crc32.MakeTable(crc32.Castagnoli)

type encoder struct {
	file *os.File
}

func makeEncoder(file *os.File) *encoder {
	return &encoder{file: file}
}

// encode frame one record: little-endian length, gob body, zero
// padding up to the frame size.
func (e *encoder) encode(rec *record) error {
	rec.Crc = crc32.Checksum(rec.Data, crcTable)
	bytes, err := pd.Marshal(rec)
	if err != nil {
		return err
	}

	length := int32(len(bytes))
	if err := binary.Write(e.file, binary.LittleEndian, length); err != nil {
		return err
	}
	paddingBytes := ceil(length, frameSizeBytes)*frameSizeBytes - length
	padding := make([]byte, paddingBytes)
	if _, err := e.file.Write(bytes); err != nil {
		return err
	}
	if _, err := e.file.Write(padding); err != nil {
		return err
	}
	return nil
}

func (e *encoder) flush() error {
	return e.file.Sync()
}

func ceil(length int32, padding int32) int32 {
	return (length + padding - 1) / padding
}
