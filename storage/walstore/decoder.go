package walstore

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/821684824/raftcore/utils/pd"
)

type decoder struct {
	brs []*bufio.Reader

	// off is the number of bytes consumed from the current reader up
	// to the last complete record. Once replay finishes it marks
	// where valid data ends in the tail file.
	off int64
}

func makeDecoder(files []*os.File) *decoder {
	readers := make([]*bufio.Reader, len(files))
	for i := range files {
		readers[i] = bufio.NewReader(files[i])
	}
	return &decoder{brs: readers}
}

func (d *decoder) decode(rec *record) error {
	rec.Reset()
	if len(d.brs) == 0 {
		return io.EOF
	}

	length, err := readInt32(d.brs[0])
	if err == io.EOF || (err == nil && length == 0) {
		// hit end of file or preallocated space
		d.brs = d.brs[1:]
		if len(d.brs) == 0 {
			return io.EOF
		}
		d.off = 0
		return d.decode(rec)
	}
	if err != nil {
		return err
	}

	paddingBytes := ceil(length, frameSizeBytes)*frameSizeBytes - length
	data := make([]byte, length+paddingBytes)
	if _, err = io.ReadFull(d.brs[0], data); err != nil {
		// ReadFull returns io.EOF only if no bytes were read,
		// treat that as a truncated record instead.
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	if err := pd.Unmarshal(rec, data[:length]); err != nil {
		return err
	}

	crc := crc32.Checksum(rec.Data, crcTable)
	if rec.Crc != crc {
		return ErrCRCMismatch
	}

	d.off += 4 + int64(len(data))
	return nil
}

func readInt32(r io.Reader) (int32, error) {
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	return n, err
}
