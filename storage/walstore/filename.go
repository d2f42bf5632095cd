package walstore

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

var errBadWalName = errors.New("walstore: bad wal name")

func parseWalName(str string) (seq, index uint64, err error) {
	if !strings.HasSuffix(str, ".wal") {
		return 0, 0, errBadWalName
	}
	_, err = fmt.Sscanf(str, "%016x-%016x.wal", &seq, &index)
	return seq, index, err
}

func walName(seq, index uint64) string {
	return fmt.Sprintf("%016x-%016x.wal", seq, index)
}

// readWalNames return the wal file names in dir in sequence order,
// skipping anything that does not parse.
func readWalNames(dir string) ([]string, error) {
	names, err := readDir(dir)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(names))
	for _, name := range names {
		if _, _, err := parseWalName(name); err != nil {
			continue
		}
		result = append(result, name)
	}
	return result, nil
}

func isValidSequences(names []string) bool {
	var lastSeq uint64
	for i, name := range names {
		curSeq, _, err := parseWalName(name)
		if err != nil {
			return false
		}
		if i > 0 && lastSeq != curSeq-1 {
			return false
		}
		lastSeq = curSeq
	}
	return true
}

// readDir returns the filenames in the given directory in sorted order.
func readDir(dirPath string) ([]string, error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, err
	}
	defer dir.Close()
	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
