package sampler

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// readCharCounters reads rchar and wchar from /proc/<pid>/io
func readCharCounters(pid int32) (rchar, wchar uint64, err error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/io", pid))
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "rchar":
			rchar = n
		case "wchar":
			wchar = n
		}
	}
	return rchar, wchar, scanner.Err()
}
