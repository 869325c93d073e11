// Package processes finds the processes keeping a path busy, to explain
// unmount and detach failures.
package processes

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/aosc-dev/mkrawimg/internal/shell"
)

// Example:
//
//	revision: 4.93.2
var lsofVersionRegexp = regexp.MustCompile(`(?m)^\s*revision:\s+(\d+)\.(\d+)\.\d+\s*$`)

type ProcessRecord struct {
	ProcessID   int
	ProcessName string
	ProcessRoot string
}

func (p ProcessRecord) String() string {
	return fmt.Sprintf("%d (%s, root=%s)", p.ProcessID, p.ProcessName, p.ProcessRoot)
}

// ListUsingPath returns the processes that have a file open under path.
func ListUsingPath(path string) ([]ProcessRecord, error) {
	versionMajor, versionMinor, err := lsofVersion()
	if err != nil {
		return nil, err
	}

	// -Q makes "no results" exit 0 instead of 1.
	qArgAvailable := versionMajor > 4 || (versionMajor == 4 && versionMinor >= 95)

	args := []string(nil)
	if qArgAvailable {
		args = append(args, "-Q")
	}
	args = append(args, "-F", "pcn", "--", path)

	stdout, _, err := shell.NewExecBuilder("lsof", args...).
		LogLevel(logrus.TraceLevel, logrus.DebugLevel).
		ExecuteCaptureOutput()
	if err != nil {
		if !qArgAvailable {
			// Without -Q the error could just mean there are no results.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list processes using path (%s):\n%w", path, err)
	}

	records := []ProcessRecord(nil)
	record := ProcessRecord{ProcessID: -1}
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		prefix := line[0]
		value := line[1:]
		switch prefix {
		case 'p':
			if record.ProcessID >= 0 {
				records = append(records, record)
			}
			record = ProcessRecord{}

			record.ProcessID, err = strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse process ID string (%s):\n%w", value, err)
			}

			// Best effort, the process may be gone already.
			record.ProcessRoot, _ = os.Readlink(fmt.Sprintf("/proc/%d/root", record.ProcessID))

		case 'c':
			record.ProcessName = value

		case 'n':
			// 'n' is only requested so the paths land in the trace logs.
		}
	}

	if record.ProcessID >= 0 {
		records = append(records, record)
	}
	return records, nil
}

func lsofVersion() (int, int, error) {
	_, stderr, err := shell.NewExecBuilder("lsof", "-v").
		LogLevel(logrus.TraceLevel, logrus.TraceLevel).
		ExecuteCaptureOutput()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get lsof's version:\n%w", err)
	}

	match := lsofVersionRegexp.FindStringSubmatch(stderr)
	if match == nil {
		return 0, 0, fmt.Errorf("failed to parse lsof version string")
	}

	major, _ := strconv.Atoi(match[1])
	minor, _ := strconv.Atoi(match[2])
	return major, minor, nil
}
