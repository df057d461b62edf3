package driver

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/acarl005/stripansi"
)

// FetchErrorLog returns the tail of the most relevant driver output file,
// prefixed with a header naming the file. Stderr is preferred, then stdout,
// then the configured logfile. Returns nil when no file yields content.
func (d *Driver) FetchErrorLog() []string {
	for _, path := range []string{d.ErrPath, d.OutPath, d.LogPath} {
		if path == "" {
			continue
		}
		lines, err := tailFile(path, d.cfg.ErrorLogsMaxLines)
		if err != nil || len(lines) == 0 {
			continue
		}
		out := make([]string, 0, len(lines)+1)
		out = append(out, fmt.Sprintf("Information from log file: %s", path))
		for _, line := range lines {
			out = append(out, stripansi.Strip(line))
		}
		return out
	}
	return nil
}

// tailFile reads the last maxLines lines of the file at path. Instead of
// scanning the whole file it seeks near the end, reading just enough trailing
// blocks to cover the requested line count. maxLines <= 0 returns every line.
func tailFile(path string, maxLines int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var offset int64
	if maxLines > 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		// Assume lines under 512 bytes on average; one spare block covers a
		// partial first line at the seek point.
		blockSize := int64(maxLines) * 512
		if blocks := info.Size() / blockSize; blocks > 1 {
			offset = (blocks - 1) * blockSize
		}
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
