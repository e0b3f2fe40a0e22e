package service

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// maxURLLine bounds a single line of an uploaded URL list.
const maxURLLine = 64 * 1024

// ParseURLList reads one URL per line. Blank lines and lines starting with '#'
// are skipped.
func ParseURLList(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxURLLine)

	var urls []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: url list is empty", crawler.ErrInvalidRequest)
	}
	return urls, nil
}
