package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"unlocker/internal/domain"
)

// readLinksFromFile parses a plain-text link list. Lines are either a bare
// URL or "name: url"; blank lines and lines without a URL are skipped.
func readLinksFromFile(path string) ([]domain.LinkInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open link file: %w", err)
	}
	defer f.Close()

	var links []domain.LinkInput
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if name, rest, ok := strings.Cut(line, ": "); ok {
			url := strings.TrimSpace(rest)
			if url == "" {
				continue
			}
			links = append(links, domain.LinkInput{Name: strings.TrimSpace(name), URL: url})
			continue
		}
		if !strings.Contains(line, "://") {
			continue
		}
		links = append(links, domain.LinkInput{URL: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read link file: %w", err)
	}
	return links, nil
}
