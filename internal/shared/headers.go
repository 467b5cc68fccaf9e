// Utilities for parsing request headers given on the command line.
package shared

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var curlHeaderRegex = regexp.MustCompile(`-H\s+'([^']+)'|-H\s+"([^"]+)"`)

// ParseHeaders parses "Key: Value" lines into a header map.
//
// Keys and values are trimmed; a line without a colon is an error.
// Later duplicates win.
func ParseHeaders(lines []string) (map[string]string, error) {
	headers := make(map[string]string, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: header %q must look like 'Key: Value'", ErrInvalidArgument, line)
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers, nil
}

// ParseCurlHeaders extracts -H headers from a copied cURL command, so a browser request can be replayed for a download.
func ParseCurlHeaders(curlCmd string) (map[string]string, error) {
	curlCmd = strings.ReplaceAll(curlCmd, "\\\n", " ")

	var lines []string
	for _, match := range curlHeaderRegex.FindAllStringSubmatch(curlCmd, -1) {
		if match[1] != "" {
			lines = append(lines, match[1])
		} else {
			lines = append(lines, match[2])
		}
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no headers found in curl command", ErrInvalidInput)
	}
	return ParseHeaders(lines)
}

// FormatHeaders renders headers as sorted "Key: Value" lines.
func FormatHeaders(headers map[string]string) []string {
	lines := make([]string, 0, len(headers))
	for key, value := range headers {
		lines = append(lines, fmt.Sprintf("%s: %s", key, value))
	}
	slices.Sort(lines)
	return lines
}
