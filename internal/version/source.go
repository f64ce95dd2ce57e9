package version

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ZipMarker is the HTML comment placed on the site front page directly before
// the name of the current distribution zip.
const ZipMarker = "checker-framework-zip-version"

// ErrVersionNotFound is returned when a page or file carries no release number.
var ErrVersionNotFound = errors.New("version: release number not found")

var (
	zipNamePattern  = regexp.MustCompile(`^\s*checker-framework-(.+)\.zip`)
	propertyPattern = regexp.MustCompile(`^\s*build\.version\s*=\s*(\S+)\s*$`)
)

// FromWebsite fetches the site front page and extracts the version of the
// currently published distribution.
func FromWebsite(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("version: build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("version: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("version: fetch %s: unexpected status %s", url, resp.Status)
	}
	v, err := FromHTML(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w on %s", err, url)
	}
	return v, nil
}

// FromHTML scans a page for the zip marker comment and returns the version
// named by the text that follows it.
func FromHTML(r io.Reader) (string, error) {
	tokenizer := html.NewTokenizer(r)
	armed := false
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != nil && !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("version: parse html: %w", err)
			}
			return "", ErrVersionNotFound
		case html.CommentToken:
			armed = strings.TrimSpace(string(tokenizer.Text())) == ZipMarker
		case html.TextToken:
			if !armed {
				continue
			}
			armed = false
			m := zipNamePattern.FindStringSubmatch(string(tokenizer.Text()))
			if m == nil {
				continue
			}
			if _, err := Parse(m[1]); err != nil {
				return "", err
			}
			return m[1], nil
		default:
			armed = false
		}
	}
}

// FromProperties reads the build.version entry of a properties file.
func FromProperties(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("version: open %s: %w", path, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := propertyPattern.FindStringSubmatch(scanner.Text()); m != nil {
			return m[1], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("version: read %s: %w", path, err)
	}
	return "", fmt.Errorf("%w in %s", ErrVersionNotFound, path)
}
