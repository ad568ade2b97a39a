package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

const maxResponseBytes = 8 << 20

func doRequest(client *http.Client, req *http.Request, source string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", source, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", source, err)
	}
	return body, nil
}

func getJSON(ctx context.Context, client *http.Client, url, userAgent, source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return doRequest(client, req, source)
}

// htmlConverter turns rendered HTML bodies into markdown for display.
type htmlConverter struct {
	converter *md.Converter
}

func newHTMLConverter() *htmlConverter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &htmlConverter{converter: converter}
}

func (c *htmlConverter) Convert(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	markdown, err := c.converter.ConvertString(html)
	if err != nil {
		return html
	}
	return strings.TrimSpace(markdown)
}

// truncate returns at most n runes of s, appending "..." if it was cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
