package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// maxURLBytes caps how much of a fetched page is read.
const maxURLBytes = 2 * 1024 * 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var (
	newlineRe   = regexp.MustCompile(`\r\n|\r|\n`)
	multiBlank  = regexp.MustCompile(`\n{3,}`)
	whitespace  = regexp.MustCompile(`\s+`)
	scriptStyle = regexp.MustCompile(`(?is)\s*<\s*(script|style)\b.*?<\s*/\s*(script|style)\s*>\s*`)
	noscript    = regexp.MustCompile(`(?is)\s*<\s*noscript\b.*?<\s*/\s*noscript\s*>\s*`)
	anyTag      = regexp.MustCompile(`<[^>]+>`)
)

// Normalize collapses line endings and whitespace runs.
func Normalize(text string) string {
	text = newlineRe.ReplaceAllString(text, "\n")
	text = multiBlank.ReplaceAllString(text, "\n\n")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// StripTags reduces HTML to normalized plain text.
func StripTags(html string) string {
	html = scriptStyle.ReplaceAllString(html, " ")
	html = noscript.ReplaceAllString(html, " ")
	return Normalize(anyTag.ReplaceAllString(html, " "))
}

// Extract normalizes raw upload bytes to plain text. Only plain-text
// kinds are handled here; binary document formats belong to an
// external extraction service.
func Extract(content []byte, kind string) (text, sourceType string, err error) {
	content = bytes.TrimPrefix(content, utf8BOM)

	switch kind {
	case "txt", "text":
		return Normalize(string(content)), "text", nil
	case "md", "markdown":
		return Normalize(string(content)), "markdown", nil
	case "html":
		return StripTags(string(content)), "html", nil
	default:
		return "", "", fmt.Errorf("unsupported file type %q (txt/md/markdown)", kind)
	}
}

// FetchURL downloads a page body, capped at maxURLBytes.
func FetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxURLBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", url, maxURLBytes)
	}
	return body, nil
}
