// Package toolset provides a small set of ready-made tools for file access
// and web fetching.
package toolset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/streamloop/toolstream/tool"
)

const (
	maxReadBytes  = 256 * 1024
	maxFetchBytes = 1 << 20
	fetchTimeout  = 30 * time.Second
)

// RegisterAll registers every builtin tool in the registry.
func RegisterAll(registry *tool.Registry) error {
	for _, t := range []*tool.Tool{ReadFile(), WriteFile(), FetchPage()} {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// ReadFile returns a tool that reads a file's contents.
func ReadFile() *tool.Tool {
	return &tool.Tool{
		Name:        "read_file",
		Description: "Read the contents of a text file at the given path.",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "File path to read", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", fmt.Errorf("path must be a non-empty string")
			}

			info, err := os.Stat(path)
			if err != nil {
				return "", err
			}
			if info.IsDir() {
				return "", fmt.Errorf("%s is a directory", path)
			}
			if info.Size() > maxReadBytes {
				return "", fmt.Errorf("%s exceeds the %d byte read limit", path, maxReadBytes)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}

// WriteFile returns a tool that writes content to a file, creating parent
// directories as needed.
func WriteFile() *tool.Tool {
	return &tool.Tool{
		Name:        "write_file",
		Description: "Write content to a file at the given path, replacing any existing content.",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "File path to write", Required: true},
			{Name: "content", Type: "string", Description: "Content to write", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", fmt.Errorf("path must be a non-empty string")
			}
			content, _ := args["content"].(string)

			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return "", err
				}
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", err
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	}
}

// FetchPage returns a tool that fetches a web page and extracts its
// readable text content.
func FetchPage() *tool.Tool {
	client := &http.Client{Timeout: fetchTimeout}
	return &tool.Tool{
		Name:        "fetch_page",
		Description: "Fetch a web page and return its readable text content.",
		Parameters: []tool.Parameter{
			{Name: "url", Type: "string", Description: "HTTP or HTTPS URL to fetch", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return "", fmt.Errorf("url must start with http:// or https://")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", err
			}
			resp, err := client.Do(req)
			if err != nil {
				return "", err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("fetch failed with status %d", resp.StatusCode)
			}

			body := io.LimitReader(resp.Body, maxFetchBytes)
			contentType := resp.Header.Get("Content-Type")
			if !strings.Contains(contentType, "text/html") {
				data, err := io.ReadAll(body)
				if err != nil {
					return "", err
				}
				return string(data), nil
			}
			return htmlToText(body)
		},
	}
}

// htmlToText extracts headings, paragraphs and code from an HTML document.
func htmlToText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}

	var out []string
	doc.Find("h1,h2,h3,p,li,pre,code").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			out = append(out, "# "+text)
		case "h2":
			out = append(out, "## "+text)
		case "h3":
			out = append(out, "### "+text)
		case "li":
			out = append(out, "- "+text)
		default:
			out = append(out, text)
		}
	})
	return strings.Join(out, "\n\n"), nil
}
