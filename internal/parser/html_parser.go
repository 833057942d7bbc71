// Package parser extracts the title and outbound links from fetched HTML.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Document is the result of parsing one page
type Document struct {
	Title string
	Links []string // absolute http(s) URLs in document order
}

// HTMLParser resolves links found in a page against its URL
type HTMLParser struct {
	baseURL        *url.URL
	allowedSchemes []string
}

// NewHTMLParser creates a parser for a page fetched from baseURL
func NewHTMLParser(baseURL string) (*HTMLParser, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &HTMLParser{
		baseURL:        parsedURL,
		allowedSchemes: []string{"https", "http"},
	}, nil
}

// Extract is a convenience wrapper around NewHTMLParser and Parse
func Extract(htmlContent []byte, baseURL string) (*Document, error) {
	p, err := NewHTMLParser(baseURL)
	if err != nil {
		return nil, err
	}
	return p.Parse(htmlContent)
}

// Parse walks the document collecting the first <title> and every <a href>.
// A <base href> element changes the resolution base for the rest of the page.
func (p *HTMLParser) Parse(htmlContent []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc := &Document{Links: []string{}}
	base := p.baseURL
	p.traverse(root, doc, &base)
	return doc, nil
}

// Title returns only the page title
func Title(htmlContent []byte) string {
	root, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return ""
	}
	return findTitle(root)
}

func (p *HTMLParser) traverse(n *html.Node, doc *Document, base **url.URL) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "title":
			if doc.Title == "" {
				doc.Title = textOf(n)
			}
		case "base":
			if href := attr(n, "href"); href != "" {
				if u, err := (*base).Parse(href); err == nil {
					*base = u
				}
			}
		case "a":
			if link, ok := p.resolve(*base, attr(n, "href")); ok {
				doc.Links = append(doc.Links, link)
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.traverse(c, doc, base)
	}
}

// resolve turns href into an absolute URL and reports whether it is crawlable
func (p *HTMLParser) resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(u)
	if !p.isAllowedScheme(resolved.Scheme) || resolved.Host == "" {
		return "", false
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String(), true
}

func (p *HTMLParser) isAllowedScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	for _, allowed := range p.allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return textOf(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if title := findTitle(c); title != "" {
			return title
		}
	}
	return ""
}

// textOf concatenates the text children of n with whitespace collapsed
func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
