// Package extract pulls read-it-later metadata and a markdown body out of an
// HTML document.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/readlater-importer/internal/importer"
)

// noise is removed from the content root before conversion.
const noise = "script, style, noscript, iframe, svg, form, nav, footer, aside"

// HTML parses body and extracts a Page for pageURL.
func HTML(pageURL string, body []byte) (importer.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return importer.Page{}, fmt.Errorf("parse html: %w", err)
	}
	return Document(pageURL, doc)
}

// Document extracts a Page from an already parsed document.
func Document(pageURL string, doc *goquery.Document) (importer.Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return importer.Page{}, fmt.Errorf("parse page url: %w", err)
	}

	page := importer.Page{
		URL:          pageURL,
		Title:        first(meta(doc, "property", "og:title"), meta(doc, "name", "twitter:title"), text(doc.Find("title"))),
		Author:       first(meta(doc, "name", "author"), meta(doc, "property", "article:author")),
		Summary:      first(meta(doc, "property", "og:description"), meta(doc, "name", "description")),
		Tags:         tags(doc),
		Image:        resolve(base, meta(doc, "property", "og:image")),
		CanonicalURL: resolve(base, attr(doc.Find(`link[rel="canonical"]`), "href")),
		SiteName:     first(meta(doc, "property", "og:site_name"), base.Hostname()),
	}

	content, err := markdown(base, doc)
	if err != nil {
		return importer.Page{}, err
	}
	page.Content = content
	if page.Title == "" && page.Content == "" {
		return importer.Page{}, importer.UnsupportedContent("document has no readable content")
	}
	return page, nil
}

func markdown(base *url.URL, doc *goquery.Document) (string, error) {
	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		return "", nil
	}
	root = root.Clone()
	root.Find(noise).Remove()

	html, err := goquery.OuterHtml(root)
	if err != nil {
		return "", fmt.Errorf("render content: %w", err)
	}
	domain := ""
	if base.Host != "" {
		domain = base.Scheme + "://" + base.Host
	}
	out, err := md.NewConverter(domain, true, nil).ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func tags(doc *goquery.Document) []string {
	raw := strings.Split(meta(doc, "name", "keywords"), ",")
	doc.Find(`meta[property="article:tag"]`).Each(func(_ int, s *goquery.Selection) {
		raw = append(raw, attr(s, "content"))
	})

	out := []string{}
	seen := make(map[string]struct{}, len(raw))
	for _, tag := range raw {
		tag = strings.Join(strings.Fields(tag), " ")
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func meta(doc *goquery.Document, key, value string) string {
	return attr(doc.Find(fmt.Sprintf(`meta[%s=%q]`, key, value)), "content")
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.First().Attr(name)
	return strings.TrimSpace(v)
}

func text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.First().Text()), " ")
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}
