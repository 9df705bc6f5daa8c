package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/net/html/charset"
)

// Outline is one feed subscription found in an OPML document.
type Outline struct {
	Title string
	URL   string
}

type opmlDoc struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr,omitempty"`
	Body    opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	Text        string        `xml:"text,attr,omitempty"`
	Title       string        `xml:"title,attr,omitempty"`
	XMLURL      string        `xml:"xmlUrl,attr,omitempty"`
	XMLURLLower string        `xml:"xmlurl,attr,omitempty"`
	Outlines    []opmlOutline `xml:"outline,omitempty"`
}

// ReadFeeds returns the feed outlines of the OPML file at path (or URL),
// depth first, skipping outlines without a feed URL and repeated URLs.
func ReadFeeds(path string) ([]Outline, error) {
	r, err := openOPML(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return decode(r)
}

func decode(r io.Reader) ([]Outline, error) {
	var doc opmlDoc
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = charset.NewReaderLabel
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []Outline
	var walk func([]opmlOutline)
	walk = func(outlines []opmlOutline) {
		for _, o := range outlines {
			if feedURL := o.FeedURL(); feedURL != "" {
				if _, dup := seen[feedURL]; !dup {
					seen[feedURL] = struct{}{}
					out = append(out, Outline{Title: o.DisplayTitle(), URL: feedURL})
				}
			}
			if len(o.Outlines) > 0 {
				walk(o.Outlines)
			}
		}
	}
	walk(doc.Body.Outlines)
	return out, nil
}

func openOPML(path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		resp, err := http.Get(path)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: %s", path, resp.Status)
		}
		return resp.Body, nil
	}
	return os.Open(path)
}

func (o opmlOutline) FeedURL() string {
	if v := strings.TrimSpace(o.XMLURL); v != "" {
		return v
	}
	if v := strings.TrimSpace(o.XMLURLLower); v != "" {
		return v
	}
	return ""
}

func (o opmlOutline) DisplayTitle() string {
	if v := strings.TrimSpace(o.Title); v != "" {
		return v
	}
	return strings.TrimSpace(o.Text)
}
