package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/amosWeiskopf/metalcrawl/pkg/utils"
)

// Default values for fields that are missing from a payload.
const (
	Missing        = "N/A"
	UnknownAlbum   = "Unknown Album"
	UnknownType    = "Unknown Type"
	UnknownYear    = "Unknown Year"
	NoReviews      = "No Reviews"
	discogSelector = "table.display.discog tbody tr"
)

// Listing is the JSON envelope of the catalog's paginated listing endpoints.
type Listing struct {
	Total int
	Rows  [][]string
}

type listingEnvelope struct {
	TotalRecords int     `json:"iTotalRecords"`
	Data         [][]any `json:"aaData"`
}

// ParseListing decodes a listing payload. Non-string cells become their
// printed form; null cells become "".
func ParseListing(body []byte) (*Listing, error) {
	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	out := &Listing{Total: env.TotalRecords, Rows: make([][]string, 0, len(env.Data))}
	for _, row := range env.Data {
		cells := make([]string, len(row))
		for i, c := range row {
			switch v := c.(type) {
			case nil:
			case string:
				cells[i] = v
			default:
				cells[i] = fmt.Sprint(v)
			}
		}
		out.Rows = append(out.Rows, cells)
	}
	return out, nil
}

// Cell returns row[i], or "" when the row is too short.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Link represents an extracted hyperlink
type Link struct {
	URL        string
	AnchorText string
}

// FirstLink returns the first anchor of an HTML fragment. The zero Link is
// returned when there is none.
func FirstLink(fragment string) Link {
	for _, n := range parseFragment(fragment) {
		if a := findAnchor(n); a != nil {
			return Link{URL: attr(a, "href"), AnchorText: utils.CleanText(extractText(a))}
		}
	}
	return Link{}
}

// Text returns the visible text of an HTML fragment.
func Text(fragment string) string {
	var b strings.Builder
	for _, n := range parseFragment(fragment) {
		b.WriteString(extractText(n))
	}
	return utils.CleanText(b.String())
}

// ID extracts the numeric catalog ID from an entity URL.
func ID(rawURL string) string {
	return utils.LastNumericSegment(rawURL)
}

// PhotoURL returns the href of the band photo link on a band page.
func PhotoURL(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Missing
	}
	href, ok := doc.Find("a#photo").First().Attr("href")
	if !ok {
		return Missing
	}
	return utils.OrDefault(href, Missing)
}

// Release is one row of a band's discography table.
type Release struct {
	ID      string
	Name    string
	URL     string
	Type    string
	Year    string
	Reviews string
}

// Discography reads every release row of a discography page. A page without
// the table yields no releases.
func Discography(body []byte) ([]Release, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse discography: %w", err)
	}

	var releases []Release
	doc.Find(discogSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			// "Nothing entered yet" placeholder rows span the whole table.
			return
		}
		link := cells.Eq(0).Find("a").First()
		href := link.AttrOr("href", "")
		releases = append(releases, Release{
			ID:      ID(href),
			Name:    utils.OrDefault(link.Text(), UnknownAlbum),
			URL:     href,
			Type:    utils.OrDefault(cells.Eq(1).Text(), UnknownType),
			Year:    utils.OrDefault(cells.Eq(2).Text(), UnknownYear),
			Reviews: utils.OrDefault(cells.Eq(3).Find("a").First().Text(), NoReviews),
		})
	})
	return releases, nil
}

func parseFragment(fragment string) []*html.Node {
	if strings.TrimSpace(fragment) == "" {
		return nil
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return []*html.Node{{Type: html.TextNode, Data: fragment}}
	}
	return nodes
}

func findAnchor(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.A {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if a := findAnchor(c); a != nil {
			return a
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func extractText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var text strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		text.WriteString(extractText(c))
	}
	return text.String()
}
