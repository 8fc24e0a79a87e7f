package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
	"github.com/amosWeiskopf/metalcrawl/pkg/dedup"
	"github.com/amosWeiskopf/metalcrawl/pkg/extractor"
	"github.com/amosWeiskopf/metalcrawl/pkg/source"
)

// Dataset names.
const (
	Bands         = "bands"
	Labels        = "labels"
	Rosters       = "rosters"
	Discographies = "discographies"
)

// ErrNoInput means a dependent dataset found no categories in its input.
var ErrNoInput = errors.New("input catalog list is empty")

// Dataset bundles everything the crawler needs to collect one kind of
// catalog entity.
type Dataset struct {
	Name     string
	Schema   models.Schema
	PageSize int
	// Paginated is false when the listing returns everything at offset 0.
	Paginated bool
	// Input names the dataset whose keys are this dataset's categories.
	// Empty means Letters is used.
	Input   string
	Letters []models.Category

	Parse source.Parser
	// Enrich is nil when listing rows are already complete records.
	Enrich source.Enricher

	listURL func(cat models.Category, offset int) string
}

// listing fetches a dataset's listing pages through a Client.
type listing struct {
	client *Client
	ds     *Dataset
}

func (l listing) ListPage(ctx context.Context, cat models.Category, offset int) (*models.Response, error) {
	return l.client.Get(ctx, l.ds.listURL(cat, offset))
}

// Lister returns a source.Lister that fetches this dataset's listing pages
// through c.
func (d *Dataset) Lister(c *Client) source.Lister {
	return listing{client: c, ds: d}
}

// ListURL returns the catalog path of the listing page at (cat, offset).
func (d *Dataset) ListURL(cat models.Category, offset int) string {
	return d.listURL(cat, offset)
}

// Categories returns the categories to crawl, in order. Datasets with an
// input read them from the input's keys; a missing or empty input is an
// error.
func (d *Dataset) Categories(ctx context.Context, input dedup.KeyReader) ([]models.Category, error) {
	if d.Input == "" {
		return slices.Clone(d.Letters), nil
	}
	if input == nil {
		return nil, fmt.Errorf("%s: %s must be crawled first: %w", d.Name, d.Input, ErrNoInput)
	}
	keys, err := input.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", d.Name, d.Input, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: %s has no records: %w", d.Name, d.Input, ErrNoInput)
	}
	cats := make([]models.Category, 0, len(keys))
	for _, k := range keys {
		cats = append(cats, models.Category(k))
	}
	return cats, nil
}

// Fallback is the degraded record of an item whose detail fetch failed. It
// reports false for datasets without a detail fetch.
func (d *Dataset) Fallback(item models.RawItem) (models.Record, bool) {
	if d.Enrich == nil {
		return models.Record{}, false
	}
	return complete(item.Key, item.Values, d.Schema), true
}

// complete pads values with the missing-field default up to the schema width.
func complete(key string, values []string, schema models.Schema) models.Record {
	out := make([]string, len(schema.Columns))
	for i := range out {
		out[i] = extractor.Missing
		if i < len(values) && values[i] != "" {
			out[i] = values[i]
		}
	}
	return models.Record{Key: key, Values: out}
}

var (
	letters      = alphabet("NBR")
	bandLetters  = append(alphabet("NBR"), "~")
	datasets     = map[string]*Dataset{}
	datasetOrder = []string{Bands, Labels, Rosters, Discographies}
)

func alphabet(extra ...models.Category) []models.Category {
	cats := make([]models.Category, 0, 26+len(extra))
	for r := 'A'; r <= 'Z'; r++ {
		cats = append(cats, models.Category(string(r)))
	}
	return append(cats, extra...)
}

func init() {
	for _, d := range []*Dataset{bands(), labels(), rosters(), discographies()} {
		datasets[d.Name] = d
	}
}

// Lookup returns the named dataset.
func Lookup(name string) (*Dataset, error) {
	d, ok := datasets[name]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q (want one of %s)", name, strings.Join(datasetOrder, ", "))
	}
	return d, nil
}

// Names lists every dataset, inputs before their dependents.
func Names() []string {
	return slices.Clone(datasetOrder)
}

func bands() *Dataset {
	return &Dataset{
		Name:      Bands,
		Schema:    bandSchema,
		PageSize:  500,
		Paginated: true,
		Letters:   bandLetters,
		listURL: func(cat models.Category, offset int) string {
			return fmt.Sprintf("/browse/ajax-letter/l/%s/json/1?sEcho=1&iColumns=4&sColumns=&iDisplayStart=%d&iDisplayLength=500"+
				"&mDataProp_0=0&mDataProp_1=1&mDataProp_2=2&mDataProp_3=3&iSortCol_0=0&sSortDir_0=asc&iSortingCols=1"+
				"&bSortable_0=true&bSortable_1=true&bSortable_2=true&bSortable_3=false", cat, offset)
		},
		Parse: parseBands,
		Enrich: func(item models.RawItem, body []byte) models.Record {
			values := append(slices.Clone(item.Values), extractor.PhotoURL(body))
			return complete(item.Key, values, bandSchema)
		},
	}
}

var bandSchema = models.Schema{Key: "ID", Columns: []string{"Name", "URL", "Country", "Genre", "Status", "Photo URL"}}

// parseBands reads rows of [name anchor, country, genre, status span].
func parseBands(cat models.Category, body []byte) ([]models.RawItem, error) {
	payload, err := extractor.ParseListing(body)
	if err != nil {
		return nil, err
	}
	items := make([]models.RawItem, 0, len(payload.Rows))
	for _, row := range payload.Rows {
		link := extractor.FirstLink(extractor.Cell(row, 0))
		items = append(items, models.RawItem{
			Category:  cat,
			Key:       extractor.ID(link.URL),
			DetailURL: link.URL,
			Values: []string{
				orMissing(link.AnchorText),
				orMissing(link.URL),
				orMissing(extractor.Text(extractor.Cell(row, 1))),
				orMissing(extractor.Text(extractor.Cell(row, 2))),
				orMissing(extractor.Text(extractor.Cell(row, 3))),
			},
		})
	}
	return items, nil
}

func labels() *Dataset {
	return &Dataset{
		Name:      Labels,
		Schema:    models.Schema{Key: "ID", Columns: []string{"Name", "Specialization", "Status", "Country", "Website", "Online Shopping"}},
		PageSize:  200,
		Paginated: true,
		Letters:   letters,
		listURL: func(cat models.Category, offset int) string {
			return fmt.Sprintf("/label/ajax-list/json/1/l/%s?sEcho=1&iColumns=7&sColumns=&iDisplayStart=%d&iDisplayLength=200"+
				"&mDataProp_0=0&mDataProp_1=1&mDataProp_2=2&mDataProp_3=3&mDataProp_4=4&mDataProp_5=5&mDataProp_6=6"+
				"&iSortCol_0=1&sSortDir_0=asc&iSortingCols=1&bSortable_0=false&bSortable_1=true&bSortable_2=true"+
				"&bSortable_3=true&bSortable_4=true&bSortable_5=false&bSortable_6=true", cat, offset)
		},
		Parse: parseLabels,
	}
}

// parseLabels reads rows of [_, name anchor, specialization, status,
// country, website anchor, online shopping].
func parseLabels(cat models.Category, body []byte) ([]models.RawItem, error) {
	payload, err := extractor.ParseListing(body)
	if err != nil {
		return nil, err
	}
	items := make([]models.RawItem, 0, len(payload.Rows))
	for _, row := range payload.Rows {
		link := extractor.FirstLink(extractor.Cell(row, 1))
		items = append(items, models.RawItem{
			Category: cat,
			Key:      extractor.ID(link.URL),
			Values: []string{
				orMissing(extractor.Text(extractor.Cell(row, 1))),
				orMissing(extractor.Text(extractor.Cell(row, 2))),
				orMissing(extractor.Text(extractor.Cell(row, 3))),
				orMissing(extractor.Text(extractor.Cell(row, 4))),
				orMissing(extractor.FirstLink(extractor.Cell(row, 5)).URL),
				orMissing(extractor.Text(extractor.Cell(row, 6))),
			},
		})
	}
	return items, nil
}

func rosters() *Dataset {
	return &Dataset{
		Name:      Rosters,
		Schema:    models.Schema{Key: "Key", Columns: []string{"Label ID", "Band ID"}},
		PageSize:  100,
		Paginated: true,
		Input:     Labels,
		listURL: func(cat models.Category, offset int) string {
			return fmt.Sprintf("/label/ajax-bands/nbrPerPage/100/id/%s?sEcho=1&iColumns=3&sColumns=&iDisplayStart=%d&iDisplayLength=100"+
				"&mDataProp_0=0&mDataProp_1=1&mDataProp_2=2&iSortCol_0=0&sSortDir_0=asc&iSortingCols=1"+
				"&bSortable_0=true&bSortable_1=true&bSortable_2=true", cat, offset)
		},
		Parse: parseRoster,
	}
}

// parseRoster reads the band anchor in the first column of a label's roster.
func parseRoster(cat models.Category, body []byte) ([]models.RawItem, error) {
	payload, err := extractor.ParseListing(body)
	if err != nil {
		return nil, err
	}
	label := string(cat)
	items := make([]models.RawItem, 0, len(payload.Rows))
	for _, row := range payload.Rows {
		band := extractor.ID(extractor.FirstLink(extractor.Cell(row, 0)).URL)
		var key string
		if band != "" {
			key = label + ":" + band
		}
		items = append(items, models.RawItem{
			Category: cat,
			Key:      key,
			Values:   []string{label, band},
		})
	}
	return items, nil
}

func discographies() *Dataset {
	return &Dataset{
		Name:   Discographies,
		Schema: models.Schema{Key: "Album ID", Columns: []string{"Album Name", "Type", "Year", "Reviews", "Band ID"}},
		// Each band's discography is one page; the step only has to be positive.
		PageSize: 1,
		Input:    Bands,
		listURL: func(cat models.Category, _ int) string {
			return fmt.Sprintf("/band/discography/id/%s/tab/all", cat)
		},
		Parse: parseDiscography,
	}
}

func parseDiscography(cat models.Category, body []byte) ([]models.RawItem, error) {
	releases, err := extractor.Discography(body)
	if err != nil {
		return nil, err
	}
	band := string(cat)
	items := make([]models.RawItem, 0, len(releases))
	for _, r := range releases {
		key := r.ID
		if key == "" {
			key = strings.Join([]string{band, r.Name, r.Type, r.Year}, "|")
		}
		items = append(items, models.RawItem{
			Category: cat,
			Key:      key,
			Values:   []string{r.Name, r.Type, r.Year, r.Reviews, band},
		})
	}
	return items, nil
}

func orMissing(s string) string {
	if s == "" {
		return extractor.Missing
	}
	return s
}
