package ena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DefaultTaxonomyURL is the public ENA taxonomy REST service.
const DefaultTaxonomyURL = "https://www.ebi.ac.uk/ena/taxonomy/rest"

var ErrTaxonNotFound = errors.New("taxon not found")

// Taxonomy fills in whichever of taxon_id and scientific_name a sample is missing.
type Taxonomy interface {
	TaxonID(ctx context.Context, scientificName string) (string, error)
	ScientificName(ctx context.Context, taxonID string) (string, error)
}

type taxon struct {
	TaxID          json.RawMessage `json:"taxId"`
	ScientificName string          `json:"scientificName"`
}

func (t taxon) id() string {
	s := strings.Trim(string(t.TaxID), `"`)
	if _, err := strconv.Atoi(s); err != nil {
		return ""
	}
	return s
}

// TaxonomyClient queries the taxonomy REST service.
type TaxonomyClient struct {
	baseURL string
	client  *http.Client
}

func NewTaxonomyClient(baseURL string, client *http.Client) *TaxonomyClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &TaxonomyClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *TaxonomyClient) TaxonID(ctx context.Context, scientificName string) (string, error) {
	var taxa []taxon
	u := fmt.Sprintf("%s/scientific-name/%s", c.baseURL, url.PathEscape(scientificName))
	if err := c.get(ctx, u, &taxa); err != nil {
		return "", err
	}
	for _, t := range taxa {
		if id := t.id(); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTaxonNotFound, scientificName)
}

func (c *TaxonomyClient) ScientificName(ctx context.Context, taxonID string) (string, error) {
	var t taxon
	u := fmt.Sprintf("%s/tax-id/%s", c.baseURL, url.PathEscape(taxonID))
	if err := c.get(ctx, u, &t); err != nil {
		return "", err
	}
	if t.ScientificName == "" {
		return "", fmt.Errorf("%w: %s", ErrTaxonNotFound, taxonID)
	}
	return t.ScientificName, nil
}

func (c *TaxonomyClient) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTaxonNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: taxonomy status %d", ErrRegistryResponse, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding taxonomy response: %w", err)
	}
	return nil
}

// resolveSample completes a sample record in place.
func resolveSample(ctx context.Context, tax Taxonomy, rec map[string]any) error {
	id := str(rec["taxon_id"])
	name := str(rec["scientific_name"])

	switch {
	case id != "" && name != "":
		return nil
	case id == "" && name == "":
		return fmt.Errorf("no taxon_id or scientific_name was given with sample %s", str(rec["alias"]))
	case tax == nil:
		if id == "" {
			return fmt.Errorf("sample %s needs a taxon_id", str(rec["alias"]))
		}
		return nil
	case id == "":
		found, err := tax.TaxonID(ctx, name)
		if err != nil {
			return fmt.Errorf("looking up taxon id of %q: %w", name, err)
		}
		rec["taxon_id"] = found
	default:
		found, err := tax.ScientificName(ctx, id)
		if err != nil {
			return fmt.Errorf("looking up scientific name of %s: %w", id, err)
		}
		rec["scientific_name"] = found
	}
	return nil
}
