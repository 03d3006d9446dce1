package currency

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DailyFeedURL is the ECB reference-rate feed, published every business day
// around 16:00 CET.
const DailyFeedURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"

// defaultFetchTimeout bounds the feed request; the fetch fails closed rather
// than inventing a rate.
const defaultFetchTimeout = 30 * time.Second

// Fetcher pulls the daily feed and upserts the supported currencies into the
// Store. It is meant to be invoked by an external job, not a managed thread.
type Fetcher struct {
	store  Store
	client *http.Client
	url    string
}

// NewFetcher creates a Fetcher. A nil client gets a timeout-bounded default.
func NewFetcher(store Store, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &Fetcher{store: store, client: client, url: DailyFeedURL}
}

// ecbEnvelope mirrors the feed XML:
//
//	<gesmes:Envelope>
//	  <Cube><Cube time="2018-03-06">
//	    <Cube currency="GBP" rate="0.89165"/>
//	  </Cube></Cube>
//	</gesmes:Envelope>
type ecbEnvelope struct {
	Cube struct {
		Day struct {
			Time  string `xml:"time,attr"`
			Rates []struct {
				Currency string `xml:"currency,attr"`
				Rate     string `xml:"rate,attr"`
			} `xml:"Cube"`
		} `xml:"Cube"`
	} `xml:"Cube"`
}

// FetchLatest pulls the feed, parses it, and upserts one row per supported
// currency keyed by (currency, datestamp). Network and HTTP errors propagate
// to the caller; the cache keeps serving its last good data regardless.
func (f *Fetcher) FetchLatest(ctx context.Context) ([]Rate, error) {
	rates, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rates {
		if err := f.store.Upsert(ctx, r); err != nil {
			return nil, errors.Wrapf(err, "store rate %s/%s", r.Currency, r.Datestamp.Format("2006-01-02"))
		}
	}
	return rates, nil
}

func (f *Fetcher) fetch(ctx context.Context) ([]Rate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build feed request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch rate feed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("rate feed returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read rate feed")
	}
	return ParseFeed(body)
}

// ParseFeed decodes the ECB daily XML and keeps the supported currencies.
func ParseFeed(data []byte) ([]Rate, error) {
	var env ecbEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode rate feed")
	}

	datestamp, err := time.Parse("2006-01-02", env.Cube.Day.Time)
	if err != nil {
		return nil, errors.Wrap(err, "parse feed datestamp")
	}

	var rates []Rate
	for _, r := range env.Cube.Day.Rates {
		if !slices.Contains(SupportedCurrencies, r.Currency) {
			continue
		}
		value, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return nil, errors.Wrapf(err, "parse rate for %s", r.Currency)
		}
		rates = append(rates, Rate{
			Currency:  r.Currency,
			Datestamp: datestamp,
			Rate:      value,
		})
	}
	return rates, nil
}
