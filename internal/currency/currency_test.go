package currency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<gesmes:Envelope xmlns:gesmes="http://www.gesmes.org/xml/2002-08-01" xmlns="http://www.ecb.int/vocabulary/2002-08-01/eurofxref">
  <gesmes:subject>Reference rates</gesmes:subject>
  <gesmes:Sender><gesmes:name>European Central Bank</gesmes:name></gesmes:Sender>
  <Cube>
    <Cube time="2024-06-03">
      <Cube currency="USD" rate="1.0846"/>
      <Cube currency="JPY" rate="169.84"/>
      <Cube currency="GBP" rate="0.85173"/>
      <Cube currency="CHF" rate="0.9712"/>
      <Cube currency="SEK" rate="11.3355"/>
    </Cube>
  </Cube>
</gesmes:Envelope>`

type memStore struct {
	rates map[string][]Rate
}

func newMemStore() *memStore {
	return &memStore{rates: make(map[string][]Rate)}
}

func (s *memStore) Upsert(_ context.Context, r Rate) error {
	for i, have := range s.rates[r.Currency] {
		if have.Datestamp.Equal(r.Datestamp) {
			s.rates[r.Currency][i] = r
			return nil
		}
	}
	s.rates[r.Currency] = append(s.rates[r.Currency], r)
	return nil
}

func (s *memStore) Latest(_ context.Context, cur string) (*Rate, error) {
	all := s.rates[cur]
	if len(all) == 0 {
		return nil, ErrNoRateAvailable
	}
	latest := all[0]
	for _, r := range all[1:] {
		if r.Datestamp.After(latest.Datestamp) {
			latest = r
		}
	}
	return &latest, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestParseFeed(t *testing.T) {
	rates, err := ParseFeed([]byte(sampleFeed))
	require.NoError(t, err)

	// Only the allow-listed currencies survive.
	require.Len(t, rates, 2)
	want := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "GBP", rates[0].Currency)
	assert.True(t, dec("0.85173").Equal(rates[0].Rate))
	assert.Equal(t, want, rates[0].Datestamp)
	assert.Equal(t, "CHF", rates[1].Currency)
	assert.True(t, dec("0.9712").Equal(rates[1].Rate))
}

func TestParseFeedErrors(t *testing.T) {
	t.Run("not xml", func(t *testing.T) {
		_, err := ParseFeed([]byte("nope"))
		assert.Error(t, err)
	})
	t.Run("bad datestamp", func(t *testing.T) {
		_, err := ParseFeed([]byte(`<Envelope><Cube><Cube time="yesterday"></Cube></Cube></Envelope>`))
		assert.Error(t, err)
	})
}

func TestFetchLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	store := newMemStore()
	f := NewFetcher(store, srv.Client())
	f.url = srv.URL

	rates, err := f.FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Len(t, rates, 2)
	assert.Len(t, store.rates["GBP"], 1)
	assert.Len(t, store.rates["CHF"], 1)

	// Re-fetching the same day upserts, it does not duplicate.
	_, err = f.FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Len(t, store.rates["GBP"], 1)
}

func TestFetchLatestHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher(newMemStore(), srv.Client())
	f.url = srv.URL
	_, err := f.FetchLatest(context.Background())
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "83.33", Normalize(dec("83.333333")).StringFixed(2))
	assert.Equal(t, "83.34", Normalize(dec("83.335")).StringFixed(2))
	assert.Equal(t, "10.00", Normalize(dec("10")).StringFixed(2))
}

func TestConverter(t *testing.T) {
	store := newMemStore()
	day1 := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(context.Background(), Rate{Currency: "GBP", Datestamp: day1, Rate: dec("0.84")}))
	require.NoError(t, store.Upsert(context.Background(), Rate{Currency: "GBP", Datestamp: day2, Rate: dec("0.85")}))
	c := NewConverter(store)

	t.Run("latest rate wins", func(t *testing.T) {
		rate, date, err := c.LatestRate(context.Background(), "GBP")
		require.NoError(t, err)
		assert.True(t, dec("0.85").Equal(rate))
		assert.Equal(t, day2, date)
	})

	t.Run("from EUR", func(t *testing.T) {
		conv, err := c.FromEUR(context.Background(), dec("16.67"), "GBP")
		require.NoError(t, err)
		assert.True(t, dec("14.17").Equal(conv.Converted), "got %s", conv.Converted)
		assert.True(t, dec("0.85").Equal(conv.Rate))
		assert.Equal(t, day2, conv.Date)
	})

	t.Run("unsupported currency", func(t *testing.T) {
		_, _, err := c.LatestRate(context.Background(), "USD")
		assert.ErrorIs(t, err, ErrCurrencyNotSupported)
	})

	t.Run("no cached rate", func(t *testing.T) {
		_, _, err := c.LatestRate(context.Background(), "CHF")
		assert.ErrorIs(t, err, ErrNoRateAvailable)
	})
}
