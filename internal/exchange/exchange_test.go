package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

const rateFeed = `<?xml version="1.0" encoding="UTF-8"?>
<gesmes:Envelope xmlns:gesmes="http://www.gesmes.org/xml/2002-08-01">
	<Cube>
		<Cube time="2021-03-01">
			<Cube currency="USD" rate="1.1000"/>
			<Cube currency="SEK" rate="10.1555"/>
		</Cube>
	</Cube>
</gesmes:Envelope>`

func TestConvertSameCurrencyIsIdentity(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	c := NewConverter(server.URL, testLogger())
	got, err := c.Convert(context.Background(), 50, "EUR", "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits), "identity conversion must not hit the feed")
}

func TestConvertUsesFeedRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EUR", r.URL.Query().Get("base"))
		assert.Equal(t, "USD", r.URL.Query().Get("symbols"))
		fmt.Fprint(w, rateFeed)
	}))
	defer server.Close()

	c := NewConverter(server.URL, testLogger())
	got, err := c.Convert(context.Background(), 100, "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(110), got)
}

func TestConvertRoundsToWholeUnits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<Envelope><Cube><Cube><Cube currency="GBP" rate="0.855"/></Cube></Cube></Envelope>`)
	}))
	defer server.Close()

	c := NewConverter(server.URL, testLogger())
	got, err := c.Convert(context.Background(), 101, "EUR", "GBP")
	require.NoError(t, err)
	assert.Equal(t, int64(86), got) // 86.355 rounds down
}

func TestConvertMissingRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rateFeed)
	}))
	defer server.Close()

	c := NewConverter(server.URL, testLogger())
	_, err := c.Convert(context.Background(), 100, "EUR", "JPY")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestConvertFeedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewConverter(server.URL, testLogger())
	_, err := c.Convert(context.Background(), 100, "EUR", "USD")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestConvertFeedUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c := NewConverter(server.URL, testLogger())
	_, err := c.Convert(context.Background(), 100, "EUR", "USD")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}
