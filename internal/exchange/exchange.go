package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
)

// ErrRateUnavailable is returned when the rate feed cannot be reached
// or carries no rate for the requested pair. Callers must treat it as a
// hard failure, never as an implicit 1:1 rate.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

const rateTimeout = 10 * time.Second

// Converter converts amounts between currencies using an external rate
// feed serving ECB-style XML.
type Converter struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

// NewConverter initializes a converter against the given rate feed URL.
func NewConverter(rateURL string, log *logrus.Logger) *Converter {
	return &Converter{
		url: rateURL,
		client: &http.Client{
			Timeout: rateTimeout,
		},
		log: log,
	}
}

// Convert returns the amount expressed in the target currency, rounded
// to whole units. Same-currency conversion is the identity and makes no
// network call.
func (c *Converter) Convert(ctx context.Context, amount int64, from, to string) (int64, error) {
	if from == to {
		return amount, nil
	}

	rate, err := c.rate(ctx, from, to)
	if err != nil {
		return 0, err
	}

	converted := int64(math.Round(float64(amount) * rate))
	c.log.Debugf("Converted %d %s to %d %s at rate %f", amount, from, converted, to, rate)
	return converted, nil
}

// rate fetches the current from->to rate from the feed.
func (c *Converter) rate(ctx context.Context, from, to string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, rateTimeout)
	defer cancel()

	query := url.Values{"base": {from}, "symbols": {to}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: unexpected status code %d", ErrRateUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	return parseRate(body, to)
}

// parseRate extracts the rate for the target currency from an ECB-style
// XML document (<Cube currency="USD" rate="1.0863"/>).
func parseRate(rawBody []byte, currency string) (float64, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return 0, fmt.Errorf("%w: failed to parse XML: %v", ErrRateUnavailable, err)
	}

	for _, cube := range doc.FindElements("//Cube[@currency]") {
		if cube.SelectAttrValue("currency", "") != currency {
			continue
		}
		rate, err := strconv.ParseFloat(cube.SelectAttrValue("rate", ""), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to parse rate: %v", ErrRateUnavailable, err)
		}
		return rate, nil
	}

	return 0, fmt.Errorf("%w: no rate for %s in feed", ErrRateUnavailable, currency)
}
