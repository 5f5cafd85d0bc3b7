package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"net/url"

	"quoteproxy/internal/provider"
)

// Fetch retrieves the current quote for one symbol.
//
// The call is bounded by the client timeout. Failures are classified as
// provider.ErrTimeout, provider.ErrAuth (403) or provider.ErrUpstream.
// There is no retry.
func (c *Client) Fetch(ctx context.Context, symbol string) (provider.RawQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := maps.Clone(c.query)
	query.Set("symbol", symbol)
	query.Set("token", c.Token())

	endpoint := fmt.Sprintf("%s/quote?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return provider.RawQuote{}, fmt.Errorf("%w: creating request: %v", provider.ErrUpstream, err)
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return provider.RawQuote{}, fmt.Errorf("%w: %s after %s", provider.ErrTimeout, symbol, c.timeout)
		}
		// url.Error carries the full URL, token included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return provider.RawQuote{}, fmt.Errorf("%w: performing request: %v", provider.ErrUpstream, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusForbidden:
		return provider.RawQuote{}, fmt.Errorf("%w: %s", provider.ErrAuth, symbol)

	case res.StatusCode < 200 || res.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return provider.RawQuote{}, fmt.Errorf("%w: %s -> %d: %s", provider.ErrUpstream, symbol, res.StatusCode, string(b))
	}

	var raw provider.RawQuote
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		if isTimeout(ctx, err) {
			return provider.RawQuote{}, fmt.Errorf("%w: %s reading body", provider.ErrTimeout, symbol)
		}
		return provider.RawQuote{}, fmt.Errorf("%w: decoding quote: %v", provider.ErrUpstream, err)
	}
	return raw, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
