package client

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"p2pdir/common"
)

// Clock supplies the timestamp line of each request.
type Clock interface {
	Now(ctx context.Context) (string, error)
}

// LocalClock formats the local time.
type LocalClock struct{}

func (LocalClock) Now(context.Context) (string, error) {
	return time.Now().Format(common.TimestampLayout), nil
}

// HTTPClock reads the time from a /fecha endpoint so that every peer
// stamps requests with the same clock.
type HTTPClock struct {
	URL    string
	Client *http.Client
}

func (c HTTPClock) Now(ctx context.Context) (string, error) {
	hc := c.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", errors.Wrap(err, "time request")
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "get %s", c.URL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("time service returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", errors.Wrap(err, "read time")
	}
	ts := strings.TrimSpace(string(body))
	if ts == "" {
		return "", errors.New("time service returned an empty body")
	}
	return ts, nil
}
