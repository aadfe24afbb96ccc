// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/samber/oops"
)

// CodePeerFetch tags a failed fetch from a peer instance.
const CodePeerFetch = "PEER_FETCH_FAILED"

// httpPeer fetches exported records from a peer instance over its export
// endpoint: GET <base>/export/<plugin> returning a JSON array of records.
type httpPeer struct {
	base   string
	client *http.Client
}

// NewHTTPPeer creates a Peer over a peer instance's export API. client
// may be nil, in which case http.DefaultClient is used.
func NewHTTPPeer(base string, client *http.Client) Peer {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpPeer{base: base, client: client}
}

// Fetch implements Peer.
func (p *httpPeer) Fetch(ctx context.Context, plugin string) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("%s/export/%s", p.base, url.PathEscape(plugin))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, oops.Code(CodePeerFetch).With("plugin", plugin).Wrap(err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, oops.Code(CodePeerFetch).With("plugin", plugin).Wrap(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, oops.Code(CodePeerFetch).
			With("plugin", plugin).
			With("status", resp.StatusCode).
			Errorf("peer returned %s", resp.Status)
	}

	var records []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, oops.Code(CodePeerFetch).With("plugin", plugin).Wrap(err)
	}
	return records, nil
}
