// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package netfetch talks to the edge image-processing service over HTTPS:
// it fetches the widget catalog and pre-rendered PNGs. This is the portable
// substitute for the hand-rolled no_std HTTP/1.1 client the original
// firmware needed because it had no net/http available; the wire contract
// (status codes, JSON shape, streamed body) is unchanged, only the
// transport is idiomatic Go.
package netfetch

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ozwaldorf/sawthat-frame/internal/state"
)

// Kind enumerates the network error taxonomy surfaced to the orchestrator.
type Kind int

const (
	Network Kind = iota
	Http
	Json
	NoItems
)

// Error wraps a Kind with an HTTP status (when applicable) and context.
type Error struct {
	Kind   Kind
	Status int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == Http {
		return fmt.Sprintf("netfetch: %s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("netfetch: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// maxCatalogBytes bounds the widget-list response per the wire contract.
const maxCatalogBytes = 6 * 1024

// Client holds one pooled HTTP connection for the duration of a wake cycle.
// Reusing the *http.Client (and therefore its *http.Transport connection
// pool) across every fetch in a wake is a hard performance contract: a
// fresh connection per fetch would quintuple wake time and drain the
// battery.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client bound to baseURL with one persistent connection pool.
//
// TLS certificate verification is disabled here deliberately: this mirrors
// a deployment decision already made for this firmware (the edge service
// runs behind a self-signed or otherwise unverifiable certificate in the
// field), not an oversight. A reimplementation must not silently re-enable
// verification without also provisioning the corresponding root store.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // intentional, see doc comment
			},
		},
	}
}

// FetchWidgetData retrieves the widget catalog for widgetName.
func (c *Client) FetchWidgetData(widgetName string) ([]string, error) {
	resp, err := c.http.Get(c.baseURL + "/" + widgetName)
	if err != nil {
		return nil, &Error{Kind: Network, Op: "fetch_widget_data", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &Error{Kind: Http, Status: resp.StatusCode, Op: "fetch_widget_data"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes+1))
	if err != nil {
		return nil, &Error{Kind: Network, Op: "fetch_widget_data", Err: err}
	}
	if len(body) > maxCatalogBytes {
		return nil, &Error{Kind: Json, Op: "fetch_widget_data", Err: fmt.Errorf("body exceeds %d bytes", maxCatalogBytes)}
	}

	var list []string
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &Error{Kind: Json, Op: "fetch_widget_data", Err: err}
	}
	if len(list) == 0 {
		return nil, &Error{Kind: NoItems, Op: "fetch_widget_data"}
	}
	return list, nil
}

// FetchPNG retrieves the pre-rendered PNG for (widgetName, itemID,
// orientation) and streams it into dst, returning the number of bytes
// written.
func (c *Client) FetchPNG(widgetName, itemID string, o state.Orientation, dst io.Writer) (int64, error) {
	url := fmt.Sprintf("%s/%s/%s/%s", c.baseURL, widgetName, o.String(), itemID)
	resp, err := c.http.Get(url)
	if err != nil {
		return 0, &Error{Kind: Network, Op: "fetch_png", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, &Error{Kind: Http, Status: resp.StatusCode, Op: "fetch_png"}
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, &Error{Kind: Network, Op: "fetch_png", Err: err}
	}
	return n, nil
}
