package oasis

import (
	"net/url"
	"strconv"
	"time"

	"github.com/wadaphaq/oasis-api-tool/internal/window"
)

// Endpoints and fixed parameter values used by the downloader.
const (
	EndpointSingleZip = "SingleZip"
	EndpointGroupZip  = "GroupZip"

	QueryPriceLMP = "PRC_LMP"
	GroupDAMLMP   = "DAM_LMP_GRP"

	// FormatCSVZip selects CSV files inside a zip archive.
	FormatCSVZip = "6"

	nodeQueryVersion  = 1
	groupQueryVersion = 12
)

// Markets accepted for market_run_id.
var Markets = []string{"DAM", "RUC", "RTM", "HASP"}

// timestampLayout renders a window bound as YYYYMMDDTHH:MM+0000.
const timestampLayout = "20060102T15:04-0700"

// Query describes one request: which endpoint, the source and window it
// covers, and the result format. Params carries the endpoint-specific
// parameters (queryname, node, groupid, ...).
type Query struct {
	Endpoint string
	Source   string
	Window   window.Window
	Format   string

	// Hour is the fixed hour of day both window bounds are anchored to.
	Hour int

	Params url.Values
}

// Values assembles the full query string.
func (q Query) Values() url.Values {
	v := url.Values{}
	for k, vals := range q.Params {
		for _, val := range vals {
			v.Add(k, val)
		}
	}
	v.Set("startdatetime", FormatTimestamp(q.Window.Start, q.Hour))
	v.Set("enddatetime", FormatTimestamp(q.Window.End, q.Hour))
	if q.Format != "" {
		v.Set("resultformat", q.Format)
	}
	return v
}

// FormatTimestamp renders the UTC calendar day of t at the given hour in the
// API's timezone-qualified form, e.g. 20220101T00:00+0000.
func FormatTimestamp(t time.Time, hour int) string {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC).Format(timestampLayout)
}

// NodeQuery builds a PRC_LMP request for one pricing node and market run.
func NodeQuery(node, market string, w window.Window) Query {
	return Query{
		Endpoint: EndpointSingleZip,
		Source:   node,
		Window:   w,
		Format:   FormatCSVZip,
		Params: url.Values{
			"queryname":     {QueryPriceLMP},
			"version":       {strconv.Itoa(nodeQueryVersion)},
			"market_run_id": {market},
			"node":          {node},
		},
	}
}

// GroupQuery builds a grouped request, e.g. DAM_LMP_GRP, which returns every
// node for the window. The API limits grouped requests to one day.
func GroupQuery(group string, w window.Window, hour int) Query {
	return Query{
		Endpoint: EndpointGroupZip,
		Source:   group,
		Window:   w,
		Format:   FormatCSVZip,
		Hour:     hour,
		Params: url.Values{
			"groupid": {group},
			"version": {strconv.Itoa(groupQueryVersion)},
		},
	}
}

// ValidMarket reports whether m is a known market run id.
func ValidMarket(m string) bool {
	for _, k := range Markets {
		if k == m {
			return true
		}
	}
	return false
}
