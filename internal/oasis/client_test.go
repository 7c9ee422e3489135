package oasis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadaphaq/oasis-api-tool/internal/window"
)

func testWindow(t *testing.T) window.Window {
	t.Helper()
	start, err := window.ParseDate("2022-01-01")
	require.NoError(t, err)
	end, err := window.ParseDate("2022-01-31")
	require.NoError(t, err)
	return window.Window{Start: start, End: end}
}

func TestFormatTimestamp(t *testing.T) {
	d := time.Date(2022, 3, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "20220305T00:00+0000", FormatTimestamp(d, 0))
	assert.Equal(t, "20220305T07:00+0000", FormatTimestamp(d, 7))
}

func TestNodeQueryValues(t *testing.T) {
	q := NodeQuery("TH_NP15_GEN-APND", "DAM", testWindow(t))
	v := q.Values()

	assert.Equal(t, EndpointSingleZip, q.Endpoint)
	assert.Equal(t, "PRC_LMP", v.Get("queryname"))
	assert.Equal(t, "1", v.Get("version"))
	assert.Equal(t, "DAM", v.Get("market_run_id"))
	assert.Equal(t, "TH_NP15_GEN-APND", v.Get("node"))
	assert.Equal(t, "6", v.Get("resultformat"))
	assert.Equal(t, "20220101T00:00+0000", v.Get("startdatetime"))
	assert.Equal(t, "20220131T00:00+0000", v.Get("enddatetime"))
}

func TestGroupQueryValues(t *testing.T) {
	q := GroupQuery(GroupDAMLMP, testWindow(t), 7)
	v := q.Values()

	assert.Equal(t, EndpointGroupZip, q.Endpoint)
	assert.Equal(t, "DAM_LMP_GRP", v.Get("groupid"))
	assert.Equal(t, "12", v.Get("version"))
	assert.Equal(t, "20220101T07:00+0000", v.Get("startdatetime"))
	assert.Empty(t, v.Get("node"))
}

func TestFetchOK(t *testing.T) {
	var gotPath, gotNode, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotNode = r.URL.Query().Get("node")
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("PK-payload"))
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL + "/oasisapi"})
	require.NoError(t, err)

	data, err := c.Fetch(context.Background(), NodeQuery("NODE_A", "RTM", testWindow(t)))
	require.NoError(t, err)
	assert.Equal(t, "PK-payload", string(data))
	assert.Equal(t, "/oasisapi/SingleZip", gotPath)
	assert.Equal(t, "NODE_A", gotNode)
	assert.Equal(t, "oasis-fetch", gotUA)
}

func TestFetchNon200IsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), NodeQuery("NODE_A", "DAM", testWindow(t)))
	he, ok := IsHTTPError(err)
	require.True(t, ok, "expected HTTPError, got %v", err)
	assert.Equal(t, http.StatusTooManyRequests, he.Status)
	assert.Equal(t, "slow down", he.Body)
	assert.Contains(t, err.Error(), "http 429")
}

func TestFetchUnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := NewClient(Options{BaseURL: addr, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), NodeQuery("NODE_A", "DAM", testWindow(t)))
	_, ok := IsTransportError(err)
	assert.True(t, ok, "expected TransportError, got %v", err)
}

func TestFetchTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), NodeQuery("NODE_A", "DAM", testWindow(t)))
	_, ok := IsTransportError(err)
	assert.True(t, ok, "expected TransportError, got %v", err)
}

func TestValidMarket(t *testing.T) {
	assert.True(t, ValidMarket("DAM"))
	assert.True(t, ValidMarket("RTM"))
	assert.False(t, ValidMarket("dam"))
	assert.False(t, ValidMarket(""))
}
