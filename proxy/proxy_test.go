package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/stretchr/testify/require"
)

func tokenPtr(s string) *string { return &s }

func TestGetFetchesAndCachesList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"results":[{"proxy_address":"1.2.3.4","port":8080,"username":"u","password":"p","valid":true},{"proxy_address":"5.6.7.8","port":9090,"username":"u2","password":"p2","valid":false}]}`))
	}))
	defer server.Close()

	client := kv.NewFakeClient()
	pool := &Pool{KV: client, Token: tokenPtr("test-token"), ListURL: server.URL}

	info, err := pool.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4", info.Address)
	require.Equal(t, 8080, info.Port)
}

func TestGetNoTokenErrors(t *testing.T) {
	pool := &Pool{KV: kv.NewFakeClient()}
	_, err := pool.Get(context.Background())
	require.Error(t, err)
}

func TestGetWaitPeriodWithinRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		p := getWaitPeriodSeconds()
		require.GreaterOrEqual(t, p, int64(15*60))
		require.LessOrEqual(t, p, int64(60*60))
	}
}
