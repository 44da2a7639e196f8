package acquire

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-sim-service/internal/observability"
)

func listingXML(truncated bool, token string, keys ...string) string {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&b, "<IsTruncated>%t</IsTruncated>", truncated)
	if token != "" {
		fmt.Fprintf(&b, "<NextContinuationToken>%s</NextContinuationToken>", token)
	}
	for i, key := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", key, 100+i)
	}
	b.WriteString(`</ListBucketResult>`)
	return b.String()
}

func TestNexradStoreList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "2", r.URL.Query().Get("list-type"))
		require.Equal(t, "2023/08/24/KGRR/", r.URL.Query().Get("prefix"))

		if r.URL.Query().Get("continuation-token") == "" {
			fmt.Fprint(w, listingXML(true, "tok-1", "2023/08/24/KGRR/KGRR20230824_233004_V06"))
			return
		}
		require.Equal(t, "tok-1", r.URL.Query().Get("continuation-token"))
		fmt.Fprint(w, listingXML(false, "", "2023/08/24/KGRR/KGRR20230824_234512_V06"))
	}))
	defer srv.Close()

	store := NewNexradStore(srv.URL, 5*time.Second, observability.NewTestLogger())
	objects, err := store.List(context.Background(), "2023/08/24/KGRR/")
	require.NoError(t, err)

	require.Len(t, objects, 2, "continuation token followed")
	assert.Equal(t, "2023/08/24/KGRR/KGRR20230824_233004_V06", objects[0].Key)
	assert.Equal(t, int64(100), objects[0].Size)
	assert.Equal(t, "2023/08/24/KGRR/KGRR20230824_234512_V06", objects[1].Key)
}

func TestNexradStoreListError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := NewNexradStore(srv.URL, 5*time.Second, observability.NewTestLogger())
	_, err := store.List(context.Background(), "2023/08/24/KGRR/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNexradStoreFetch(t *testing.T) {
	body := []byte("archive two payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2023/08/24/KGRR/KGRR20230824_233004_V06", r.URL.Path)
		w.Write(body)
	}))
	defer srv.Close()

	store := NewNexradStore(srv.URL, 5*time.Second, observability.NewTestLogger())

	var buf bytes.Buffer
	n, err := store.Fetch(context.Background(), "2023/08/24/KGRR/KGRR20230824_233004_V06", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)
	assert.Equal(t, body, buf.Bytes())
}

func TestNexradStoreFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	store := NewNexradStore(srv.URL, 5*time.Second, observability.NewTestLogger())
	var buf bytes.Buffer
	_, err := store.Fetch(context.Background(), "2023/08/24/KGRR/missing", &buf)
	assert.Error(t, err)
}
