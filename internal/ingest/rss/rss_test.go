package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulndash/vulndash/internal/models"
)

type fakeRawStore struct {
	inserted []struct{ source, ref, content string }
}

func (f *fakeRawStore) InsertRawEntry(ctx context.Context, source, sourceRef, rawContent string, retentionDays int) (uuid.UUID, error) {
	f.inserted = append(f.inserted, struct{ source, ref, content string }{source, sourceRef, rawContent})
	return uuid.New(), nil
}

const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<item>
  <title>Acme Security Advisory 2024-01</title>
  <description>Critical heap overflow in Acme Gateway.</description>
  <guid>acme-2024-01</guid>
</item>
<item>
  <title>No GUID, has link</title>
  <description>Uses link as fallback ref.</description>
  <link>https://example.com/advisory/2</link>
</item>
<item>
  <title>Unusable item</title>
  <description>Neither guid nor link present.</description>
</item>
</channel></rss>`

func TestIngester_Poll_StagesItemsByGUIDOrLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer server.Close()

	store := &fakeRawStore{}
	ing := New(store)
	stats, err := ing.Poll(context.Background(), models.SourceConfig{Name: "acme-rss", URL: server.URL})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 2, stats.New, "the item with neither guid nor link is skipped")
	require.Len(t, store.inserted, 2)
	assert.Equal(t, "acme-2024-01", store.inserted[0].ref)
	assert.Equal(t, "https://example.com/advisory/2", store.inserted[1].ref)
}

func TestIngester_Poll_MissingURLIsAnError(t *testing.T) {
	ing := New(&fakeRawStore{})
	_, err := ing.Poll(context.Background(), models.SourceConfig{Name: "no-url"})
	assert.Error(t, err)
}
