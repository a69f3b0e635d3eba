package archiver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-archiver/internal/clock"
	"github.com/JakeFAU/crawl-archiver/internal/crawler"
)

var frozen = time.Unix(1700000000, 0).UTC()

func newTestArchiver(t *testing.T, cfg Config) (*Archiver, crawler.Layout) {
	t.Helper()
	layout := crawler.NewLayout(t.TempDir(), "test", frozen)
	a := New(layout, cfg, nil, clock.NewFixed(frozen), nil)
	require.NoError(t, a.PrepareDirs())
	return a, layout
}

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a.mp3", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("audio-a"))
	})
	mux.HandleFunc("/stream/one", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("one"))
	})
	mux.HandleFunc("/stream/two", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("two"))
	})
	mux.HandleFunc("/img/logo.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("png"))
	})
	mux.HandleFunc("/video/clip.mp4", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("v"), 1<<20))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ref  crawler.MediaReference
		want string
	}{
		{"last segment", crawler.MediaReference{Kind: crawler.KindAudio, CanonicalURL: "https://x.com/audio/a1.mp3?v=2"}, "a1.mp3"},
		{"no extension", crawler.MediaReference{Kind: crawler.KindAudio, CanonicalURL: "https://x.com/play/123"}, "audio_1700000000.mp3"},
		{"watch url", crawler.MediaReference{Kind: crawler.KindVideo, CanonicalURL: "https://www.youtube.com/watch?v=abc"}, "video_1700000000.mp4"},
		{"root", crawler.MediaReference{Kind: crawler.KindImage, CanonicalURL: "https://x.com/"}, "image_1700000000.jpg"},
		{"hidden", crawler.MediaReference{Kind: crawler.KindImage, CanonicalURL: "https://x.com/.png"}, "image_1700000000.jpg"},
		{"dot dot", crawler.MediaReference{Kind: crawler.KindImage, CanonicalURL: "https://x.com/a/.."}, "image_1700000000.jpg"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, FileName(tc.ref, frozen))
		})
	}
}

func TestArchiveAllSuffixesCollidingNames(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	a, layout := newTestArchiver(t, Config{Concurrency: 1})
	refs := []crawler.MediaReference{
		{Kind: crawler.KindAudio, CanonicalURL: srv.URL + "/stream/one"},
		{Kind: crawler.KindAudio, CanonicalURL: srv.URL + "/stream/two"},
	}

	outcomes := a.ArchiveAll(context.Background(), refs)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "audio_1700000000.mp3", outcomes[0].LocalFilename)
	assert.Equal(t, "audio_1700000000_1.mp3", outcomes[1].LocalFilename)

	first, err := os.ReadFile(filepath.Join(layout.KindDir(crawler.KindAudio), "audio_1700000000.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(first))
	second, err := os.ReadFile(outcomes[1].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "two", string(second))
}

func TestArchiveAllNeverPicksTheSameNameConcurrently(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	a, layout := newTestArchiver(t, Config{Concurrency: 4})
	var refs []crawler.MediaReference
	for i := 0; i < 8; i++ {
		refs = append(refs, crawler.MediaReference{
			Kind:         crawler.KindAudio,
			CanonicalURL: srv.URL + "/stream/one?n=" + string(rune('a'+i)),
		})
	}

	outcomes := a.ArchiveAll(context.Background(), refs)
	names := make(map[string]struct{})
	for _, o := range outcomes {
		require.True(t, o.Succeeded(), o.Error)
		names[o.LocalFilename] = struct{}{}
	}
	assert.Len(t, names, 8)
	entries, err := os.ReadDir(layout.KindDir(crawler.KindAudio))
	require.NoError(t, err)
	assert.Len(t, entries, 8)
}

func TestArchiveAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	a, layout := newTestArchiver(t, Config{Concurrency: 2})
	refs := []crawler.MediaReference{
		{Kind: crawler.KindAudio, CanonicalURL: srv.URL + "/a.mp3", SourcePageURL: srv.URL + "/lessons/1"},
		{Kind: crawler.KindAudio, CanonicalURL: srv.URL + "/missing.mp3"},
		{Kind: crawler.KindImage, CanonicalURL: srv.URL + "/img/logo.png"},
		{Kind: crawler.KindVideo, CanonicalURL: srv.URL + "/video/clip.mp4"},
	}

	outcomes := a.ArchiveAll(context.Background(), refs)
	require.Len(t, outcomes, 4)
	for i, o := range outcomes {
		assert.Equal(t, refs[i], o.Reference)
	}
	assert.True(t, outcomes[0].Succeeded())
	assert.Equal(t, int64(len("audio-a")), outcomes[0].ByteSize)
	assert.False(t, outcomes[1].Succeeded())
	assert.Equal(t, "HTTP 404", outcomes[1].Error)
	assert.Empty(t, outcomes[1].LocalFilename)
	assert.True(t, outcomes[2].Succeeded())
	assert.True(t, outcomes[3].Succeeded())
	assert.Equal(t, int64(1<<20), outcomes[3].ByteSize)

	_, err := os.Stat(filepath.Join(layout.KindDir(crawler.KindAudio), "missing.mp3"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(layout.KindDir(crawler.KindImage), "logo.png"))
	assert.NoError(t, err)
}

func TestArchiveSendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("x"))
	}))
	t.Cleanup(srv.Close)

	a, _ := newTestArchiver(t, Config{Referer: "https://fallback.example/"})
	o := a.Archive(context.Background(), crawler.MediaReference{Kind: crawler.KindImage, CanonicalURL: srv.URL + "/p.gif"})
	require.True(t, o.Succeeded(), o.Error)
	assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))
	assert.Equal(t, "https://fallback.example/", got.Get("Referer"))
	assert.Contains(t, got.Get("Accept"), "image/")

	o = a.Archive(context.Background(), crawler.MediaReference{
		Kind: crawler.KindImage, CanonicalURL: srv.URL + "/q.gif", SourcePageURL: "https://x.com/lessons/1",
	})
	require.True(t, o.Succeeded(), o.Error)
	assert.Equal(t, "https://x.com/lessons/1", got.Get("Referer"))
}

func TestArchiveTimesOutHungTransfer(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/slow.mp3" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte("fast"))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	a, _ := newTestArchiver(t, Config{Concurrency: 2, Timeout: 100 * time.Millisecond})
	outcomes := a.ArchiveAll(context.Background(), []crawler.MediaReference{
		{Kind: crawler.KindAudio, CanonicalURL: srv.URL + "/slow.mp3"},
		{Kind: crawler.KindAudio, CanonicalURL: srv.URL + "/fast.mp3"},
	})
	assert.False(t, outcomes[0].Succeeded())
	assert.Contains(t, outcomes[0].Error, "context deadline exceeded")
	assert.True(t, outcomes[1].Succeeded())
	assert.Equal(t, int32(2), hits.Load())
}

func TestArchiveAllReportsUnattemptedOnCancel(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	a, _ := newTestArchiver(t, Config{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := a.ArchiveAll(ctx, []crawler.MediaReference{
		{Kind: crawler.KindAudio, CanonicalURL: srv.URL + "/a.mp3"},
	})
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Succeeded())
	assert.Contains(t, outcomes[0].Error, "not attempted")
}

func TestArchiveAllPacesEachWorker(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	a, _ := newTestArchiver(t, Config{Concurrency: 1, Pacing: 50 * time.Millisecond})
	start := time.Now()
	outcomes := a.ArchiveAll(context.Background(), []crawler.MediaReference{
		{Kind: crawler.KindAudio, CanonicalURL: srv.URL + "/a.mp3"},
		{Kind: crawler.KindImage, CanonicalURL: srv.URL + "/img/logo.png"},
		{Kind: crawler.KindVideo, CanonicalURL: srv.URL + "/video/clip.mp4"},
	})
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	for _, o := range outcomes {
		assert.True(t, o.Succeeded(), o.Error)
	}
}
