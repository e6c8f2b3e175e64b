// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_Success(t *testing.T) {
	body := bytes.Repeat([]byte{0xAB}, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	rec := &recorder{}
	dst := filepath.Join(t.TempDir(), "good.tar.gz")

	err := NewFetcher(testSettings(), rec.record).Fetch(context.Background(), srv.URL+"/good.tar.gz", dst)
	require.NoError(t, err)

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), fi.Size())
	assert.False(t, exists(dst+".part"), "temporary file must be renamed away")

	starts := rec.byType("file_start")
	require.Len(t, starts, 1)
	assert.Equal(t, int64(1024), starts[0].Total)

	done := rec.byType("file_done")
	require.Len(t, done, 1)
	assert.Equal(t, int64(1024), done[0].Total)
	assert.Equal(t, int64(1024), done[0].Downloaded)
}

func TestFetch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rec := &recorder{}
	dst := filepath.Join(t.TempDir(), "missing.tar.gz")

	err := NewFetcher(testSettings(), rec.record).Fetch(context.Background(), srv.URL+"/missing.tar.gz", dst)
	require.Error(t, err)

	assert.Equal(t, KindNetwork, KindOf(err))
	assert.True(t, errors.Is(err, ErrNetwork))

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)

	assert.False(t, exists(dst), "no file may be created for a bad status")
	assert.False(t, exists(dst+".part"))
	assert.Len(t, rec.byType("error"), 1)
	assert.Empty(t, rec.byType("file_start"))
}

func TestFetch_UnknownLengthFinalizesTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing before the handler returns forces chunked encoding.
		for i := 0; i < 3; i++ {
			_, _ = w.Write(bytes.Repeat([]byte("x"), 1000))
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	dst := filepath.Join(t.TempDir(), "stream.bin")

	require.NoError(t, NewFetcher(testSettings(), rec.record).Fetch(context.Background(), srv.URL, dst))

	starts := rec.byType("file_start")
	require.Len(t, starts, 1)
	assert.Zero(t, starts[0].Total, "no declared length")

	done := rec.byType("file_done")
	require.Len(t, done, 1)
	assert.Equal(t, int64(3000), done[0].Total)
	assert.Equal(t, int64(3000), done[0].Downloaded)
}

func TestFetch_TruncatedBodyRemovesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Fprint(buf, "HTTP/1.1 200 OK\r\nContent-Length: 4096\r\nConnection: close\r\n\r\n")
		_, _ = buf.Write(bytes.Repeat([]byte("y"), 1024))
		_ = buf.Flush()
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "short.tar.gz")
	err := NewFetcher(testSettings(), nil).Fetch(context.Background(), srv.URL, dst)

	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.False(t, exists(dst))
	assert.False(t, exists(dst+".part"))
}

func TestFetch_StalledBodyTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		_, _ = w.Write(bytes.Repeat([]byte("z"), 1024))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testSettings()
	cfg.Timeout = 150 * time.Millisecond

	dst := filepath.Join(t.TempDir(), "stalled.bin")
	start := time.Now()
	err := NewFetcher(cfg, nil).Fetch(context.Background(), srv.URL, dst)

	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.False(t, exists(dst))
	assert.False(t, exists(dst+".part"))
}

func TestFetch_ServerErrorRemovesStaleTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "stale.tar.gz")
	writeFile(t, dst, []byte("left over from an interrupted run"))

	err := NewFetcher(testSettings(), nil).Fetch(context.Background(), srv.URL, dst)
	require.Error(t, err)
	assert.False(t, exists(dst))
}

func TestFetch_LocalWriteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "no-such-dir", "file.bin")
	err := NewFetcher(testSettings(), nil).Fetch(context.Background(), srv.URL, dst)

	require.Error(t, err)
	assert.Equal(t, KindIO, KindOf(err))
	assert.True(t, errors.Is(err, ErrLocalIO))
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	dst := filepath.Join(t.TempDir(), "refused.bin")
	err := NewFetcher(testSettings(), nil).Fetch(context.Background(), url, dst)

	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.False(t, exists(dst))
}

func TestFetch_SendsHeaders(t *testing.T) {
	var gotAuth, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := testSettings()
	cfg.Token = "hf_secret"

	dst := filepath.Join(t.TempDir(), "auth.bin")
	require.NoError(t, NewFetcher(cfg, nil).Fetch(context.Background(), srv.URL, dst))

	assert.Equal(t, "Bearer hf_secret", gotAuth)
	assert.Equal(t, "tnsfetch/1", gotUA)
}

func TestFetch_WritesInChunks(t *testing.T) {
	body := bytes.Repeat([]byte("c"), 5000)

	f := NewFetcher(testSettings(), nil)
	w := &chunkWriter{}
	src := bufio.NewReaderSize(bytes.NewReader(body), 4096)
	n, err := f.copyBody(context.Background(), func() {}, w, src, "http://example.invalid/chunks", "chunks", int64(len(body)))

	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)
	require.NotEmpty(t, w.sizes)
	for _, size := range w.sizes {
		assert.LessOrEqual(t, size, 1024)
	}
}

type chunkWriter struct {
	sizes []int
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	c.sizes = append(c.sizes, len(p))
	return len(p), nil
}
