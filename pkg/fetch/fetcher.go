// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tumornetsolvers/tnsfetch/internal/logctx"
)

// progressInterval throttles file_progress events.
const progressInterval = 200 * time.Millisecond

// Fetcher streams remote resources to local files.
type Fetcher struct {
	httpc    *http.Client
	cfg      Settings
	progress ProgressFunc
}

// NewFetcher returns a Fetcher using cfg (defaults applied) that reports to progress.
// progress may be nil.
func NewFetcher(cfg Settings, progress ProgressFunc) *Fetcher {
	cfg = cfg.withDefaults()
	return &Fetcher{
		httpc:    buildHTTPClient(cfg.Timeout),
		cfg:      cfg,
		progress: progress,
	}
}

// buildHTTPClient bounds connect and response-header waits by timeout. Body
// reads are bounded separately by the idle timer in copyBody.
func buildHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// addAuth adds authentication and user-agent headers to a request.
func addAuth(req *http.Request, cfg Settings) {
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
}

func (f *Fetcher) emit(ev ProgressEvent) {
	if f.progress == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	f.progress(ev)
}

// Fetch downloads url to dst. The body is written to dst+".part" and renamed
// to dst once complete. On failure neither file exists when Fetch returns.
func (f *Fetcher) Fetch(ctx context.Context, url, dst string) error {
	logger := logctx.LoggerFromContext(ctx)
	logger.Info("attempting download", "url", url)

	n, err := f.fetch(ctx, url, dst)
	if err != nil {
		logger.Error("download failed", "url", url, "err", err)
		f.emit(ProgressEvent{Level: "error", Event: "error", Path: filepath.Base(dst), URL: url, Message: err.Error()})
		return err
	}

	logger.Info("successfully downloaded", "file", filepath.Base(dst), "size", humanize.Bytes(uint64(n)))
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, url, dst string) (written int64, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tmp := dst + ".part"
	defer func() {
		if err != nil {
			removeIfExists(ctx, tmp)
			removeIfExists(ctx, dst)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &Error{Kind: KindNetwork, Op: "fetch", URL: url, Err: err}
	}
	addAuth(req, f.cfg)

	resp, err := f.httpc.Do(req)
	if err != nil {
		return 0, &Error{Kind: KindNetwork, Op: "fetch", URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &Error{
			Kind:       KindNetwork,
			Op:         "fetch",
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("bad status: %s", resp.Status),
		}
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	logctx.LoggerFromContext(ctx).Info("downloading", "path", dst, "total", humanize.Bytes(uint64(total)))

	out, err := os.Create(tmp)
	if err != nil {
		return 0, &Error{Kind: ioKind(err), Op: "fetch", Path: tmp, URL: url, Err: err}
	}

	written, err = f.copyBody(ctx, cancel, out, resp.Body, url, filepath.Base(dst), total)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = &Error{Kind: ioKind(cerr), Op: "fetch", Path: tmp, URL: url, Err: cerr}
	}
	if err != nil {
		return written, err
	}

	if err := os.Rename(tmp, dst); err != nil {
		return written, &Error{Kind: ioKind(err), Op: "fetch", Path: dst, URL: url, Err: err}
	}

	done := total
	if done == 0 {
		done = written
	}
	f.emit(ProgressEvent{Event: "file_done", Path: filepath.Base(dst), URL: url, Total: done, Downloaded: written})
	return written, nil
}

// copyBody moves body to out in ChunkSize pieces. Each read must complete
// within Timeout or the request is canceled.
func (f *Fetcher) copyBody(ctx context.Context, cancel context.CancelFunc, out io.Writer, body io.Reader, url, name string, total int64) (int64, error) {
	var stalled atomic.Bool
	idle := time.AfterFunc(f.cfg.Timeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer idle.Stop()

	f.emit(ProgressEvent{Event: "file_start", Path: name, URL: url, Total: total})

	buf := make([]byte, f.cfg.ChunkSize)
	var downloaded int64
	lastEmit := time.Now()

	for {
		n, rerr := body.Read(buf)
		idle.Reset(f.cfg.Timeout)

		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return downloaded, &Error{Kind: ioKind(werr), Op: "fetch", Path: name, URL: url, Err: werr}
			}
			downloaded += int64(n)
			if time.Since(lastEmit) >= progressInterval {
				f.emit(ProgressEvent{Event: "file_progress", Path: name, URL: url, Total: total, Downloaded: downloaded})
				lastEmit = time.Now()
			}
		}

		if errors.Is(rerr, io.EOF) {
			f.emit(ProgressEvent{Event: "file_progress", Path: name, URL: url, Total: total, Downloaded: downloaded})
			return downloaded, nil
		}
		if rerr != nil {
			if stalled.Load() {
				rerr = fmt.Errorf("no data received for %s: %w", f.cfg.Timeout, rerr)
			}
			return downloaded, &Error{Kind: KindNetwork, Op: "fetch", URL: url, Err: rerr}
		}
		if err := ctx.Err(); err != nil {
			return downloaded, &Error{Kind: KindNetwork, Op: "fetch", URL: url, Err: err}
		}
	}
}

// removeIfExists deletes path, logging anything but a missing file.
func removeIfExists(ctx context.Context, path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		logctx.LoggerFromContext(ctx).Info("removed incomplete file", "path", path)
	case errors.Is(err, os.ErrNotExist):
	default:
		logctx.LoggerFromContext(ctx).Warn("could not remove incomplete file", "path", path, "err", err)
	}
}
