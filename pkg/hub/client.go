// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tumornetsolvers/tnsfetch/internal/logctx"
)

// DefaultEndpoint is the default Hugging Face Hub URL.
// It can be overridden for mirrors through Client.Endpoint.
const DefaultEndpoint = "https://huggingface.co"

// Repo identifies a Hub repository at a revision.
type Repo struct {
	// ID is the repository ID in "owner/name" format.
	ID string

	// IsDataset selects the datasets API instead of the models API.
	IsDataset bool

	// Revision is the branch, tag or commit. If empty, defaults to "main".
	Revision string
}

func (r Repo) revision() string {
	if r.Revision == "" {
		return "main"
	}
	return r.Revision
}

// File is one entry of a repository listing.
type File struct {
	// Path is relative to the repository root, slash separated.
	Path string `json:"path"`
	// Size is the real size of the file (the LFS size for LFS files).
	Size int64 `json:"size"`
	LFS  bool  `json:"lfs"`
	// URL downloads the file content.
	URL string `json:"url"`
}

// node is a file or directory in the Hub tree API response.
type node struct {
	Type string   `json:"type"` // "file"|"directory" (sometimes "blob"|"tree")
	Path string   `json:"path"`
	Size int64    `json:"size,omitempty"`
	LFS  *lfsInfo `json:"lfs,omitempty"`
}

type lfsInfo struct {
	Oid  string `json:"oid,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Client lists repository trees on the Hub.
type Client struct {
	// Endpoint is the Hub base URL. Empty means DefaultEndpoint.
	Endpoint string
	// Token, when set, is sent as a bearer token.
	Token string

	httpc *http.Client
}

// NewClient returns a Client whose requests give up after timeout without a response.
func NewClient(endpoint, token string, timeout time.Duration) *Client {
	return &Client{Endpoint: endpoint, Token: token, httpc: buildHTTPClient(timeout)}
}

func buildHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: 2 * timeout}
}

func (c *Client) endpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return strings.TrimSuffix(c.Endpoint, "/")
}

func (c *Client) addAuth(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("User-Agent", "tnsfetch/1")
}

// ListFiles walks the repository tree below prefix (empty for the root) and
// returns every file once, in listing order.
func (c *Client) ListFiles(ctx context.Context, repo Repo, prefix string) ([]File, error) {
	if err := ValidateRepoID(repo.ID); err != nil {
		return nil, err
	}
	prefix = strings.Trim(prefix, "/")

	var files []File
	seen := make(map[string]struct{})
	err := c.walkTree(ctx, repo, prefix, func(n node) error {
		if n.Type != "file" && n.Type != "blob" {
			return nil
		}
		if _, ok := seen[n.Path]; ok {
			return nil
		}
		seen[n.Path] = struct{}{}

		// For LFS files n.Size is the pointer size.
		f := File{Path: n.Path, Size: n.Size, LFS: n.LFS != nil}
		if n.LFS != nil && n.LFS.Size > 0 {
			f.Size = n.LFS.Size
		}
		if f.LFS {
			f.URL = c.resolveURL(repo, n.Path)
		} else {
			f.URL = c.rawURL(repo, n.Path)
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Client) walkTree(ctx context.Context, repo Repo, prefix string, fn func(node) error) error {
	reqURL := c.treeURL(repo, prefix)
	logctx.LoggerFromContext(ctx).Debug("listing tree", "url", reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	c.addAuth(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("list %s: %w", repo.ID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return newStatusError(repo, reqURL, resp,
			fmt.Sprintf("repo requires token or you do not have access (visit %s)", c.repoPage(repo)))
	case http.StatusForbidden:
		return newStatusError(repo, reqURL, resp,
			fmt.Sprintf("please accept the repository terms: %s", c.repoPage(repo)))
	case http.StatusTooManyRequests:
		return newStatusError(repo, reqURL, resp, "the Hub is throttling requests")
	default:
		return newStatusError(repo, reqURL, resp, "tree API failed")
	}

	var nodes []node
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return fmt.Errorf("decode tree %s: %w", reqURL, err)
	}

	for _, n := range nodes {
		switch n.Type {
		case "directory", "tree":
			if err := c.walkTree(ctx, repo, n.Path, fn); err != nil {
				return err
			}
		default:
			if err := fn(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// URL builders. The repo ID keeps its literal slash.

func (c *Client) kindPath(repo Repo) string {
	if repo.IsDataset {
		return "datasets/" + repo.ID
	}
	return repo.ID
}

func (c *Client) rawURL(repo Repo, path string) string {
	return fmt.Sprintf("%s/%s/raw/%s/%s", c.endpoint(), c.kindPath(repo), url.PathEscape(repo.revision()), pathEscapeAll(path))
}

func (c *Client) resolveURL(repo Repo, path string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint(), c.kindPath(repo), url.PathEscape(repo.revision()), pathEscapeAll(path))
}

func (c *Client) treeURL(repo Repo, prefix string) string {
	api := "models"
	if repo.IsDataset {
		api = "datasets"
	}
	base := fmt.Sprintf("%s/api/%s/%s/tree/%s", c.endpoint(), api, repo.ID, url.PathEscape(repo.revision()))
	if prefix == "" {
		return base
	}
	return base + "/" + pathEscapeAll(prefix)
}

func (c *Client) repoPage(repo Repo) string {
	return c.endpoint() + "/" + c.kindPath(repo)
}

func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}

// ValidateRepoID checks that id is in "owner/name" format.
func ValidateRepoID(id string) error {
	if id == "" {
		return ErrMissingRepo
	}
	if !IsValidRepoID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidRepo, id)
	}
	return nil
}

// IsValidRepoID reports whether id is in "owner/name" format.
func IsValidRepoID(id string) bool {
	parts := strings.Split(id, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != "" && parts[0] != ".." && parts[1] != ".."
}
