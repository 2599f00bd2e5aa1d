// Package upstream implements the UpstreamClient port against remote
// Distribution v2 registries, grounded on the retryable-client-plus-
// challenge-handler pattern: a retryablehttp.Client supplies backoff and
// retry, and a small WWW-Authenticate parser supplies the Bearer token
// exchange.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	rhttp "github.com/hashicorp/go-retryablehttp"
	godigest "github.com/opencontainers/go-digest"

	"github.com/coreforge/registry/internal/domain"
)

// Client implements out.UpstreamClient over a retryablehttp.Client.
type Client struct {
	httpClient *rhttp.Client
	log        zerowrap.Logger
}

// New creates an upstream client with maxRetries retry attempts per request.
func New(maxRetries int, log zerowrap.Logger) *Client {
	rc := rhttp.NewClient()
	rc.RetryMax = maxRetries
	rc.Logger = nil // zerowrap drives our own logging; silence retryablehttp's default logger

	return &Client{httpClient: rc, log: log}
}

// challenge holds a parsed Bearer WWW-Authenticate header.
type challenge struct {
	realm   string
	service string
	scope   string
}

// parseChallenge extracts realm/service/scope from a Bearer
// WWW-Authenticate header value, per the Distribution v2 auth spec.
func parseChallenge(header string) (challenge, error) {
	var c challenge
	if !strings.HasPrefix(header, "Bearer ") {
		return c, fmt.Errorf("unsupported auth scheme: %s", header)
	}
	params := strings.TrimPrefix(header, "Bearer ")
	for _, part := range strings.Split(params, ",") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		val := strings.Trim(kv[1], `"`)
		switch kv[0] {
		case "realm":
			c.realm = val
		case "service":
			c.service = val
		case "scope":
			c.scope = val
		}
	}
	if c.realm == "" {
		return c, fmt.Errorf("challenge missing realm: %s", header)
	}
	return c, nil
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// Authenticate performs an anonymous GET against repository, reads the
// WWW-Authenticate challenge from the 401, and exchanges it for a bearer
// token at the challenge's realm.
func (c *Client) Authenticate(ctx context.Context, remote domain.Remote, scope string) (string, error) {
	probeURL := strings.TrimRight(remote.URL, "/") + "/v2/"
	req, err := rhttp.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return "", fmt.Errorf("build probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return "", nil // upstream does not require auth
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return "", fmt.Errorf("unexpected probe status: %d", resp.StatusCode)
	}

	ch, err := parseChallenge(resp.Header.Get("WWW-Authenticate"))
	if err != nil {
		return "", fmt.Errorf("parse challenge: %w", err)
	}
	if scope != "" {
		ch.scope = scope
	}

	tokenURL, err := url.Parse(ch.realm)
	if err != nil {
		return "", fmt.Errorf("parse token realm: %w", err)
	}
	q := tokenURL.Query()
	if ch.service != "" {
		q.Set("service", ch.service)
	}
	if ch.scope != "" {
		q.Set("scope", ch.scope)
	}
	tokenURL.RawQuery = q.Encode()

	tokenReq, err := rhttp.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	if remote.Username != "" {
		tokenReq.SetBasicAuth(remote.Username, remote.PasswordRef)
	}

	tokenResp, err := c.httpClient.Do(tokenReq)
	if err != nil {
		return "", fmt.Errorf("fetch bearer token: %w", err)
	}
	defer tokenResp.Body.Close()
	if tokenResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", tokenResp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(tokenResp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.Token != "" {
		return tr.Token, nil
	}
	return tr.AccessToken, nil
}

func (c *Client) authed(ctx context.Context, method, rawURL, credential string) (*rhttp.Request, error) {
	req, err := rhttp.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	return req, nil
}

// ListTags fetches the full tag list for repository via the tags/list
// endpoint.
func (c *Client) ListTags(ctx context.Context, remote domain.Remote, credential, repository string) ([]string, error) {
	u := fmt.Sprintf("%s/v2/%s/tags/list", strings.TrimRight(remote.URL, "/"), repository)
	req, err := c.authed(ctx, http.MethodGet, u, credential)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tags returned status %d", resp.StatusCode)
	}

	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode tags list: %w", err)
	}
	return body.Tags, nil
}

const acceptManifestTypes = "application/vnd.oci.image.manifest.v1+json, application/vnd.oci.image.index.v1+json, " +
	"application/vnd.docker.distribution.manifest.v2+json, application/vnd.docker.distribution.manifest.list.v2+json"

// GetManifest fetches a manifest by tag or digest, validating the returned
// Docker-Content-Digest header against the actual bytes.
func (c *Client) GetManifest(ctx context.Context, remote domain.Remote, credential, repository, reference string) ([]byte, string, string, error) {
	u := fmt.Sprintf("%s/v2/%s/manifests/%s", strings.TrimRight(remote.URL, "/"), repository, reference)
	req, err := c.authed(ctx, http.MethodGet, u, credential)
	if err != nil {
		return nil, "", "", err
	}
	req.Header.Set("Accept", acceptManifestTypes)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", fmt.Errorf("fetch manifest returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", fmt.Errorf("read manifest body: %w", err)
	}

	dig := godigest.FromBytes(data).String()
	if advertised := resp.Header.Get("Docker-Content-Digest"); advertised != "" && advertised != dig {
		return nil, "", "", fmt.Errorf("manifest digest mismatch: upstream advertised %s, computed %s", advertised, dig)
	}
	return data, resp.Header.Get("Content-Type"), dig, nil
}

// GetBlob streams a blob by digest; callers must close the returned reader.
func (c *Client) GetBlob(ctx context.Context, remote domain.Remote, credential, repository, digest string) (io.ReadCloser, int64, error) {
	u := fmt.Sprintf("%s/v2/%s/blobs/%s", strings.TrimRight(remote.URL, "/"), repository, digest)
	req, err := c.authed(ctx, http.MethodGet, u, credential)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch blob: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("fetch blob returned status %d", resp.StatusCode)
	}

	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	return resp.Body, size, nil
}

// Head probes digest at the manifest endpoint first, falling back to the
// blob endpoint, without ever reading a response body — the HEAD-then-GET
// pattern every Distribution v2 client uses to check existence and content
// type before deciding whether to stream bytes.
func (c *Client) Head(ctx context.Context, remote domain.Remote, credential, repository, digest string) (string, int64, bool, error) {
	manifestURL := fmt.Sprintf("%s/v2/%s/manifests/%s", strings.TrimRight(remote.URL, "/"), repository, digest)
	if contentType, size, ok, err := c.head(ctx, manifestURL, credential); err != nil {
		return "", 0, false, err
	} else if ok {
		return contentType, size, true, nil
	}

	blobURL := fmt.Sprintf("%s/v2/%s/blobs/%s", strings.TrimRight(remote.URL, "/"), repository, digest)
	contentType, size, ok, err := c.head(ctx, blobURL, credential)
	if err != nil {
		return "", 0, false, err
	}
	if !ok {
		return "", 0, false, fmt.Errorf("head %s: not found upstream", digest)
	}
	return contentType, size, false, nil
}

// head issues a single HEAD request, returning ok=false (no error) for a
// 404 so Head can fall through to the next candidate endpoint.
func (c *Client) head(ctx context.Context, rawURL, credential string) (string, int64, bool, error) {
	req, err := c.authed(ctx, http.MethodHead, rawURL, credential)
	if err != nil {
		return "", 0, false, err
	}
	req.Header.Set("Accept", acceptManifestTypes)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, false, fmt.Errorf("head %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", 0, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, false, fmt.Errorf("head %s returned status %d", rawURL, resp.StatusCode)
	}

	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	return resp.Header.Get("Content-Type"), size, true, nil
}

// FetchRaw GETs an absolute URL as-is, used for the external sigstore
// signature-store layout which lives outside the /v2/ path space.
func (c *Client) FetchRaw(ctx context.Context, remote domain.Remote, credential, rawURL string) ([]byte, error) {
	req, err := c.authed(ctx, http.MethodGet, rawURL, credential)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned status %d", rawURL, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// GetSignatures fetches any signatures the upstream exposes under the
// extensions/v2 signatures path; a 404 is treated as "no signatures" rather
// than an error, since most upstreams do not implement this extension.
func (c *Client) GetSignatures(ctx context.Context, remote domain.Remote, credential, repository, manifestDigest string) ([]domain.Signature, error) {
	u := fmt.Sprintf("%s/extensions/v2/%s/signatures/%s", strings.TrimRight(remote.URL, "/"), repository, manifestDigest)
	req, err := c.authed(ctx, http.MethodGet, u, credential)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch signatures: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch signatures returned status %d", resp.StatusCode)
	}

	var body struct {
		Signatures []struct {
			Digest string `json:"digest"`
			Kind   string `json:"kind"`
			Data   []byte `json:"data"`
		} `json:"signatures"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}

	out := make([]domain.Signature, 0, len(body.Signatures))
	for _, s := range body.Signatures {
		out = append(out, domain.Signature{
			Digest:         s.Digest,
			ManifestDigest: manifestDigest,
			Kind:           domain.SignatureKind(s.Kind),
			Data:           s.Data,
			CreatedAt:      time.Now(),
		})
	}
	return out, nil
}
