package storeclient

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/caindex/pkg/errs"
	"github.com/cuemby/caindex/pkg/types"
)

// Default per-request timeouts (§4.1). Pointer writes during a snapshot
// completion may need the longer PointerWriteTimeout.
const (
	ConnectTimeout       = 5 * time.Second
	DefaultTimeout       = 30 * time.Second
	PointerWriteTimeout  = 600 * time.Second
)

// HTTPGateway talks to a Kubo-compatible (IPFS HTTP RPC) store API. It
// keeps a single pooled *http.Client for its lifetime, per §4.4's shared
// HTTP client requirement, reused across every call this gateway makes.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway builds a gateway against the store's base API URL (e.g.
// "http://127.0.0.1:5001/api/v0"), with connection pooling and a fixed
// per-call timeout (DefaultTimeout or PointerWriteTimeout, by call). A
// caller's context deadline can shorten a call but cannot extend it.
func NewHTTPGateway(baseURL string) *HTTPGateway {
	dialer := &net.Dialer{Timeout: ConnectTimeout}
	return &HTTPGateway{
		baseURL: baseURL,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
			// No client-wide Timeout: each call supplies its own
			// context deadline (DefaultTimeout or PointerWriteTimeout)
			// via postRaw, since pointer writes need a longer budget.
		},
	}
}

func (g *HTTPGateway) DagPut(ctx context.Context, obj any, codec Codec) (types.CID, error) {
	data, err := marshal(obj, codec)
	if err != nil {
		return "", errs.Protocolf("encode object: %v", err)
	}

	storeCodec := "dag-cbor"
	inputCodec := "json"
	if codec == CodecCBOR {
		inputCodec = "cbor"
	}

	body, contentType, err := multipartFile("file", "object.bin", data)
	if err != nil {
		return "", errs.Protocolf("build multipart body: %v", err)
	}

	q := url.Values{}
	q.Set("store-codec", storeCodec)
	q.Set("input-codec", inputCodec)
	q.Set("pin", "true")
	q.Set("allow-big-block", "true")

	var result struct {
		Cid struct {
			Slash string `json:"/"`
		} `json:"Cid"`
	}
	if err := g.post(ctx, "/dag/put", q, contentType, body, &result, DefaultTimeout); err != nil {
		return "", err
	}
	return types.CID(result.Cid.Slash), nil
}

func (g *HTTPGateway) DagGet(ctx context.Context, c types.CID, out any) error {
	q := url.Values{}
	q.Set("arg", string(c))
	return g.post(ctx, "/dag/get", q, "", nil, out, DefaultTimeout)
}

func (g *HTTPGateway) DagGetRaw(ctx context.Context, c types.CID) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("arg", string(c))
	return g.postRaw(ctx, "/dag/get", q, "", nil, DefaultTimeout)
}

func (g *HTTPGateway) FilesRead(ctx context.Context, path string) ([]byte, error) {
	q := url.Values{}
	q.Set("arg", path)
	rc, err := g.postRaw(ctx, "/files/read", q, "", nil, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (g *HTTPGateway) FilesWrite(ctx context.Context, path string, data []byte, create, truncate, parents bool) error {
	body, contentType, err := multipartFile("file", "data.bin", data)
	if err != nil {
		return errs.Protocolf("build multipart body: %v", err)
	}

	q := url.Values{}
	q.Set("arg", path)
	q.Set("create", boolStr(create))
	q.Set("truncate", boolStr(truncate))
	q.Set("parents", boolStr(parents))

	return g.post(ctx, "/files/write", q, contentType, body, nil, PointerWriteTimeout)
}

func (g *HTTPGateway) FilesMkdir(ctx context.Context, path string, parents bool) error {
	q := url.Values{}
	q.Set("arg", path)
	q.Set("parents", boolStr(parents))
	return g.post(ctx, "/files/mkdir", q, "", nil, DefaultTimeout)
}

func (g *HTTPGateway) DagExport(ctx context.Context, root types.CID) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("arg", string(root))
	return g.postRaw(ctx, "/dag/export", q, "", nil, PointerWriteTimeout)
}

func (g *HTTPGateway) post(ctx context.Context, path string, q url.Values, contentType string, body io.Reader, out any, timeout time.Duration) error {
	rc, err := g.postRaw(ctx, path, q, contentType, body, timeout)
	if err != nil {
		return err
	}
	defer rc.Close()

	if out == nil {
		_, err := io.Copy(io.Discard, rc)
		return err
	}
	return unmarshal(mustReadAll(rc), out, CodecJSON)
}

func (g *HTTPGateway) postRaw(ctx context.Context, path string, q url.Values, contentType string, body io.Reader, timeout time.Duration) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	reqURL := g.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		cancel()
		return nil, errs.Protocolf("build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		return nil, errs.Transientf("request %s: %v", path, err)
	}

	// The MFS read/stat family reports a missing path as a plain 500
	// rather than 404 (the original implementation's heuristic). Scope
	// the 500->NotFound translation to those paths only: a dag/get or
	// dag/export 500 is a genuine store-side failure and must stay
	// Transient, or buildFull would silently mistake it for end-of-chain.
	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode == http.StatusInternalServerError && isMFSReadPath(path)) {
		resp.Body.Close()
		cancel()
		return nil, errs.NotFoundf("%s: status %d", path, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		cancel()
		return nil, errs.Transientf("%s: status %d", path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		cancel()
		return nil, errs.Protocolf("%s: status %d", path, resp.StatusCode)
	}

	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelReadCloser ties the request's context cancellation to the
// response body's lifetime so timeouts apply to the full read, not just
// the initial round trip.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func multipartFile(field, filename string, data []byte) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// isMFSReadPath reports whether path is one of the mutable-namespace
// read/stat calls that report a missing entry as a bare 500, the
// heuristic the original implementation relies on.
func isMFSReadPath(path string) bool {
	switch path {
	case "/files/read", "/files/stat":
		return true
	default:
		return false
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func mustReadAll(r io.Reader) []byte {
	data, _ := io.ReadAll(r)
	return data
}
