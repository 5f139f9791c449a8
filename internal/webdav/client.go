// Package webdav is a small WebDAV client for the bookmark export file.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/TheMichaelB/marksync/internal/config"
	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/internal/transport"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:"><d:prop><d:resourcetype/><d:getlastmodified/></d:prop></d:propfind>`

// Credentials identify a WebDAV remote.
type Credentials struct {
	URL           string
	Username      string
	Password      string
	Path          string // remote folder, e.g. /bookmarks
	AllowInsecure bool
}

// CredentialsFromSettings extracts WebDAV credentials from settings.
func CredentialsFromSettings(s *models.Settings) Credentials {
	return Credentials{
		URL:           s.WebDAVURL,
		Username:      s.WebDAVUsername,
		Password:      s.WebDAVPassword,
		Path:          s.WebDAVPath,
		AllowInsecure: s.WebDAVAllowInsecure,
	}
}

// Client talks to one WebDAV remote.
type Client struct {
	http     transport.Doer
	base     *url.URL
	folder   string
	fileName string
	username string
	password string
	logger   *events.Logger
}

// NewClient validates the credentials and creates a client.
func NewClient(creds Credentials, cfg config.WebDAVConfig, logger *events.Logger) (*Client, error) {
	httpClient := transport.NewHTTPClient(transport.Options{
		Timeout:    cfg.Timeout,
		UserAgent:  cfg.UserAgent,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}, logger)
	return NewClientWithDoer(creds, cfg.FileName, httpClient, logger)
}

// NewClientWithDoer creates a client on an existing transport.
func NewClientWithDoer(creds Credentials, fileName string, doer transport.Doer, logger *events.Logger) (*Client, error) {
	if v := ValidateURL(creds.URL, creds.AllowInsecure); !v.Valid {
		return nil, &models.WebDAVError{Kind: models.WebDAVConfig, Op: "configure", Err: fmt.Errorf("%w: %s", models.ErrInvalidURL, v.Error)}
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, &models.WebDAVError{Kind: models.WebDAVConfig, Op: "configure", Err: errors.New("username and password are required")}
	}
	if fileName == "" {
		fileName = "bookmarks.json"
	}

	base, _ := url.Parse(strings.TrimSpace(creds.URL))

	return &Client{
		http:     doer,
		base:     base,
		folder:   cleanFolder(creds.Path),
		fileName: fileName,
		username: creds.Username,
		password: creds.Password,
		logger:   logger.WithFields(map[string]interface{}{"component": "webdav", "host": base.Host}),
	}, nil
}

// FilePath returns the remote path of the export file.
func (c *Client) FilePath() string {
	return path.Join(c.folder, c.fileName)
}

// TestConnection checks that the remote root is reachable with the credentials.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.Exists(ctx, "/")
	return err
}

// Exists reports whether a resource exists at p, relative to the base URL.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	resp, err := c.do(ctx, "PROPFIND", p, http.Header{
		"Depth":        {"0"},
		"Content-Type": {`application/xml; charset="utf-8"`},
	}, []byte(propfindBody))
	if err != nil {
		return false, c.networkError("propfind", err)
	}

	switch {
	case resp.StatusCode == http.StatusMultiStatus, resp.OK():
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, c.statusError("propfind", resp.StatusCode)
	}
}

// Mkcol creates a collection. An existing collection is not an error.
func (c *Client) Mkcol(ctx context.Context, p string) error {
	resp, err := c.do(ctx, "MKCOL", p, nil, nil)
	if err != nil {
		return c.networkError("mkcol", err)
	}

	switch {
	case resp.OK(), resp.StatusCode == http.StatusMethodNotAllowed:
		return nil
	default:
		return c.statusError("mkcol", resp.StatusCode)
	}
}

// EnsureFolder probes the remote folder and creates it when missing, falling
// back to creating each segment when the parent chain is absent.
// Failures other than authentication are logged and left for the upload to surface.
func (c *Client) EnsureFolder(ctx context.Context) error {
	folder := path.Join("/", strings.Trim(c.folder, "/"))
	if folder == "/" {
		return nil
	}

	exists, err := c.Exists(ctx, folder+"/")
	if err == nil && exists {
		return nil
	}
	if err != nil {
		if c.fatal(ctx, err) {
			return err
		}
		c.logger.WithError(err).WithField("folder", folder).Debug("Remote folder probe failed")
	}

	err = c.Mkcol(ctx, folder+"/")
	if err == nil {
		return nil
	}
	if c.fatal(ctx, err) {
		return err
	}

	current := "/"
	for _, seg := range strings.Split(strings.Trim(folder, "/"), "/") {
		current = path.Join(current, seg)
		if err := c.Mkcol(ctx, current+"/"); err != nil {
			if c.fatal(ctx, err) {
				return err
			}
			c.logger.WithError(err).WithField("folder", current).Warn("Failed to ensure remote folder")
		}
	}
	return nil
}

func (c *Client) fatal(ctx context.Context, err error) bool {
	return isAuth(err) || ctx.Err() != nil
}

// Head returns metadata for the export file.
func (c *Client) Head(ctx context.Context) (*models.RemoteMetadata, error) {
	resp, err := c.do(ctx, http.MethodHead, c.FilePath(), nil, nil)
	if err != nil {
		return nil, c.networkError("head", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return &models.RemoteMetadata{Exists: false}, nil
	}
	if !resp.OK() {
		return nil, c.statusError("head", resp.StatusCode)
	}

	meta := &models.RemoteMetadata{
		Exists: true,
		ETag:   resp.Header.Get("ETag"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			t = t.UTC()
			meta.LastModified = &t
		}
	}
	return meta, nil
}

// Download fetches the export file.
func (c *Client) Download(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.FilePath(), http.Header{"Accept": {"application/json"}}, nil)
	if err != nil {
		return nil, c.networkError("get", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, &models.WebDAVError{Kind: models.WebDAVSync, Op: "get", StatusCode: resp.StatusCode, Err: models.ErrNotFound}
	}
	if !resp.OK() {
		return nil, c.statusError("get", resp.StatusCode)
	}
	return resp.Body, nil
}

// Upload replaces the export file.
func (c *Client) Upload(ctx context.Context, data []byte) error {
	resp, err := c.do(ctx, http.MethodPut, c.FilePath(), http.Header{
		"Content-Type": {"application/json; charset=utf-8"},
	}, data)
	if err != nil {
		return c.networkError("put", err)
	}
	if !resp.OK() {
		return c.statusError("put", resp.StatusCode)
	}

	c.logger.WithFields(map[string]interface{}{
		"path": c.FilePath(),
		"size": len(data),
	}).Debug("Uploaded export")
	return nil
}

func (c *Client) do(ctx context.Context, method, p string, header http.Header, body []byte) (*transport.Response, error) {
	return c.http.Do(ctx, &transport.Request{
		Method:   method,
		URL:      c.resolve(p),
		Header:   header,
		Body:     body,
		Username: c.username,
		Password: c.password,
	})
}

// resolve joins p onto the base URL path, keeping a trailing slash.
func (c *Client) resolve(p string) string {
	u := *c.base
	joined := path.Join("/", c.base.Path, p)
	if strings.HasSuffix(p, "/") && joined != "/" {
		joined += "/"
	}
	u.Path = joined
	u.RawPath = ""
	return u.String()
}

func (c *Client) networkError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &models.WebDAVError{Kind: models.WebDAVNetwork, Op: op, Err: err}
}

func (c *Client) statusError(op string, status int) error {
	kind := models.WebDAVSync
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = models.WebDAVAuth
	}
	return &models.WebDAVError{Kind: kind, Op: op, StatusCode: status, Err: errors.New(http.StatusText(status))}
}

func isAuth(err error) bool {
	var davErr *models.WebDAVError
	return errors.As(err, &davErr) && davErr.Kind == models.WebDAVAuth
}

func cleanFolder(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = models.DefaultWebDAVPath
	}
	return path.Clean("/" + p)
}

// ValidateURL checks a WebDAV server URL. Plain http is accepted only for
// loopback hosts or when allowInsecure is set.
func ValidateURL(raw string, allowInsecure bool) models.URLValidation {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.URLValidation{Error: "URL is required"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return models.URLValidation{Error: fmt.Sprintf("Invalid URL: %v", err)}
	}
	if u.Host == "" {
		return models.URLValidation{Error: "URL must include a host"}
	}
	if u.User != nil {
		return models.URLValidation{Error: "Credentials must not be embedded in the URL"}
	}

	switch u.Scheme {
	case "https":
		return models.URLValidation{Valid: true}
	case "http":
		if allowInsecure || isLoopback(u.Hostname()) {
			return models.URLValidation{Valid: true}
		}
		return models.URLValidation{Error: "HTTPS is required for remote servers"}
	default:
		return models.URLValidation{Error: fmt.Sprintf("Unsupported scheme %q", u.Scheme)}
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

