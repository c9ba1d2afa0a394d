package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	CloudName string
	APIKey    string
	APISecret string
}

// Client talks to the Cloudinary upload API directly (signed REST calls,
// no SDK). BaseURL is settable for tests.
type Client struct {
	cfg        Config
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		BaseURL: "https://api.cloudinary.com/v1_1",
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Enabled reports whether all three credentials are present. An unconfigured
// client is valid: every Upload just returns a not-configured result.
func (c *Client) Enabled() bool {
	return c.cfg.CloudName != "" && c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

// UploadResult is what a batch loop gets back. Upload never returns a Go
// error: failures land in Err/OK so callers fall back to the source path
// without unwinding the event.
type UploadResult struct {
	OK       bool
	URL      string
	PublicID string
	Width    int
	Height   int
	Bytes    int64
	Format   string
	Err      string
}

// Sign produces the Cloudinary request signature: params sorted by key,
// joined as k=v with '&', API secret appended, SHA-1 hex digest.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString(secret)

	sum := sha1.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Upload pushes one base64 image (raw or data-URI) to hosted storage.
// The public id is irex/<eventID>/<type>_<unixSeconds> so assets group by
// event in the media library.
func (c *Client) Upload(ctx context.Context, image, eventID, snapshotType string) UploadResult {
	if !c.Enabled() {
		return UploadResult{Err: "cloudinary not configured"}
	}

	if snapshotType == "" {
		snapshotType = "snapshot"
	}
	now := time.Now().Unix()
	publicID := fmt.Sprintf("irex/%s/%s_%d", eventID, strings.ToLower(snapshotType), now)
	ts := strconv.FormatInt(now, 10)

	signature := Sign(map[string]string{
		"public_id": publicID,
		"timestamp": ts,
	}, c.cfg.APISecret)

	file := image
	if !strings.HasPrefix(file, "data:") {
		file = "data:image/jpeg;base64," + file
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"file":      file,
		"api_key":   c.cfg.APIKey,
		"timestamp": ts,
		"public_id": publicID,
		"signature": signature,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return UploadResult{Err: err.Error()}
		}
	}
	mw.Close()

	endpoint := fmt.Sprintf("%s/%s/image/upload", c.BaseURL, c.cfg.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return UploadResult{Err: err.Error()}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return UploadResult{Err: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return UploadResult{Err: "cloudinary upload failed: " + msg}
	}

	var uploaded struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
		PublicID  string `json:"public_id"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Bytes     int64  `json:"bytes"`
		Format    string `json:"format"`
	}
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return UploadResult{Err: fmt.Sprintf("cloudinary response decode: %v", err)}
	}

	hostedURL := uploaded.SecureURL
	if hostedURL == "" {
		hostedURL = uploaded.URL
	}

	return UploadResult{
		OK:       true,
		URL:      hostedURL,
		PublicID: uploaded.PublicID,
		Width:    uploaded.Width,
		Height:   uploaded.Height,
		Bytes:    uploaded.Bytes,
		Format:   uploaded.Format,
	}
}

// Destroy removes a hosted asset by public id. Used by retention tooling,
// not by the ingest path.
func (c *Client) Destroy(ctx context.Context, publicID string) error {
	if !c.Enabled() {
		return errors.New("cloudinary not configured")
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	signature := Sign(map[string]string{
		"public_id": publicID,
		"timestamp": ts,
	}, c.cfg.APISecret)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"public_id": publicID,
		"api_key":   c.cfg.APIKey,
		"timestamp": ts,
		"signature": signature,
	} {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	mw.Close()

	endpoint := fmt.Sprintf("%s/%s/image/destroy", c.BaseURL, c.cfg.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}

	// "not found" is success for retention purposes: the asset is gone.
	if out.Result != "ok" && out.Result != "not found" {
		return fmt.Errorf("cloudinary destroy: %s", out.Result)
	}
	return nil
}
