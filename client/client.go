// Package client is a Go client for the partflow transfer API. It
// drives resumable multipart uploads end to end: declaring a transfer,
// uploading parts with checksums, resuming after interruption, and
// committing the assembled object.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/partflow/partflow"
)

const (
	defaultServer     = "http://localhost:5808"
	defaultPartSize   = 8 << 20 // 8 MiB
	signatureLifetime = 15 * time.Minute
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status       int
	Code         string
	Message      string
	MissingParts []int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client talks to a partflow server.
type Client struct {
	server     string
	httpClient *http.Client
	signer     *partflow.Signer
}

// New creates a client from the given config. When an access key and
// secret are configured, every request is signed with AWS Signature V4.
func New(cfg *Config) (*Client, error) {
	server := cfg.Server
	if server == "" {
		server = defaultServer
	}
	if _, err := url.Parse(server); err != nil {
		return nil, fmt.Errorf("new client: invalid server url %q: %w", server, err)
	}

	c := &Client{
		server:     server,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		service := cfg.Service
		if service == "" {
			service = "partflow"
		}
		c.signer = partflow.NewSigner(
			partflow.AuthConfig{Region: region, Service: service},
			cfg.AccessKey, cfg.SecretKey,
		)
	}

	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	return c.send(req, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.signer != nil {
		if err := c.signer.SignRequest(req, signatureLifetime); err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Error        string `json:"error"`
			Message      string `json:"message"`
			MissingParts []int  `json:"missing_parts"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&body); decodeErr == nil {
			apiErr.Code = body.Error
			apiErr.Message = body.Message
			apiErr.MissingParts = body.MissingParts
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Begin declares a new transfer on the server.
func (c *Client) Begin(ctx context.Context, req partflow.BeginTransfer) (partflow.Transfer, error) {
	var t partflow.Transfer
	if err := c.doJSON(ctx, http.MethodPost, "/v1/transfers", req, &t); err != nil {
		return partflow.Transfer{}, err
	}
	return t, nil
}

// UploadPart uploads one part. The checksum is computed here and
// declared to the server in the X-Content-Sha256 header.
func (c *Client) UploadPart(ctx context.Context, transferID uuid.UUID, index int, data []byte) (partflow.PartRecord, error) {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	path := "/v1/transfers/" + transferID.String() + "/parts/" + strconv.Itoa(index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.server+path, bytes.NewReader(data))
	if err != nil {
		return partflow.PartRecord{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Content-Sha256", checksum)
	req.Header.Set("Content-Type", "application/octet-stream")

	var rec partflow.PartRecord
	if err := c.send(req, &rec); err != nil {
		return partflow.PartRecord{}, err
	}
	return rec, nil
}

// Complete asks the server to assemble the transfer into its object.
func (c *Client) Complete(ctx context.Context, transferID uuid.UUID) (partflow.CommitResult, error) {
	var res partflow.CommitResult
	if err := c.do(ctx, http.MethodPost, "/v1/transfers/"+transferID.String()+"/complete", nil, &res); err != nil {
		return partflow.CommitResult{}, err
	}
	return res, nil
}

// Abort releases a transfer on the server.
func (c *Client) Abort(ctx context.Context, transferID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/v1/transfers/"+transferID.String(), nil, nil)
}

// Status returns the transfer's current state.
func (c *Client) Status(ctx context.Context, transferID uuid.UUID) (partflow.Transfer, error) {
	var t partflow.Transfer
	if err := c.do(ctx, http.MethodGet, "/v1/transfers/"+transferID.String(), nil, &t); err != nil {
		return partflow.Transfer{}, err
	}
	return t, nil
}

// Parts returns the transfer's part records.
func (c *Client) Parts(ctx context.Context, transferID uuid.UUID) ([]partflow.PartRecord, error) {
	var body struct {
		Parts []partflow.PartRecord `json:"parts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/transfers/"+transferID.String()+"/parts", nil, &body); err != nil {
		return nil, err
	}
	return body.Parts, nil
}

// DownloadURL asks the server for a signed GET URL on the key.
func (c *Client) DownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return c.issueURL(ctx, "/v1/urls/download", key, expiry)
}

// UploadURL asks the server for a signed PUT URL on the key.
func (c *Client) UploadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return c.issueURL(ctx, "/v1/urls/upload", key, expiry)
}

func (c *Client) issueURL(ctx context.Context, path, key string, expiry time.Duration) (string, error) {
	in := map[string]any{
		"key":            key,
		"expiry_seconds": int64(expiry / time.Second),
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, path, in, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// UploadOptions configures UploadFile.
type UploadOptions struct {
	LocalPath   string
	Key         string
	ContentType string
	PartSize    int64 // default 8 MiB

	// TransferID resumes an existing transfer instead of declaring a
	// new one. Parts the server already holds are skipped.
	TransferID uuid.UUID

	// Progress, when set, is called after each part with the part index
	// and whether it was skipped as already stored.
	Progress func(index int, skipped bool)
}

// UploadFile uploads a local file as one transfer and completes it.
// The file is split into PartSize chunks; on resume, chunks whose
// checksum the server already holds are not re-sent.
func (c *Client) UploadFile(ctx context.Context, opts UploadOptions) (partflow.CommitResult, error) {
	f, err := os.Open(opts.LocalPath) //nolint:gosec // Path comes from the user's own arguments
	if err != nil {
		return partflow.CommitResult{}, fmt.Errorf("upload file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return partflow.CommitResult{}, fmt.Errorf("upload file: %w", err)
	}

	partSize := opts.PartSize
	if partSize <= 0 {
		partSize = defaultPartSize
	}

	var t partflow.Transfer
	stored := make(map[int]string)

	if opts.TransferID != uuid.Nil {
		t, err = c.Status(ctx, opts.TransferID)
		if err != nil {
			return partflow.CommitResult{}, fmt.Errorf("upload file: resume: %w", err)
		}
		if t.FileSize != info.Size() {
			return partflow.CommitResult{}, fmt.Errorf("upload file: transfer declares %d bytes, file has %d", t.FileSize, info.Size())
		}

		parts, err := c.Parts(ctx, opts.TransferID)
		if err != nil {
			return partflow.CommitResult{}, fmt.Errorf("upload file: resume: %w", err)
		}
		for _, p := range parts {
			if p.Status == partflow.PartStored {
				stored[p.Index] = p.Checksum
			}
		}
	} else {
		t, err = c.Begin(ctx, partflow.BeginTransfer{
			TargetKey:   opts.Key,
			ContentType: opts.ContentType,
			FileSize:    info.Size(),
			PartSize:    partSize,
		})
		if err != nil {
			return partflow.CommitResult{}, fmt.Errorf("upload file: %w", err)
		}
	}

	buf := make([]byte, t.PartSize)
	for index := 1; index <= t.PartCount; index++ {
		start := int64(index-1) * t.PartSize
		n, err := readChunkAt(f, buf, start)
		if err != nil {
			return partflow.CommitResult{}, fmt.Errorf("upload file: read part %d: %w", index, err)
		}
		chunk := buf[:n]

		if checksum, ok := stored[index]; ok {
			sum := sha256.Sum256(chunk)
			if hex.EncodeToString(sum[:]) == checksum {
				if opts.Progress != nil {
					opts.Progress(index, true)
				}
				continue
			}
		}

		if _, err := c.UploadPart(ctx, t.ID, index, chunk); err != nil {
			return partflow.CommitResult{}, fmt.Errorf("upload file: part %d: %w", index, err)
		}
		if opts.Progress != nil {
			opts.Progress(index, false)
		}
	}

	res, err := c.Complete(ctx, t.ID)
	if err != nil {
		return partflow.CommitResult{}, fmt.Errorf("upload file: %w", err)
	}
	return res, nil
}

// readChunkAt fills buf from the given offset, returning how many bytes
// were read. A short read at end of file is not an error.
func readChunkAt(f *os.File, buf []byte, offset int64) (int, error) {
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	return n, nil
}
