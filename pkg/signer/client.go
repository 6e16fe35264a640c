package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client wraps the sealed signer's HTTP API: health, public-key-at-epoch,
// and batch sign-and-reseal.
type Client struct {
	baseURL    string
	secret     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a signer client. secret may be empty, in which case
// requests carry no Authorization header.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Health checks signer liveness and its currently active epoch.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var status HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return HealthStatus{}, err
	}
	return status, nil
}

type publicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// PublicKey fetches and validates the signer's public key for the given
// epoch. Any shape deviation fails with ErrInvalidKeyFormat.
func (c *Client) PublicKey(ctx context.Context, epoch int) ([]byte, error) {
	var resp publicKeyResponse
	path := fmt.Sprintf("/public-key?epoch=%d", epoch)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	key, err := hex.DecodeString(resp.PublicKey)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	if err := ValidatePublicKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

type republishEntryWire struct {
	EncryptedIPNSKey string `json:"encryptedIpnsKey"`
	KeyEpoch         int    `json:"keyEpoch"`
	IPNSName         string `json:"ipnsName"`
	LatestCID        string `json:"latestCid"`
	SequenceNumber   string `json:"sequenceNumber"`
	CurrentEpoch     int    `json:"currentEpoch"`
	PreviousEpoch    *int   `json:"previousEpoch"`
}

type republishRequest struct {
	Entries []republishEntryWire `json:"entries"`
}

type republishResponse struct {
	Results []BatchResult `json:"results"`
}

// SignBatch asks the signer to re-sign and reseal every entry, returning the
// signer's results as received, in the order the signer reports them. The
// count is not checked against len(entries).
func (c *Client) SignBatch(ctx context.Context, entries []BatchEntry) ([]BatchResult, error) {
	wire := make([]republishEntryWire, len(entries))
	for i, e := range entries {
		wire[i] = republishEntryWire{
			EncryptedIPNSKey: base64.StdEncoding.EncodeToString(e.EncryptedIPNSKey),
			KeyEpoch:         e.KeyEpoch,
			IPNSName:         e.IPNSName,
			LatestCID:        e.LatestCID,
			SequenceNumber:   e.SequenceNumber,
			CurrentEpoch:     e.CurrentEpoch,
			PreviousEpoch:    e.PreviousEpoch,
		}
	}

	var resp republishResponse
	if err := c.do(ctx, http.MethodPost, "/republish", republishRequest{Entries: wire}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling signer request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating signer request: %w", err)
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &ErrTimeout{URL: c.baseURL + path}
		}
		return &ErrUnreachable{URL: c.baseURL + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return &ErrUnreachable{URL: c.baseURL + path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding signer response: %w", err)
		}
	}

	return nil
}

// IsUnreachable reports whether err represents a transport-level failure
// talking to the signer (as opposed to a per-entry rejection).
func IsUnreachable(err error) bool {
	var unreachable *ErrUnreachable
	var timeout *ErrTimeout
	return errors.As(err, &unreachable) || errors.As(err, &timeout)
}
