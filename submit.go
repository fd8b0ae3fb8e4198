package bitgrind

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SubmitStatus classifies the ledger service's verdict on a proposal.
type SubmitStatus int

const (
	SubmitAccepted SubmitStatus = iota
	SubmitRejected
)

// Submitter is the external chain-extension collaborator. Submit returns
// the verdict plus the service's reason when it declined; a non-nil error
// means no verdict arrived (transport failure). Retry and backoff policy
// belongs to the caller.
type Submitter interface {
	Submit(ctx context.Context, block *Block) (SubmitStatus, string, error)
}

// HTTPSubmitter talks to the ledger service's JSON API.
type HTTPSubmitter struct {
	baseURL string
	client  *http.Client
}

// apiResponse is the service's standard response envelope.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// submitRequest carries exactly the three values the service needs to
// recompute the block hash.
type submitRequest struct {
	PreviousHash string `json:"previous_hash"`
	Identity     string `json:"identity"`
	Nonce        string `json:"nonce"`
}

// NewHTTPSubmitter creates a submitter for the service at baseURL.
func NewHTTPSubmitter(baseURL string) *HTTPSubmitter {
	return &HTTPSubmitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Submit posts the proposal to /block/submit.
func (s *HTTPSubmitter) Submit(ctx context.Context, block *Block) (SubmitStatus, string, error) {
	payload, err := json.Marshal(submitRequest{
		PreviousHash: block.Previous,
		Identity:     block.Identity,
		Nonce:        block.Nonce,
	})
	if err != nil {
		return SubmitRejected, "", errors.Wrap(err, "encoding proposal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/block/submit", bytes.NewReader(payload))
	if err != nil {
		return SubmitRejected, "", errors.Wrap(err, "building submit request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return SubmitRejected, "", errors.Wrap(err, "cannot reach ledger service")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitRejected, "", errors.Wrap(err, "reading ledger service response")
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return SubmitRejected, "", errors.Errorf("invalid ledger service response: %.100s", string(body))
	}
	if !envelope.Success {
		return SubmitRejected, envelope.Message, nil
	}
	return SubmitAccepted, "", nil
}

// Ping verifies connectivity via /status before mining starts.
func (s *HTTPSubmitter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/status", nil)
	if err != nil {
		return errors.Wrap(err, "building status request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "cannot reach ledger service")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading ledger service response")
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errors.New("invalid response from ledger service")
	}
	if !envelope.Success {
		return errors.Errorf("ledger service error: %s", envelope.Message)
	}
	return nil
}
