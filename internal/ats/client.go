package ats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	contentType      = "application/json"
	defaultUserAgent = "screenvet (vetting orchestrator)"
)

// VettingFlag is the per-job tri-state enablement resolved against the global
// switch.
type VettingFlag string

const (
	VettingOn      VettingFlag = "on"
	VettingOff     VettingFlag = "off"
	VettingInherit VettingFlag = "inherit"
)

// Job is the slice of an ATS job record the orchestrator needs.
type Job struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Vetting VettingFlag `json:"vetting"`
}

// Client talks to the ATS HTTP API for job data and note creation.
type Client struct {
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

// New creates an ATS client with a bounded request timeout.
func New(apiURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		token:  token,
		APIURL: strings.TrimRight(apiURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: defaultUserAgent,
	}
}

// GetJob fetches a job record. Unknown or empty vetting flags resolve to
// inherit.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("job id is required")
	}

	var job Job
	endpoint := fmt.Sprintf("%s/jobs/%s", c.APIURL, url.PathEscape(id))
	if err := c.getJSON(ctx, endpoint, &job); err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	switch job.Vetting {
	case VettingOn, VettingOff:
	default:
		job.Vetting = VettingInherit
	}

	return &job, nil
}

// VettingFlag resolves the per-job enablement flag as a string for the
// admission filter.
func (c *Client) VettingFlag(ctx context.Context, jobID string) (string, error) {
	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return string(job.Vetting), nil
}

// CreateNote attaches a note to a person record and returns the note id. A
// failure here is non-fatal for callers; they log and continue.
func (c *Client) CreateNote(ctx context.Context, personID, actionLabel, body string) (string, error) {
	if strings.TrimSpace(personID) == "" {
		return "", fmt.Errorf("person id is required")
	}

	payload := map[string]string{
		"person_id": personID,
		"action":    actionLabel,
		"body":      body,
	}

	var response struct {
		ID string `json:"id"`
	}

	endpoint := fmt.Sprintf("%s/notes", c.APIURL)
	if err := c.postJSON(ctx, endpoint, payload, &response); err != nil {
		return "", fmt.Errorf("create note for %s: %w", personID, err)
	}

	c.logger.Debug("note created",
		zap.String("person_id", personID),
		zap.String("note_id", response.ID),
	)

	return response.ID, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	c.setHeaders(req)

	resp, err := c.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if target == nil {
		return nil
	}

	return json.Unmarshal(data, target)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}

	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if target == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(target)
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("url", req.URL.String()))
	return c.HTTPClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", contentType)
}
