// Package platform is the HTTP client for the externally-owned surfaces the
// pipeline depends on: attempt creation, upload pre-authorization, direct
// object writes, intake submission, and evaluation. Every call sends one JSON
// object (or one multipart payload) and is attempted exactly once; retry
// policy lives with the callers.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody caps how much of a failure response is carried into an error.
const maxErrorBody = 2048

// AttemptInitError reports a failed attempt-creation call. The session
// controller refuses to enter the asking state without a valid attempt id, so
// this error parks the attempt until a retry.
type AttemptInitError struct {
	Err error
}

func (e *AttemptInitError) Error() string {
	return fmt.Sprintf("attempt initialization failed: %v", e.Err)
}

func (e *AttemptInitError) Unwrap() error {
	return e.Err
}

// Endpoints are the fixed collaborator URLs. The two intake endpoints are not
// listed here: Intake takes its endpoint per call so the upload pipeline can
// address the generic and fallback surfaces through one method.
type Endpoints struct {
	Attempt  string
	Sign     string
	Evaluate string
}

// Client talks to the platform surfaces. Safe for concurrent use.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	logger    *slog.Logger
}

// NewClient builds a platform client. A nil httpClient gets a 15s-timeout
// default; a nil logger disables request logging.
func NewClient(httpClient *http.Client, endpoints Endpoints, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{http: httpClient, endpoints: endpoints, logger: logger}
}

// CreateAttempt asks the platform for a new attempt identifier.
func (c *Client) CreateAttempt(ctx context.Context, mode string) (string, error) {
	var reply struct {
		ID string `json:"id"`
	}
	body := map[string]string{"mode": mode}
	if err := c.postJSON(ctx, c.endpoints.Attempt, body, &reply); err != nil {
		return "", &AttemptInitError{Err: err}
	}
	if strings.TrimSpace(reply.ID) == "" {
		return "", &AttemptInitError{Err: fmt.Errorf("endpoint %s returned an empty attempt id", c.endpoints.Attempt)}
	}
	c.logDebug("attempt created", "id", reply.ID, "mode", mode)
	return reply.ID, nil
}

// SignRequest asks for a pre-authorized write location for one object.
type SignRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Bucket      string `json:"bucket"`
	Visibility  string `json:"visibility"`
}

// SignResponse is either a direct-write grant (UploadURL + optional headers,
// PublicURL is the durable location after the write) or an immediate FileURL
// when the platform stored the object itself.
type SignResponse struct {
	UploadURL string            `json:"uploadUrl"`
	PublicURL string            `json:"publicUrl"`
	Headers   map[string]string `json:"headers"`
	FileURL   string            `json:"fileUrl"`
}

// Direct reports whether the caller still has to perform the object write.
func (r SignResponse) Direct() bool {
	return r.UploadURL != ""
}

// SignUpload requests pre-authorization for a direct object write.
func (c *Client) SignUpload(ctx context.Context, req SignRequest) (SignResponse, error) {
	var reply SignResponse
	if err := c.postJSON(ctx, c.endpoints.Sign, req, &reply); err != nil {
		return SignResponse{}, err
	}
	if reply.UploadURL == "" && reply.FileURL == "" {
		return SignResponse{}, fmt.Errorf("sign endpoint returned neither uploadUrl nor fileUrl")
	}
	return reply, nil
}

// DirectPut writes the payload to a pre-authorized upload URL.
func (c *Client) DirectPut(ctx context.Context, uploadURL string, headers map[string]string, contentType string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build direct write request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("direct write: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("direct write to %s: %s", uploadURL, statusDetail(resp))
	}
	c.logDebug("direct write complete", "bytes", len(payload))
	return nil
}

// IntakeRequest is one multipart submission of an audio object.
type IntakeRequest struct {
	Filename    string
	ContentType string
	Payload     []byte
	AttemptID   string
	PartTag     string
}

// Intake submits the payload to an intake endpoint and returns the stored
// object's URL. The endpoint is a parameter because the generic and fallback
// intake surfaces share this contract.
func (c *Client) Intake(ctx context.Context, endpoint string, req IntakeRequest) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return "", fmt.Errorf("build intake payload: %w", err)
	}
	if _, err := part.Write(req.Payload); err != nil {
		return "", fmt.Errorf("build intake payload: %w", err)
	}
	fields := map[string]string{
		"attemptId":   req.AttemptID,
		"part":        req.PartTag,
		"contentType": req.ContentType,
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", fmt.Errorf("build intake payload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build intake payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build intake request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("intake submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("intake %s: %s", endpoint, statusDetail(resp))
	}

	var reply struct {
		FileURL string `json:"fileUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("decode intake response: %w", err)
	}
	if reply.FileURL == "" {
		return "", fmt.Errorf("intake %s returned an empty fileUrl", endpoint)
	}
	return reply.FileURL, nil
}

// EvalContext carries everything the evaluation endpoint needs to judge a
// response without access to the prompt store.
type EvalContext struct {
	Part        string `json:"part"`
	WindowMS    int64  `json:"windowMs"`
	PromptIndex int    `json:"promptIndex"`
	PromptHash  string `json:"promptHash"`
}

// EvalRequest asks for a quality evaluation of one stored recording.
type EvalRequest struct {
	FileURL string      `json:"fileUrl"`
	Context EvalContext `json:"context"`
}

// EvalResponse is the Feedback-shaped evaluation payload.
type EvalResponse struct {
	Band       float64 `json:"band"`
	Fluency    float64 `json:"fluency"`
	Lexical    float64 `json:"lexical"`
	Grammar    float64 `json:"grammar"`
	Pron       float64 `json:"pronunciation"`
	Commentary string  `json:"commentary"`
}

// Evaluate requests one evaluation. Attempted exactly once per call; any
// failure means "scoring unavailable" and the caller degrades.
func (c *Client) Evaluate(ctx context.Context, req EvalRequest) (EvalResponse, error) {
	var reply EvalResponse
	if err := c.postJSON(ctx, c.endpoints.Evaluate, req, &reply); err != nil {
		return EvalResponse{}, err
	}
	return reply, nil
}

// postJSON sends one JSON object and decodes one JSON reply.
func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, reply any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("call %s: %s", endpoint, statusDetail(resp))
	}

	if reply == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return nil
}

// statusDetail summarizes a failure response: status line plus a bounded body
// excerpt when the body is printable.
func statusDetail(resp *http.Response) string {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(excerpt))
	if text == "" {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, text)
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, args...)
}
