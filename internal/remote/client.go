package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/casefile/internal/retry"
)

// ErrJobLost is returned when the service no longer has a status record for
// a job id. The job may still have completed; callers should try the result
// endpoint before giving up.
var ErrJobLost = errors.New("job not found on remote service")

// Client communicates with the remote investigation service over HTTP.
// Interactive calls go through the short retry policy, background calls
// through the long one; status polls are single attempts because the job
// poller owns their failure budget.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	interactive *retry.Caller
	background  *retry.Caller
	poll        *retry.Caller
}

// pollTimeout bounds a single status or result request. Polls must return
// promptly even against a stalled server so the job poller's elapsed budget
// keeps firing.
const pollTimeout = 15 * time.Second

// New creates a Client targeting the given service base URL. observer
// receives retry notifications for every wrapped call; pass nil to ignore.
func New(baseURL, apiKey string, observer retry.Observer) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			// Per-attempt deadlines come from the retry caller.
			Timeout: 0,
		},
		interactive: retry.NewCaller(retry.ShortPolicy(), 30*time.Second, observer),
		background:  retry.NewCaller(retry.LongPolicy(), 60*time.Second, observer),
		poll:        retry.NewCaller(retry.OncePolicy(), pollTimeout, nil),
	}
}

// SubmitJob starts a long-running job and returns its handle id. Report jobs
// reuse conversationID as the server-side correlation id once assigned.
func (c *Client) SubmitJob(ctx context.Context, kind JobKind, params map[string]any, conversationID string) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.background.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/jobs", SubmitRequest{Kind: kind, Params: params, ConversationID: conversationID}, &out)
	})
	if err != nil {
		return SubmitResponse{}, fmt.Errorf("submitting %s job: %w", kind, err)
	}
	return out, nil
}

// JobStatus fetches the current status payload for a job. It performs exactly
// one network attempt under the poll deadline; transient failures surface to
// the caller unretried.
func (c *Client) JobStatus(ctx context.Context, jobID string) (JobStatusPayload, error) {
	var out JobStatusPayload
	err := c.poll.Do(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, "/v1/jobs/"+jobID, &out)
	})
	if err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return JobStatusPayload{}, ErrJobLost
		}
		return JobStatusPayload{}, err
	}
	return out, nil
}

// JobResult fetches the raw result payload for a job. The body may be plain
// text or JSON; interpretation belongs to the job poller.
func (c *Client) JobResult(ctx context.Context, jobID string) (string, error) {
	var body string
	err := c.poll.Do(ctx, func(ctx context.Context) error {
		return c.doRaw(ctx, http.MethodGet, "/v1/jobs/"+jobID+"/result", nil, &body)
	})
	if err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return "", ErrJobLost
		}
		return "", fmt.Errorf("fetching result for job %s: %w", jobID, err)
	}
	return body, nil
}

// Chat sends a question with conversation history and returns the answer.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	var out chatResponse
	err := c.interactive.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/chat", chatRequest{Messages: messages}, &out)
	})
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	return out.Answer, nil
}

// SearchLeaks queries the leak index.
func (c *Client) SearchLeaks(ctx context.Context, query string, limit int) ([]LeakHit, error) {
	var out leakSearchResponse
	err := c.background.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/leaks/search", leakSearchRequest{Query: query, Limit: limit}, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("leak search: %w", err)
	}
	return out.Hits, nil
}

// ExtractEntities asks the remote extractor to turn raw text into entity
// operations, passing known entities for server-side deduplication.
func (c *Client) ExtractEntities(ctx context.Context, text string, existing []KnownEntity) (ExtractResponse, error) {
	var out ExtractResponse
	err := c.background.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/extract", extractRequest{Text: text, Existing: existing}, &out)
	})
	if err != nil {
		return ExtractResponse{}, fmt.Errorf("extract request: %w", err)
	}
	return out, nil
}

// --- transport helpers ---

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var raw string
	if err := c.doRaw(ctx, http.MethodPost, path, data, &raw); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var raw string
	if err := c.doRaw(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body []byte, out *string) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	*out = string(respBody)
	return nil
}
