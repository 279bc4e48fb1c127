// Package proposer implements the external patch proposer protocol (spec.md
// §6): a blocking HTTP POST to an OpenAI-compatible chat completions
// endpoint whose first choice's message content is expected to be unified
// diff text, optionally fenced.
//
// The HTTP client is built on github.com/hashicorp/go-cleanhttp and paced
// with golang.org/x/time/rate, the same pairing
// hashicorp-nomad-autoscaler's rate_limiter package uses for its own
// outbound HTTP client (cleanhttp.DefaultPooledClient wrapped by a
// rate.Limiter-gated RoundTripper) -- adapted here from a generic labeled
// RoundTripper into a single-purpose proposer client.
package proposer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/time/rate"

	"github.com/pp-engine/pp/internal/errs"
)

// Config carries the provider connection details read once into
// internal/envsnapshot.Snapshot at session start (spec §6).
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	TimeoutSec int
	// RatePerSec bounds outbound proposer calls; 0 disables rate limiting.
	RatePerSec int
}

// Client calls the proposer's chat/completions endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// New builds a Client. A nil *http.Client falls back to
// cleanhttp.DefaultPooledClient(), matching the pack's own default.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}

	return &Client{cfg: cfg, http: httpClient, limiter: limiter}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

// Propose posts prompt as a single user message and returns the first
// choice's content with Markdown fencing stripped (spec §6: "the parser
// strips the fence"). Per spec §6, an empty or whitespace-only response
// triggers exactly one retry with retryPrompt before giving up.
func (c *Client) Propose(ctx context.Context, prompt, retryPrompt string) (string, error) {
	content, err := c.request(ctx, prompt)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(content) != "" {
		return stripFence(content), nil
	}

	content, err = c.request(ctx, retryPrompt)
	if err != nil {
		return "", err
	}

	return stripFence(content), nil
}

func (c *Client) request(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", errs.Wrap(errs.ProposerError, err, "rate limiter wait")
		}
	}

	reqBody := chatRequest{
		Model:     c.cfg.Model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.cfg.MaxTokens,
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", errs.Wrap(errs.ProposerError, err, "encoding proposer request")
	}

	timeout := time.Duration(c.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", errs.Wrap(errs.ProposerError, err, "building proposer request")
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", errs.Wrap(errs.ProposerError, err, "proposer request to %s", url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Wrap(errs.ProposerError, err, "reading proposer response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.ProposerError, "proposer returned %s: %s", resp.Status, truncate(string(body), 500))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errs.Wrap(errs.ProposerError, err, "decoding proposer response")
	}

	if len(parsed.Choices) == 0 {
		return "", errs.New(errs.ProposerError, "proposer response had no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

// stripFence removes a single surrounding Markdown code fence if present,
// per spec §6: "Response: ... optionally fenced in a code block; the
// parser strips the fence."
func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}

	if !strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		return s
	}

	last := len(lines) - 1
	if strings.TrimSpace(lines[last]) != "```" {
		return s
	}

	return strings.Join(lines[1:last], "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}

// RewritePrompt builds the retry-framing prompt §6 describes: the second proposer call "explicitly requesting a diff or a
// single-file rewrite block" in the fixed framing internal/diffpatch
// accepts.
func RewritePrompt(originalPrompt string) string {
	return originalPrompt + "\n\n" + retryInstruction
}

const retryInstruction = `Your previous response was empty. Respond with EITHER a unified diff ` +
	`(--- a/path, +++ b/path, @@ hunks) OR a single full-file rewrite framed ` +
	"exactly as:\n\nfile: <relative/path>\n```\n<full new file content>\n```"

// FormatMaxTokens renders cfg.MaxTokens for logging/provenance.
func FormatMaxTokens(n int) string {
	return strconv.Itoa(n)
}
