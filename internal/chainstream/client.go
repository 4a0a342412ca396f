package chainstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

// ClientOptions configures the HTTP polling client.
type ClientOptions struct {
	// Endpoint serves GET {endpoint}/v1/blocks?from=<height>&limit=<n>
	// returning a blocksResponse.
	Endpoint string
	// FromHeight is the first height to request (cursor + 1 on restart).
	FromHeight uint64
	// PollInterval is the idle wait when the source has no new blocks.
	PollInterval time.Duration
	// StallTimeout raises the liveness alarm when no block has been seen
	// for this long. Zero disables the alarm.
	StallTimeout time.Duration
	// Backoff bounds retry delays on transient errors.
	Backoff Policy
	// PageLimit caps blocks fetched per request.
	PageLimit int

	HTTPClient *http.Client
	Logger     logpkg.Logger
}

// Client polls an HTTP event-source endpoint and exposes it as a Source.
// It retries transient failures with bounded backoff and tracks liveness:
// a stalled source is an operator alarm, never a fatal error.
type Client struct {
	opts   ClientOptions
	http   *http.Client
	logger logpkg.Logger

	mu          sync.Mutex
	nextHeight  uint64
	queued      []Message
	lastBlockAt time.Time
	stalled     bool
}

// blocksResponse is the poll wire format. A reorg notice applies before the
// blocks that follow it in the same response.
type blocksResponse struct {
	Reorg  *Reorg  `json:"reorg,omitempty"`
	Blocks []Block `json:"blocks"`
}

// NewClient builds a polling client starting at opts.FromHeight.
func NewClient(opts ClientOptions) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 100
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("chainstream"))
	}
	return &Client{
		opts:        opts,
		http:        hc,
		logger:      logger,
		nextHeight:  opts.FromHeight,
		lastBlockAt: time.Now(),
	}
}

// Next implements Source: it returns the next queued message, polling and
// retrying as needed. Ordering follows the source response order exactly.
func (c *Client) Next(ctx context.Context) (Message, error) {
	for {
		if m, ok := c.dequeue(); ok {
			return m, nil
		}
		if err := c.fill(ctx); err != nil {
			return Message{}, err
		}
	}
}

func (c *Client) dequeue() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queued) == 0 {
		return Message{}, false
	}
	m := c.queued[0]
	c.queued = c.queued[1:]
	return m, true
}

// fill polls until at least one message is queued or ctx ends.
func (c *Client) fill(ctx context.Context) error {
	attempt := 0
	for {
		resp, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			if c.opts.Backoff.Exhausted(attempt) {
				return fmt.Errorf("%w: retries exhausted after %d attempts: %v", ErrUnavailable, attempt, err)
			}
			delay := c.opts.Backoff.Delay(attempt)
			c.logger.Warn("source poll failed; backing off",
				logpkg.Err(err), logpkg.Int("attempt", attempt), logpkg.Int64("delay_ms", delay.Milliseconds()))
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		attempt = 0

		if resp.Reorg == nil && len(resp.Blocks) == 0 {
			// no new blocks; idle wait, then check the stall alarm
			c.checkStall()
			if !sleep(ctx, c.opts.PollInterval) {
				return ctx.Err()
			}
			continue
		}
		c.enqueue(resp)
		return nil
	}
}

func (c *Client) enqueue(resp blocksResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if resp.Reorg != nil {
		c.queued = append(c.queued, Message{Reorg: resp.Reorg})
		if resp.Reorg.FromHeight < c.nextHeight {
			c.nextHeight = resp.Reorg.FromHeight
		}
	}
	for i := range resp.Blocks {
		b := resp.Blocks[i]
		c.queued = append(c.queued, Message{Block: &b})
		if b.Height >= c.nextHeight {
			c.nextHeight = b.Height + 1
		}
	}
	if len(resp.Blocks) > 0 {
		c.lastBlockAt = time.Now()
		if c.stalled {
			c.stalled = false
			c.logger.Info("source resumed after stall")
		}
	}
}

func (c *Client) poll(ctx context.Context) (blocksResponse, error) {
	c.mu.Lock()
	from := c.nextHeight
	c.mu.Unlock()

	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return blocksResponse{}, fmt.Errorf("%w: bad endpoint: %v", ErrUnavailable, err)
	}
	u = u.JoinPath("v1", "blocks")
	q := u.Query()
	q.Set("from", strconv.FormatUint(from, 10))
	q.Set("limit", strconv.Itoa(c.opts.PageLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return blocksResponse{}, err
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return blocksResponse{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return blocksResponse{}, fmt.Errorf("%w: status %s", ErrUnavailable, httpResp.Status)
	}
	var out blocksResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return blocksResponse{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return out, nil
}

// checkStall flips the alarm when no block has arrived within StallTimeout.
func (c *Client) checkStall() {
	if c.opts.StallTimeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stalled && time.Since(c.lastBlockAt) > c.opts.StallTimeout {
		c.stalled = true
		c.logger.Error("source stalled: no blocks within timeout",
			logpkg.Int64("timeout_ms", c.opts.StallTimeout.Milliseconds()))
	}
}

// Stalled reports the liveness alarm state; surfaced via health checks.
func (c *Client) Stalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stalled
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
