package reserve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/mail"
)

// Sentinel errors with stable exit-code mappings in the CLI.
var (
	// ErrConflict is a cross-agent conflict (exit code 5).
	ErrConflict = errors.New("reservation held by another agent")

	// ErrSelfConflict is an overlap with the caller's own reservation
	// (exit code 6).
	ErrSelfConflict = errors.New("reservation overlaps caller's own reservation")
)

// Mailer is the slice of the mail client the reservation flow uses.
type Mailer interface {
	ReservePaths(ctx context.Context, opts mail.ReserveOptions) (*mail.ReservationResult, error)
	ReleaseReservations(ctx context.Context, projectKey, agentName string, paths []string, ids []int) error
	RenewReservations(ctx context.Context, opts mail.RenewOptions) (*mail.RenewResult, error)
	ListReservations(ctx context.Context, projectKey, agentName string) ([]mail.FileReservation, error)
	SendMessage(ctx context.Context, opts mail.SendMessageOptions) (*mail.SendResult, error)
}

// Client performs reservation operations for one agent in one project.
type Client struct {
	mailer     Mailer
	pending    *PendingStore
	projectKey string
	agent      string
	cfg        *config.Config
	productUID string
}

// NewClient creates a reservation client.
func NewClient(mailer Mailer, pending *PendingStore, projectKey, agent string, cfg *config.Config, productUID string) *Client {
	return &Client{
		mailer:     mailer,
		pending:    pending,
		projectKey: projectKey,
		agent:      agent,
		cfg:        cfg,
		productUID: productUID,
	}
}

// Outcome reports a reservation attempt.
type Outcome struct {
	Granted   []mail.FileReservation `json:"granted,omitempty"`
	Conflicts []Conflict             `json:"conflicts,omitempty"`
	Released  []int                  `json:"released_own,omitempty"` // own stale ids auto-released
	Bypassed  bool                   `json:"bypassed,omitempty"`
}

// Conflict is one contested path with its holders.
type Conflict struct {
	Path    string   `json:"path"`
	Holders []string `json:"holders"`
}

// Reserve claims the given patterns for the client's agent. Self-overlap is
// reported as ErrSelfConflict (optionally auto-releasing the older own
// reservations first); service-reported conflicts become ErrConflict after
// each unique holder has been notified and the requester queued.
func (c *Client) Reserve(ctx context.Context, patterns []string, ttlSeconds int, exclusive bool, reason string) (*Outcome, error) {
	if c.cfg.BypassReservation {
		return &Outcome{Bypassed: true}, nil
	}
	if ttlSeconds <= 0 {
		ttlSeconds = c.cfg.DefaultTTL
	}

	out := &Outcome{}

	// Self-conflicts first: the service would report these as plain
	// conflicts, but the caller needs the distinct exit code.
	ownOverlap, err := c.ownOverlapping(ctx, patterns)
	if err != nil {
		return nil, err
	}
	if len(ownOverlap) > 0 {
		if !c.cfg.AutoReleaseOwnStale {
			for _, r := range ownOverlap {
				out.Conflicts = append(out.Conflicts, Conflict{Path: r.PathPattern, Holders: []string{c.agent}})
			}
			return out, fmt.Errorf("%w: %d overlapping patterns", ErrSelfConflict, len(ownOverlap))
		}
		ids := make([]int, 0, len(ownOverlap))
		for _, r := range ownOverlap {
			ids = append(ids, r.ID)
		}
		sort.Ints(ids)
		if err := c.mailer.ReleaseReservations(ctx, c.projectKey, c.agent, nil, ids); err != nil {
			return nil, fmt.Errorf("auto-releasing own stale reservations: %w", err)
		}
		out.Released = ids
	}

	res, err := c.mailer.ReservePaths(ctx, mail.ReserveOptions{
		ProjectKey: c.projectKey,
		AgentName:  c.agent,
		Paths:      patterns,
		TTLSeconds: ttlSeconds,
		Exclusive:  exclusive,
		Reason:     reason,
	})
	if res != nil {
		out.Granted = res.Granted
	}
	if err != nil && !mail.IsReservationConflict(err) {
		return out, err
	}
	if err == nil {
		return out, nil
	}

	// Cross-agent conflicts: notify each unique holder once, queue the
	// requester behind every contested (holder, path) pair.
	notified := make(map[string]bool)
	for _, conflict := range res.Conflicts {
		out.Conflicts = append(out.Conflicts, Conflict{Path: conflict.Path, Holders: conflict.Holders})
		for _, holder := range conflict.Holders {
			if holder == "" || holder == c.agent {
				continue
			}
			if perr := c.pending.Record(holder, conflict.Path, c.agent); perr != nil {
				return out, perr
			}
			if notified[holder] {
				continue
			}
			notified[holder] = true
			c.notifyHolder(ctx, holder, conflict.Path, reason)
		}
	}
	return out, fmt.Errorf("%w: %d paths", ErrConflict, len(res.Conflicts))
}

// Request asks for a single path politely: reserve it if free, otherwise
// queue behind the holder without failing hard.
func (c *Client) Request(ctx context.Context, pattern, reason string) (*Outcome, error) {
	out, err := c.Reserve(ctx, []string{pattern}, 0, true, reason)
	if errors.Is(err, ErrConflict) {
		return out, err
	}
	return out, err
}

// Check reports would-be conflicts for the patterns without reserving.
// The comparison runs locally over the active reservation list using the
// same overlap predicate the product rules use.
func (c *Client) Check(ctx context.Context, patterns []string) ([]Conflict, error) {
	active, err := c.mailer.ListReservations(ctx, c.listKey(), "")
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, raw := range patterns {
		want := ParsePattern(raw)
		var holders []string
		seen := make(map[string]bool)
		for _, r := range active {
			if r.AgentName == c.agent || seen[r.AgentName] {
				continue
			}
			if want.Overlaps(ParsePattern(r.PathPattern)) {
				holders = append(holders, r.AgentName)
				seen[r.AgentName] = true
			}
		}
		if len(holders) > 0 {
			conflicts = append(conflicts, Conflict{Path: raw, Holders: holders})
		}
	}
	return conflicts, nil
}

// ReleaseResult reports a release and its pending drain.
type ReleaseResult struct {
	Released []string       `json:"released"`
	Notified []PendingEntry `json:"notified,omitempty"`
}

// Release frees reservations by pattern, by id, or all of the caller's.
// Every pending requester queued behind a released path is notified exactly
// once and its entry removed.
func (c *Client) Release(ctx context.Context, patterns []string, ids []int, all bool) (*ReleaseResult, error) {
	released := patterns
	if all {
		own, err := c.mailer.ListReservations(ctx, c.projectKey, c.agent)
		if err != nil {
			return nil, err
		}
		released = nil
		for _, r := range own {
			released = append(released, r.PathPattern)
		}
		ids = nil
	}

	if len(released) == 0 && len(ids) == 0 {
		return &ReleaseResult{}, nil
	}
	if err := c.mailer.ReleaseReservations(ctx, c.projectKey, c.agent, released, ids); err != nil {
		return nil, err
	}

	parsed := make([]Pattern, 0, len(released))
	for _, p := range released {
		parsed = append(parsed, ParsePattern(p))
	}
	drained, err := c.pending.Drain(c.agent, parsed)
	if err != nil {
		return &ReleaseResult{Released: released}, err
	}

	for _, entry := range drained {
		for _, requester := range entry.Requesters {
			c.notifyRequester(ctx, requester, entry.Path)
		}
	}
	return &ReleaseResult{Released: released, Notified: drained}, nil
}

// Renew extends the caller's reservations. Expiry is monotone: the service
// only ever moves expires_ts forward.
func (c *Client) Renew(ctx context.Context, extendSeconds int, patterns []string) (*mail.RenewResult, error) {
	if extendSeconds <= 0 {
		extendSeconds = c.cfg.DefaultTTL
	}
	return c.mailer.RenewReservations(ctx, mail.RenewOptions{
		ProjectKey:    c.projectKey,
		AgentName:     c.agent,
		ExtendSeconds: extendSeconds,
		Paths:         patterns,
	})
}

// List returns the caller's active reservations.
func (c *Client) List(ctx context.Context) ([]mail.FileReservation, error) {
	return c.mailer.ListReservations(ctx, c.projectKey, c.agent)
}

// ListAll returns every active reservation in the project (or product when
// a marker is present).
func (c *Client) ListAll(ctx context.Context) ([]mail.FileReservation, error) {
	return c.mailer.ListReservations(ctx, c.listKey(), "")
}

// WarnExpiring returns the caller's reservations whose remaining TTL is
// inside the warn threshold.
func (c *Client) WarnExpiring(ctx context.Context) ([]mail.FileReservation, error) {
	own, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	warn := time.Duration(c.cfg.TTLWarnThreshold) * time.Second
	now := time.Now().UTC()

	var expiring []mail.FileReservation
	for _, r := range own {
		if remaining := r.Remaining(now); remaining > 0 && remaining <= warn {
			expiring = append(expiring, r)
		}
	}
	return expiring, nil
}

// ownOverlapping finds the caller's active reservations that overlap any of
// the requested patterns.
func (c *Client) ownOverlapping(ctx context.Context, patterns []string) ([]mail.FileReservation, error) {
	own, err := c.mailer.ListReservations(ctx, c.projectKey, c.agent)
	if err != nil {
		return nil, err
	}

	var overlapping []mail.FileReservation
	for _, r := range own {
		held := ParsePattern(r.PathPattern)
		for _, raw := range patterns {
			if held.Overlaps(ParsePattern(raw)) {
				overlapping = append(overlapping, r)
				break
			}
		}
	}
	return overlapping, nil
}

// listKey picks the reservation listing scope: the product uid when the
// project carries a product marker, otherwise the project key.
func (c *Client) listKey() string {
	if c.productUID != "" {
		return c.productUID
	}
	return c.projectKey
}

// notifyHolder sends a coordination mail to the holder of a contested path.
// Mail failures never abort the reservation flow.
func (c *Client) notifyHolder(ctx context.Context, holder, path, reason string) {
	body := fmt.Sprintf("%s wants to edit `%s` which you currently hold.", c.agent, path)
	if reason != "" {
		body += fmt.Sprintf("\n\nReason: %s", reason)
	}
	body += "\n\nRelease the reservation when you are done and they will be notified automatically."

	_, _ = c.mailer.SendMessage(ctx, mail.SendMessageOptions{
		ProjectKey: c.projectKey,
		SenderName: c.agent,
		To:         []string{holder},
		Subject:    fmt.Sprintf("[reservation] %s requested by %s", path, c.agent),
		BodyMD:     body,
		Importance: "high",
	})
}

// notifyRequester tells a queued requester the path is free.
func (c *Client) notifyRequester(ctx context.Context, requester, path string) {
	_, _ = c.mailer.SendMessage(ctx, mail.SendMessageOptions{
		ProjectKey: c.projectKey,
		SenderName: c.agent,
		To:         []string{requester},
		Subject:    fmt.Sprintf("[reservation] %s released", path),
		BodyMD:     fmt.Sprintf("%s released `%s`. It is free to reserve now.", c.agent, path),
		Importance: "high",
	})
}
