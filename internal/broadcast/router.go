package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/droverhq/drover/internal/mail"
)

// Mode selects which delivery channels run.
type Mode string

const (
	ModeBoth     Mode = "both"
	ModeTmuxOnly Mode = "tmux-only"
	ModeMailOnly Mode = "mail-only"
)

// Mailer is the slice of the mail client the router uses.
type Mailer interface {
	EnsureProject(ctx context.Context, projectKey string) (*mail.Project, error)
	RegisterAgent(ctx context.Context, opts mail.RegisterAgentOptions) (*mail.Agent, error)
	SendMessage(ctx context.Context, opts mail.SendMessageOptions) (*mail.SendResult, error)
}

// PaneInjector writes a non-executing comment line into a pane.
type PaneInjector interface {
	SendComment(paneID, text string) error
}

// Delivery is the per-recipient outcome.
type Delivery struct {
	Agent   string `json:"agent"`
	TmuxOK  bool   `json:"tmux_ok"`
	MailOK  bool   `json:"mail_ok"`
	DryRun  bool   `json:"dry_run,omitempty"`
	Problem string `json:"problem,omitempty"`
}

// Request is one broadcast.
type Request struct {
	Recipients []Recipient
	Subject    string
	Body       string
	Mode       Mode
	Tag        string // message type tag; URGENT and BLOCKER upgrade importance
	Sender     string // sender agent name; used as-is in each project
	DryRun     bool
}

// Router performs dual delivery.
type Router struct {
	mailer   Mailer
	injector PaneInjector

	mu         sync.Mutex
	registered map[string]bool // projectRoot|sender pairs already ensured
}

// NewRouter creates a Router.
func NewRouter(mailer Mailer, injector PaneInjector) *Router {
	return &Router{mailer: mailer, injector: injector, registered: make(map[string]bool)}
}

// Importance maps a message tag to a mail importance level.
func Importance(tag string) string {
	switch strings.ToUpper(tag) {
	case "URGENT", "BLOCKER":
		return "urgent"
	default:
		return "normal"
	}
}

// Send delivers to every recipient concurrently and joins before returning.
// Overall success requires, per recipient, at least one channel in both
// mode or the chosen channel in a single-channel mode.
func (r *Router) Send(ctx context.Context, req Request) ([]Delivery, bool) {
	if req.Mode == "" {
		req.Mode = ModeBoth
	}

	deliveries := make([]Delivery, len(req.Recipients))
	var wg sync.WaitGroup
	for i, rec := range req.Recipients {
		wg.Add(1)
		go func(i int, rec Recipient) {
			defer wg.Done()
			deliveries[i] = r.deliverOne(ctx, req, rec)
		}(i, rec)
	}
	wg.Wait()

	ok := true
	for _, d := range deliveries {
		if !recipientOK(req.Mode, d) {
			ok = false
		}
	}
	return deliveries, ok
}

func recipientOK(mode Mode, d Delivery) bool {
	if d.DryRun {
		return true
	}
	switch mode {
	case ModeTmuxOnly:
		return d.TmuxOK
	case ModeMailOnly:
		return d.MailOK
	default:
		return d.TmuxOK || d.MailOK
	}
}

func (r *Router) deliverOne(ctx context.Context, req Request, rec Recipient) Delivery {
	d := Delivery{Agent: rec.Agent}
	if req.DryRun {
		d.DryRun = true
		return d
	}

	var problems []string

	if req.Mode != ModeMailOnly && rec.PaneID != "" {
		line := fmt.Sprintf("[%s] %s: %s", req.Sender, req.Subject, req.Body)
		if req.Tag != "" {
			line = fmt.Sprintf("[%s] %s", strings.ToUpper(req.Tag), line)
		}
		if err := r.injector.SendComment(rec.PaneID, line); err != nil {
			problems = append(problems, fmt.Sprintf("tmux: %v", err))
		} else {
			d.TmuxOK = true
		}
	}

	if req.Mode != ModeTmuxOnly {
		if err := r.sendMail(ctx, req, rec); err != nil {
			problems = append(problems, fmt.Sprintf("mail: %v", err))
		} else {
			d.MailOK = true
		}
	}

	d.Problem = strings.Join(problems, "; ")
	return d
}

// sendMail delivers through the mail service against the recipient's own
// project so cross-project routing works. The sender is registered in that
// project on first use.
func (r *Router) sendMail(ctx context.Context, req Request, rec Recipient) error {
	projectKey := rec.ProjectRoot
	if projectKey == "" {
		return fmt.Errorf("no project for %s", rec.Agent)
	}

	if err := r.ensureSender(ctx, projectKey, req.Sender); err != nil {
		return err
	}

	_, err := r.mailer.SendMessage(ctx, mail.SendMessageOptions{
		ProjectKey: projectKey,
		SenderName: req.Sender,
		To:         []string{rec.Agent},
		Subject:    req.Subject,
		BodyMD:     req.Body,
		Importance: Importance(req.Tag),
	})
	return err
}

// ensureSender makes sure the sender identity exists in the target project.
// Registration is idempotent server-side; the local cache just saves round
// trips within one broadcast.
func (r *Router) ensureSender(ctx context.Context, projectKey, sender string) error {
	key := projectKey + "|" + sender
	r.mu.Lock()
	done := r.registered[key]
	r.mu.Unlock()
	if done {
		return nil
	}

	if _, err := r.mailer.EnsureProject(ctx, projectKey); err != nil {
		return err
	}
	if _, err := r.mailer.RegisterAgent(ctx, mail.RegisterAgentOptions{
		ProjectKey: projectKey,
		Program:    "drover",
		Model:      "control-plane",
		Name:       sender,
	}); err != nil {
		return err
	}

	r.mu.Lock()
	r.registered[key] = true
	r.mu.Unlock()
	return nil
}
