package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/droverhq/drover/internal/mail"
)

type routerMailer struct {
	mu        sync.Mutex
	sent      []mail.SendMessageOptions
	registers []mail.RegisterAgentOptions
	sendErr   error
}

func (m *routerMailer) EnsureProject(context.Context, string) (*mail.Project, error) {
	return &mail.Project{}, nil
}

func (m *routerMailer) RegisterAgent(_ context.Context, opts mail.RegisterAgentOptions) (*mail.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers = append(m.registers, opts)
	return &mail.Agent{Name: opts.Name}, nil
}

func (m *routerMailer) SendMessage(_ context.Context, opts mail.SendMessageOptions) (*mail.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, opts)
	return &mail.SendResult{Count: 1}, nil
}

type fakeInjector struct {
	mu    sync.Mutex
	lines map[string]string
	err   error
}

func (f *fakeInjector) SendComment(paneID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.lines == nil {
		f.lines = make(map[string]string)
	}
	f.lines[paneID] = text
	return nil
}

func TestImportance(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"URGENT", "urgent"},
		{"blocker", "urgent"},
		{"INFO", "normal"},
		{"", "normal"},
	}
	for _, tt := range tests {
		if got := Importance(tt.tag); got != tt.want {
			t.Errorf("Importance(%q) = %q, want %q", tt.tag, got, tt.want)
		}
	}
}

func TestSendBothChannels(t *testing.T) {
	m := &routerMailer{}
	inj := &fakeInjector{}
	r := NewRouter(m, inj)

	deliveries, ok := r.Send(context.Background(), Request{
		Recipients: []Recipient{{Agent: "BlueLake", PaneID: "%1", ProjectRoot: "/proj"}},
		Subject:    "status",
		Body:       "queue is deep",
		Tag:        "INFO",
		Sender:     "Coordinator",
	})
	if !ok {
		t.Fatalf("deliveries = %+v", deliveries)
	}
	d := deliveries[0]
	if !d.TmuxOK || !d.MailOK || d.Problem != "" {
		t.Errorf("delivery = %+v", d)
	}

	line := inj.lines["%1"]
	want := "[INFO] [Coordinator] status: queue is deep"
	if line != want {
		t.Errorf("pane line = %q, want %q", line, want)
	}
	if len(m.sent) != 1 || m.sent[0].Importance != "normal" || m.sent[0].To[0] != "BlueLake" {
		t.Errorf("mail = %+v", m.sent)
	}
}

func TestSendNoPaneFallsBackToMail(t *testing.T) {
	m := &routerMailer{}
	r := NewRouter(m, &fakeInjector{})

	deliveries, ok := r.Send(context.Background(), Request{
		Recipients: []Recipient{{Agent: "Remote", ProjectRoot: "/proj"}},
		Subject:    "ping",
		Sender:     "Coordinator",
	})
	if !ok {
		t.Fatalf("deliveries = %+v", deliveries)
	}
	if deliveries[0].TmuxOK {
		t.Error("no pane means no tmux delivery")
	}
	if !deliveries[0].MailOK {
		t.Error("mail should carry the message")
	}
}

func TestSendTmuxOnly(t *testing.T) {
	m := &routerMailer{}
	inj := &fakeInjector{}
	r := NewRouter(m, inj)

	_, ok := r.Send(context.Background(), Request{
		Recipients: []Recipient{{Agent: "BlueLake", PaneID: "%1", ProjectRoot: "/proj"}},
		Subject:    "nudge",
		Mode:       ModeTmuxOnly,
		Sender:     "Coordinator",
	})
	if !ok {
		t.Fatal("tmux-only delivery should succeed")
	}
	if len(m.sent) != 0 {
		t.Errorf("tmux-only must not mail, sent %+v", m.sent)
	}

	// A failing injector makes the whole tmux-only broadcast fail.
	inj.err = errors.New("pane gone")
	deliveries, ok := r.Send(context.Background(), Request{
		Recipients: []Recipient{{Agent: "BlueLake", PaneID: "%1", ProjectRoot: "/proj"}},
		Subject:    "nudge",
		Mode:       ModeTmuxOnly,
		Sender:     "Coordinator",
	})
	if ok {
		t.Error("expected failure")
	}
	if !strings.Contains(deliveries[0].Problem, "tmux:") {
		t.Errorf("problem = %q", deliveries[0].Problem)
	}
}

func TestSendMailOnly(t *testing.T) {
	m := &routerMailer{}
	inj := &fakeInjector{}
	r := NewRouter(m, inj)

	_, ok := r.Send(context.Background(), Request{
		Recipients: []Recipient{{Agent: "BlueLake", PaneID: "%1", ProjectRoot: "/proj"}},
		Subject:    "report",
		Mode:       ModeMailOnly,
		Tag:        "URGENT",
		Sender:     "Coordinator",
	})
	if !ok {
		t.Fatal("mail-only delivery should succeed")
	}
	if len(inj.lines) != 0 {
		t.Error("mail-only must not touch panes")
	}
	if m.sent[0].Importance != "urgent" {
		t.Errorf("importance = %q, want urgent", m.sent[0].Importance)
	}
}

func TestSendDryRun(t *testing.T) {
	m := &routerMailer{}
	inj := &fakeInjector{}
	r := NewRouter(m, inj)

	deliveries, ok := r.Send(context.Background(), Request{
		Recipients: []Recipient{{Agent: "A", PaneID: "%1", ProjectRoot: "/proj"}, {Agent: "B"}},
		Subject:    "rehearsal",
		Sender:     "Coordinator",
		DryRun:     true,
	})
	if !ok {
		t.Fatal("dry run always succeeds")
	}
	for _, d := range deliveries {
		if !d.DryRun || d.TmuxOK || d.MailOK {
			t.Errorf("delivery = %+v", d)
		}
	}
	if len(m.sent) != 0 || len(inj.lines) != 0 {
		t.Error("dry run must not deliver anywhere")
	}
}

func TestSendRegistersSenderOncePerProject(t *testing.T) {
	m := &routerMailer{}
	r := NewRouter(m, &fakeInjector{})

	_, ok := r.Send(context.Background(), Request{
		Recipients: []Recipient{
			{Agent: "A", ProjectRoot: "/proj"},
			{Agent: "B", ProjectRoot: "/proj"},
			{Agent: "C", ProjectRoot: "/other"},
		},
		Subject: "hello",
		Sender:  "Coordinator",
	})
	if !ok {
		t.Fatal("send failed")
	}
	// Concurrent deliveries may race the cache within one broadcast; a
	// second broadcast must add nothing.
	before := len(m.registers)
	if before < 2 {
		t.Fatalf("expected at least one registration per project, got %d", before)
	}

	if _, ok := r.Send(context.Background(), Request{
		Recipients: []Recipient{{Agent: "A", ProjectRoot: "/proj"}},
		Subject:    "again",
		Sender:     "Coordinator",
	}); !ok {
		t.Fatal("second send failed")
	}
	if len(m.registers) != before {
		t.Errorf("sender re-registered: %d -> %d", before, len(m.registers))
	}
}

func TestSendMailFailureReported(t *testing.T) {
	m := &routerMailer{sendErr: errors.New("service down")}
	r := NewRouter(m, &fakeInjector{})

	deliveries, ok := r.Send(context.Background(), Request{
		Recipients: []Recipient{{Agent: "A", ProjectRoot: "/proj"}},
		Subject:    "x",
		Mode:       ModeMailOnly,
		Sender:     "Coordinator",
	})
	if ok {
		t.Error("expected overall failure")
	}
	if !strings.Contains(deliveries[0].Problem, "mail:") {
		t.Errorf("problem = %q", deliveries[0].Problem)
	}
}
