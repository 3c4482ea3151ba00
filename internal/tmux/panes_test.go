package tmux

import "testing"

func TestParsePanes(t *testing.T) {
	out := "%0\tmyproject\t/home/u/proj\tzsh\tBlueLake\tclaude\n" +
		"%1\tmyproject\t/home/u/proj\tnode\t\t\n" +
		"\n" +
		"%2\tother\t/tmp\tbash\tAmberPeak\t"

	panes := parsePanes(out)
	if len(panes) != 3 {
		t.Fatalf("expected 3 panes, got %d", len(panes))
	}

	if panes[0].ID != "%0" || panes[0].Session != "myproject" || panes[0].AgentName != "BlueLake" || panes[0].LLMName != "claude" {
		t.Errorf("pane 0 = %+v", panes[0])
	}
	if panes[1].AgentName != "" {
		t.Errorf("pane 1 should have no agent name, got %q", panes[1].AgentName)
	}
	if panes[2].Session != "other" || panes[2].AgentName != "AmberPeak" {
		t.Errorf("pane 2 = %+v", panes[2])
	}
}

func TestParsePanesEmpty(t *testing.T) {
	if panes := parsePanes(""); len(panes) != 0 {
		t.Errorf("expected no panes, got %d", len(panes))
	}
}
