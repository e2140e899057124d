package main

import (
	"strings"
	"testing"
)

func TestDialableBind(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.0.0.0:7487", "127.0.0.1:7487"},
		{":7487", "127.0.0.1:7487"},
		{"[::]:7487", "127.0.0.1:7487"},
		{"192.168.1.5:7487", "192.168.1.5:7487"},
		{"garbage", "garbage"},
	}
	for _, tc := range cases {
		if got := dialableBind(tc.in); got != tc.want {
			t.Errorf("dialableBind(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDefaultArtifactName(t *testing.T) {
	cases := []struct {
		source   string
		artifact string
		want     string
	}{
		{"deck.pptx", "video", "deck.mp4"},
		{"deck.pptx", "thumbnail", "deck.jpg"},
		{"archive.zip", "video", "archive.mp4"},
		{"", "video", "slidereel.mp4"},
	}
	for _, tc := range cases {
		if got := defaultArtifactName(tc.source, tc.artifact); got != tc.want {
			t.Errorf("defaultArtifactName(%q, %q) = %q, want %q", tc.source, tc.artifact, got, tc.want)
		}
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	rendered := renderTable(
		[]string{"TOKEN", "STATUS"},
		[][]string{{"abc123"}},
		[]columnAlignment{alignLeft, alignLeft},
	)
	if !strings.Contains(rendered, "abc123") {
		t.Fatalf("rendered table missing row value:\n%s", rendered)
	}
	if !strings.Contains(rendered, "TOKEN") || !strings.Contains(rendered, "STATUS") {
		t.Fatalf("rendered table missing headers:\n%s", rendered)
	}
}

func TestRenderTableWrapsWideCells(t *testing.T) {
	wide := strings.Repeat("x", maxCellWidth+20)
	rendered := renderTable(
		[]string{"TOKEN", "ERROR"},
		[][]string{{"abc123", wide}},
		[]columnAlignment{alignLeft, alignLeft},
	)
	if strings.Contains(rendered, wide) {
		t.Fatalf("wide cell was not wrapped:\n%s", rendered)
	}
	if !strings.Contains(rendered, wide[:maxCellWidth]) {
		t.Fatalf("wrapped cell lost its content:\n%s", rendered)
	}
}

func TestStageRankOrdersPipeline(t *testing.T) {
	order := []string{"validate", "extract", "synthesize", "render", "other"}
	for i := 1; i < len(order); i++ {
		if stageRank(order[i-1]) >= stageRank(order[i]) {
			t.Fatalf("stageRank(%q) >= stageRank(%q)", order[i-1], order[i])
		}
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"submit", "jobs", "show", "watch", "cancel", "download", "status", "config"} {
		found := false
		for _, cmd := range root.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("root command missing subcommand %q", name)
		}
	}
}
