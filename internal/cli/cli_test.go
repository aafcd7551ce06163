package cli

import (
	"testing"

	"github.com/svgtranslate/svgbatch/internal/db"
)

func TestRootSubcommands(t *testing.T) {
	want := []string{"serve", "jobs", "tasks", "db", "version"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("root command missing subcommand %q", name)
		}
	}
}

func TestStageSummary(t *testing.T) {
	task := &db.Task{
		Stages: map[string]*db.Stage{
			"crop":  {Name: "crop", Number: 2, Status: db.StageRunning},
			"fetch": {Name: "fetch", Number: 1, Status: db.StageCompleted},
		},
	}

	got := stageSummary(task)
	want := "fetch:Completed crop:Running"
	if got != want {
		t.Errorf("stageSummary() = %q, want %q", got, want)
	}

	if stageSummary(&db.Task{}) != "-" {
		t.Errorf("stageSummary() on empty task = %q, want -", stageSummary(&db.Task{}))
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q, want short", got)
	}
	if got := truncate("a long title that keeps going", 10); len([]rune(got)) != 10 {
		t.Errorf("truncate() = %q, want 10 runes", got)
	}
}
