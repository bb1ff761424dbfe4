package scheduler

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	p.Handle(Event{Kind: EventSkipped, RepoName: "infra", Reason: ReasonCooldown, Time: ts})
	p.Handle(Event{Kind: EventStarted, RepoName: "scripts", Time: ts})
	p.Handle(Event{Kind: EventCompleted, RepoName: "scripts", Success: false, Message: "timed out after 30s", Time: ts})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"09:30:00 - infra: skipped (cooldown not elapsed)",
		"09:30:00 … scripts: pulling",
		"09:30:00 ✗ scripts: failed: timed out after 30s",
	}, lines)
	assert.NotContains(t, buf.String(), "\033[")
}

func TestPrinter_Summary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.PrintSummary(Summary{Succeeded: 1, Failed: 1, Failures: map[string]string{"/src/a": "conflict"}})

	assert.Contains(t, buf.String(), "sync: attempted 2 (ok 1, failed 1), skipped 0, total 2")
	assert.Contains(t, buf.String(), "failed /src/a: conflict")
}

func TestPrinter_SummaryFailuresSorted(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	failures := map[string]string{
		"/src/zeta":  "timed out after 30s",
		"/src/alpha": "conflict",
		"/src/mid":   "no tracking branch",
	}
	for i := 0; i < 5; i++ {
		buf.Reset()
		p.PrintSummary(Summary{Failed: 3, Failures: failures})
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, []string{
			"  failed /src/alpha: conflict",
			"  failed /src/mid: no tracking branch",
			"  failed /src/zeta: timed out after 30s",
		}, lines[1:])
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 5))
	assert.Equal(t, "ab…", clip("abcdef", 3))
}
