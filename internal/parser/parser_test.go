package parser

import (
	"strings"
	"testing"

	"github.com/weft-dev/weft/internal/models"
)

// collect feeds the whole input in the given chunk sizes and appends Flush.
func collect(t *testing.T, input string, chunk int) []Event {
	t.Helper()
	p := New()
	var events []Event
	if chunk <= 0 {
		chunk = len(input)
	}
	for i := 0; i < len(input); i += chunk {
		end := i + chunk
		if end > len(input) {
			end = len(input)
		}
		events = append(events, p.Feed(input[i:end])...)
	}
	events = append(events, p.Flush()...)
	return events
}

func actionsOf(events []Event) []models.Action {
	var actions []models.Action
	for _, ev := range events {
		if ev.Action != nil {
			actions = append(actions, *ev.Action)
		}
	}
	return actions
}

func textOf(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(ev.Text)
	}
	return b.String()
}

func warningsOf(events []Event) []models.ParseWarning {
	var warnings []models.ParseWarning
	for _, ev := range events {
		if ev.Warning != nil {
			warnings = append(warnings, *ev.Warning)
		}
	}
	return warnings
}

const sampleStream = `Here is the plan.
<op type="file" path="src/main.go">
package main

func main() {}
</op>
Now run the tests:
<op type="shell" command="go test ./..."></op>
<op type="start" command="npm run dev"/>
Done.`

func TestParseCompleteStream(t *testing.T) {
	events := collect(t, sampleStream, 0)
	actions := actionsOf(events)

	if len(actions) != 3 {
		t.Fatalf("Expected 3 actions, got %d", len(actions))
	}
	if actions[0].Kind != models.ActionFile || actions[0].Path != "src/main.go" {
		t.Errorf("Unexpected file action: %+v", actions[0])
	}
	want := "package main\n\nfunc main() {}\n"
	if actions[0].Content != want {
		t.Errorf("File content mismatch:\n got %q\nwant %q", actions[0].Content, want)
	}
	if actions[1].Kind != models.ActionShell || actions[1].Command != "go test ./..." {
		t.Errorf("Unexpected shell action: %+v", actions[1])
	}
	if actions[2].Kind != models.ActionStartServer || actions[2].Command != "npm run dev" {
		t.Errorf("Unexpected start action: %+v", actions[2])
	}

	text := textOf(events)
	if !strings.Contains(text, "Here is the plan.") || !strings.Contains(text, "Done.") {
		t.Errorf("Plain content was not forwarded: %q", text)
	}
	if strings.Contains(text, "package main") {
		t.Errorf("Marker body leaked into plain content: %q", text)
	}
}

func TestBoundaryIndependence(t *testing.T) {
	reference := actionsOf(collect(t, sampleStream, 0))

	for chunk := 1; chunk <= 17; chunk++ {
		actions := actionsOf(collect(t, sampleStream, chunk))
		if len(actions) != len(reference) {
			t.Fatalf("chunk=%d: got %d actions, want %d", chunk, len(actions), len(reference))
		}
		for i := range actions {
			if actions[i] != reference[i] {
				t.Errorf("chunk=%d action %d differs:\n got %+v\nwant %+v", chunk, i, actions[i], reference[i])
			}
		}
	}
}

func TestBoundaryIndependenceText(t *testing.T) {
	reference := textOf(collect(t, sampleStream, 0))
	for _, chunk := range []int{1, 2, 3, 5, 7, 11} {
		if got := textOf(collect(t, sampleStream, chunk)); got != reference {
			t.Errorf("chunk=%d plain text differs:\n got %q\nwant %q", chunk, got, reference)
		}
	}
}

func TestPlainTextForwardedBeforeStreamEnd(t *testing.T) {
	p := New()
	events := p.Feed("hello world, no markers here. ")
	if text := textOf(events); text != "hello world, no markers here. " {
		t.Errorf("Plain content was buffered instead of forwarded: %q", text)
	}
}

func TestMissingRequiredAttribute(t *testing.T) {
	input := `before <op type="file">orphan body</op> after`
	events := collect(t, input, 0)

	if actions := actionsOf(events); len(actions) != 0 {
		t.Fatalf("Expected no actions, got %+v", actions)
	}
	warnings := warningsOf(events)
	if len(warnings) != 1 || !strings.Contains(warnings[0].Reason, "path") {
		t.Fatalf("Expected a missing-path warning, got %+v", warnings)
	}
	// The region must be passed through, not silently dropped.
	text := textOf(events)
	if !strings.Contains(text, `<op type="file">`) || !strings.Contains(text, "orphan body") {
		t.Errorf("Malformed marker region was dropped: %q", text)
	}
}

func TestUnknownMarkerType(t *testing.T) {
	input := `<op type="teleport" command="up">x</op>`
	events := collect(t, input, 0)

	if actions := actionsOf(events); len(actions) != 0 {
		t.Fatalf("Expected no actions, got %+v", actions)
	}
	if warnings := warningsOf(events); len(warnings) != 1 {
		t.Fatalf("Expected one warning, got %+v", warnings)
	}
	if text := textOf(events); !strings.Contains(text, `type="teleport"`) {
		t.Errorf("Unknown marker was not passed through: %q", text)
	}
}

func TestOneBadMarkerDoesNotPoisonTheNext(t *testing.T) {
	input := `<op type="file">bad</op><op type="shell" command="ls"></op>`
	events := collect(t, input, 0)

	actions := actionsOf(events)
	if len(actions) != 1 || actions[0].Command != "ls" {
		t.Fatalf("Expected the shell action to survive, got %+v", actions)
	}
}

func TestNestedMarkersInBody(t *testing.T) {
	inner := "<op type=\"shell\" command=\"echo\">nested</op>"
	input := "<op type=\"file\" path=\"doc.md\">\n" + inner + "\n</op>"

	for _, chunk := range []int{0, 1, 4} {
		actions := actionsOf(collect(t, input, chunk))
		if len(actions) != 1 {
			t.Fatalf("chunk=%d: expected 1 action, got %d", chunk, len(actions))
		}
		if !strings.Contains(actions[0].Content, inner) {
			t.Errorf("chunk=%d: nested marker not kept verbatim: %q", chunk, actions[0].Content)
		}
	}
}

func TestSelfClosingMarkerInsideBody(t *testing.T) {
	input := `<op type="file" path="doc.md">run <op type="start" command="npm run dev"/> first</op>TAIL`
	want := `run <op type="start" command="npm run dev"/> first`

	for _, chunk := range []int{0, 1, 3, 6} {
		events := collect(t, input, chunk)
		actions := actionsOf(events)
		if len(actions) != 1 {
			t.Fatalf("chunk=%d: expected 1 action, got %+v", chunk, actions)
		}
		if actions[0].Content != want {
			t.Errorf("chunk=%d: content %q, want %q", chunk, actions[0].Content, want)
		}
		if warnings := warningsOf(events); len(warnings) != 0 {
			t.Errorf("chunk=%d: unexpected warnings %+v", chunk, warnings)
		}
		if text := textOf(events); text != "TAIL" {
			t.Errorf("chunk=%d: trailing text %q", chunk, text)
		}
	}
}

func TestBareSelfClosingMarkerInsideBody(t *testing.T) {
	input := `<op type="file" path="n.md">see <op .../></op>`
	events := collect(t, input, 0)

	actions := actionsOf(events)
	if len(actions) != 1 {
		t.Fatalf("Expected 1 action, got %+v", actions)
	}
	if actions[0].Content != `see <op .../>` {
		t.Errorf("Content = %q", actions[0].Content)
	}
	if warnings := warningsOf(events); len(warnings) != 0 {
		t.Errorf("Unexpected warnings %+v", warnings)
	}
}

func TestStreamEndsMidMarker(t *testing.T) {
	p := New()
	p.Feed(`text <op type="file" path="a.txt">partial conte`)
	events := p.Flush()

	warnings := warningsOf(events)
	if len(warnings) != 1 {
		t.Fatalf("Expected one warning, got %+v", warnings)
	}
	if text := textOf(events); !strings.Contains(text, "partial conte") {
		t.Errorf("Partial body was not flushed as text: %q", text)
	}
}

func TestAngleBracketsInPlainText(t *testing.T) {
	input := "a < b and <open> tags and </op> strays"
	events := collect(t, input, 3)
	if text := textOf(events); text != input {
		t.Errorf("Plain text mangled:\n got %q\nwant %q", text, input)
	}
	if actions := actionsOf(events); len(actions) != 0 {
		t.Errorf("Phantom actions: %+v", actions)
	}
}

func TestSequenceNumbersFollowArrivalOrder(t *testing.T) {
	actions := actionsOf(collect(t, sampleStream, 5))
	for i, a := range actions {
		if a.Seq != i {
			t.Errorf("Action %d has seq %d", i, a.Seq)
		}
	}
}
