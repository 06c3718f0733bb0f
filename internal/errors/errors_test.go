package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestFastPathNoTelemetry(t *testing.T) {
	// Ensure no telemetry or hooks
	SetTelemetryReporter(nil)
	ClearErrorHooks()

	ee := New(fmt.Errorf("test error")).Build()

	if ee.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Error())
	}
	if ee.GetComponent() != ComponentUnknown {
		t.Errorf("Expected component 'unknown' in fast path, got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' in fast path, got '%s'", ee.Category)
	}
}

func TestIsMatchesWrappedSentinel(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("nothing to write")
	ee := New(fmt.Errorf("remix segment: %w", sentinel)).
		Component("remix").
		Category(CategoryNotFound).
		Build()

	if !Is(ee, sentinel) {
		t.Error("expected enhanced error to match wrapped sentinel")
	}
	if !IsNotFound(ee) {
		t.Error("expected not-found category")
	}
}

func TestIsDistinguishesSameCategory(t *testing.T) {
	t.Parallel()

	a := New(NewStd("writer not ready")).Category(CategoryState).Build()
	b := New(NewStd("recovery in progress")).Category(CategoryState).Build()
	a2 := New(NewStd("writer not ready")).Category(CategoryState).Build()

	if Is(a, b) {
		t.Error("errors with different messages must not match")
	}
	if !Is(a, a2) {
		t.Error("errors with same category and message should match")
	}
}

func TestContextIsCopied(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("boom")).
		Context("operation", "finalize").
		SourceContext("mic:usb-1").
		Build()

	ctx := ee.GetContext()
	ctx["operation"] = "changed"

	if got := ee.GetContext()["operation"]; got != "finalize" {
		t.Errorf("context mutated through copy: %v", got)
	}
	if got := ee.GetContext()["source"]; got != "mic:usb-1" {
		t.Errorf("expected source context, got %v", got)
	}
}

func TestScrubMessageForPrivacy(t *testing.T) {
	t.Parallel()

	scrubbed := scrubMessageForPrivacy("Error at https://api.example.com?api_key=secret123&token=abc")
	if scrubbed != "Error at https://api.example.com?[REDACTED]" {
		t.Errorf("URL scrubbing failed, got: %s", scrubbed)
	}

	scrubbed = scrubMessageForPrivacy("open /home/alice/segments/mic-1.m4a: permission denied")
	if strings.Contains(scrubbed, "alice") {
		t.Errorf("home directory not scrubbed: %s", scrubbed)
	}
}

func TestHookActivatesSlowPath(t *testing.T) {
	var seen []*EnhancedError
	AddErrorHook(func(ee *EnhancedError) { seen = append(seen, ee) })
	t.Cleanup(ClearErrorHooks)

	ee := New(NewStd("invalid sample rate")).Build()

	if len(seen) != 1 {
		t.Fatalf("expected hook to run once, ran %d times", len(seen))
	}
	if ee.Category != CategoryValidation {
		t.Errorf("expected detected validation category, got %s", ee.Category)
	}
}

func TestLookupComponentUsesRegistry(t *testing.T) {
	t.Parallel()

	if got := lookupComponent("github.com/tphakala/trackmix/internal/audiocore/remix.(*Remixer).Remix"); got != "remix" {
		t.Errorf("expected component 'remix', got '%s'", got)
	}
	// unregistered packages fall back to the package name
	if got := lookupComponent("github.com/acme/tool/widget.Run"); got != "widget" {
		t.Errorf("expected component 'widget', got '%s'", got)
	}
}
