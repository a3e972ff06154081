package budget

import (
	"context"
	"testing"
)

func TestInMemoryDeduplicator_ShouldAlert(t *testing.T) {
	ctx := context.Background()
	d := NewInMemoryDeduplicator()

	if !d.ShouldAlert(ctx, "p1", AlertLevelWarning) {
		t.Error("first alert should be allowed")
	}
	if d.ShouldAlert(ctx, "p1", AlertLevelWarning) {
		t.Error("same alert should be deduplicated")
	}
	if !d.ShouldAlert(ctx, "p1", AlertLevelCritical) {
		t.Error("different level should be allowed")
	}
	if !d.ShouldAlert(ctx, "p2", AlertLevelWarning) {
		t.Error("different project should be allowed")
	}
}

func TestInMemoryDeduplicator_ClearAlert(t *testing.T) {
	ctx := context.Background()
	d := NewInMemoryDeduplicator()

	d.ShouldAlert(ctx, "p1", AlertLevelWarning)
	d.ShouldAlert(ctx, "p1", AlertLevelExceeded)
	d.ClearAlert(ctx, "p1")

	if !d.ShouldAlert(ctx, "p1", AlertLevelWarning) {
		t.Error("warning should be allowed after clear")
	}
	if !d.ShouldAlert(ctx, "p1", AlertLevelExceeded) {
		t.Error("exceeded should be allowed after clear")
	}
}

func TestAlertKey(t *testing.T) {
	if got := alertKey("p1", AlertLevelCritical); got != "chatgw:budget:alert:p1:critical" {
		t.Errorf("alertKey = %q", got)
	}
}
