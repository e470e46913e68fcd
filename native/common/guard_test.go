package common

import (
	"errors"
	"testing"
)

func TestGuardFollowsPauses(t *testing.T) {
	if err := Guard(nil, "cdp"); err != nil {
		t.Fatalf("nil view paused: %v", err)
	}
	pauses := NewPauses("cdp")
	if err := Guard(pauses, "cdp"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "pricefeed"); err != nil {
		t.Fatalf("unrelated module paused: %v", err)
	}
	pauses.Set("pricefeed", true)
	pauses.Set("cdp", false)
	if got := pauses.Paused(); len(got) != 1 || got[0] != "pricefeed" {
		t.Fatalf("paused modules %v", got)
	}
}
