package util_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nasa-jpl/cryosweep/util"
)

func ExampleSecsToDuration() {
	fmt.Println(util.SecsToDuration(0.27))
	// Output: 270ms
}

func ExampleClamp() {
	fmt.Println(util.Clamp(450, 1.8, 400))
	// Output: 400
}

func TestSecsToDuration(t *testing.T) {
	if d := util.SecsToDuration(1.5); d != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", d)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := util.Sleep(ctx, time.Hour)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly on a cancelled context")
	}
}
