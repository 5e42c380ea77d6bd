// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	nerrors "github.com/absmach/netcat/pkg/errors"
)

func TestGuard_Fires(t *testing.T) {
	tests := []struct {
		name     string
		explicit bool
		want     error
	}{
		{"explicit", true, nerrors.ErrConnectTimeout},
		{"convenience", false, ErrSilent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(10*time.Millisecond, tt.explicit)
			ctx := g.Arm(context.Background())
			<-ctx.Done()

			if err := g.Err(ctx.Err()); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGuard_Disarm(t *testing.T) {
	g := New(20*time.Millisecond, true)
	ctx := g.Arm(context.Background())
	if !g.Armed() {
		t.Fatal("Expected guard to be armed")
	}
	if g.Context(context.Background()) != ctx {
		t.Error("Expected Context to return the armed context")
	}

	g.Disarm()
	g.Disarm()
	if g.Armed() {
		t.Error("Expected guard to be disarmed")
	}

	parent := context.Background()
	if g.Context(parent) != parent {
		t.Error("Expected Context to return the parent after disarm")
	}

	time.Sleep(40 * time.Millisecond)
	if err := g.Err(context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected unrelated error unchanged, got %v", err)
	}
}

func TestGuard_NoTimeout(t *testing.T) {
	g := New(0, false)
	ctx := g.Arm(context.Background())
	if _, ok := ctx.Deadline(); ok {
		t.Error("Expected no deadline")
	}
	if again := g.Arm(context.Background()); again != ctx {
		t.Error("Expected Arm to be idempotent")
	}

	other := context.DeadlineExceeded
	if err := g.Err(other); err != other {
		t.Errorf("Expected foreign deadline unchanged, got %v", err)
	}
}

func TestGuard_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	g := New(time.Minute, true)
	ctx := g.Arm(parent)
	cancel()
	<-ctx.Done()

	if err := g.Err(ctx.Err()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
