package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing []string
		want    string
		wantErr bool
	}{
		{name: "primary succeeds", want: "primary"},
		{name: "fails over", failing: []string{"primary"}, want: "secondary"},
		{name: "all fail", failing: []string{"primary", "secondary"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewFallbackGroup("primary", "primary", FallbackConfig{})
			g.AddFallback("secondary", "secondary")

			var got string
			err := g.Execute(context.Background(), func(_ context.Context, v string) error {
				if slices.Contains(tt.failing, v) {
					return errTest
				}
				got = v
				return nil
			})
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got != tt.want {
				t.Errorf("served by %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	g := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	g.AddFallback("secondary", "secondary")
	ctx := context.Background()

	primaryCalls := 0
	fn := func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			primaryCalls++
			return "", errTest
		}
		return v, nil
	}
	for range 2 {
		if _, err := ExecuteWithResult(ctx, g, fn); err != nil {
			t.Fatal(err)
		}
	}
	got, err := ExecuteWithResult(ctx, g, fn)
	if err != nil || got != "secondary" {
		t.Fatalf("got %q, %v", got, err)
	}
	if primaryCalls != 2 {
		t.Errorf("primary called %d times, want 2 (breaker should skip it)", primaryCalls)
	}
}

func TestFallbackGroup_StopsOnCancel(t *testing.T) {
	t.Parallel()

	g := NewFallbackGroup(1, "one", FallbackConfig{})
	g.AddFallback("two", 2)
	ctx, cancel := context.WithCancel(context.Background())

	var seen []int
	_, err := ExecuteWithResult(ctx, g, func(ctx context.Context, v int) (int, error) {
		seen = append(seen, v)
		cancel()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !slices.Equal(seen, []int{1}) {
		t.Errorf("tried %v, want only the primary", seen)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()

	g := NewFallbackGroup(0, "a", FallbackConfig{})
	g.AddFallback("b", 1)
	g.AddFallback("c", 2)
	if got := g.Names(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Names() = %v", got)
	}
	if g.Primary() != 0 {
		t.Errorf("Primary() = %d", g.Primary())
	}
}
