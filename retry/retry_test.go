package retry_test

import (
	"context"
	"errors"
	"interview-orchestrator/retry"
	"testing"
	"time"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDo(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 3, Delay: time.Millisecond}

	tests := []struct {
		name         string
		results      []error
		wantErr      error
		wantCalls    int
		wantFailures int
	}{
		{name: "first try succeeds", results: []error{nil}, wantCalls: 1},
		{name: "recovers after transient", results: []error{errTransient, errTransient, nil}, wantCalls: 3, wantFailures: 2},
		{name: "exhausts attempts", results: []error{errTransient, errTransient, errTransient}, wantErr: errTransient, wantCalls: 3, wantFailures: 3},
		{name: "stops on fatal", results: []error{errTransient, errFatal, nil}, wantErr: errFatal, wantCalls: 2, wantFailures: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			var failures []retry.Attempt
			got, err := retry.Do(context.Background(), policy, retry.Options{
				Retryable: isTransient,
				OnFailure: func(a retry.Attempt) error {
					failures = append(failures, a)
					return nil
				},
			}, func(ctx context.Context) (int, error) {
				err := tc.results[calls]
				calls++
				if err != nil {
					return 0, err
				}
				return 42, nil
			})

			if !errors.Is(err, tc.wantErr) || (tc.wantErr == nil && err != nil) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil && got != 42 {
				t.Fatalf("result = %d", got)
			}
			if calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tc.wantCalls)
			}
			if len(failures) != tc.wantFailures {
				t.Fatalf("failures = %d, want %d", len(failures), tc.wantFailures)
			}
			for i, f := range failures {
				if f.Number != i+1 {
					t.Errorf("failure %d numbered %d", i, f.Number)
				}
			}
			if tc.wantErr != nil && !failures[len(failures)-1].Final() {
				t.Errorf("last failure should be final")
			}
		})
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retry.Do(ctx, retry.Policy{MaxAttempts: 5, Delay: time.Hour}, retry.Options{Retryable: isTransient},
		func(ctx context.Context) (struct{}, error) {
			calls++
			cancel()
			return struct{}{}, errTransient
		})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoStopsWhenOnFailureErrors(t *testing.T) {
	errStop := errors.New("stop")
	calls := 0
	_, err := retry.Do(context.Background(), retry.Policy{MaxAttempts: 3, Delay: time.Millisecond}, retry.Options{
		Retryable: isTransient,
		OnFailure: func(retry.Attempt) error { return errStop },
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("err = %v, want errStop", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
