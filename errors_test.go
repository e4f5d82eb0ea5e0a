package edgequeue

import (
	"errors"
	"strings"
	"testing"
)

func TestCancelAndIsCancelled(t *testing.T) {
	cause := errors.New("unrecoverable")
	err := Cancel(cause)

	if !IsCancelled(err) {
		t.Fatal("expected IsCancelled to report true for a Cancel-wrapped error")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected Cancel to preserve the wrapped cause")
	}
}

func TestCancelNilStillProducesCancelledError(t *testing.T) {
	err := Cancel(nil)
	if err == nil {
		t.Fatal("expected Cancel(nil) to still produce a non-nil error")
	}
	if !IsCancelled(err) {
		t.Fatal("expected Cancel(nil) to be cancelled")
	}
}

func TestIsCancelledFalseForOrdinaryError(t *testing.T) {
	if IsCancelled(errors.New("plain")) {
		t.Fatal("expected an ordinary error to not be cancelled")
	}
}

func TestTransientMarksRetryable(t *testing.T) {
	err := Transient(errors.New("flaky network"))
	if !IsRetryable(err) {
		t.Fatal("expected a Transient-wrapped error to be retryable")
	}
}

func TestTransientNilStaysNil(t *testing.T) {
	if Transient(nil) != nil {
		t.Fatal("expected Transient(nil) to return nil")
	}
}

func TestIsRetryableDefaultsTrueForPlainErrors(t *testing.T) {
	if !IsRetryable(errors.New("plain failure")) {
		t.Fatal("expected an unmarked error to be retryable by default")
	}
}

func TestIsRetryableFalseForCancelled(t *testing.T) {
	if IsRetryable(Cancel(errors.New("done"))) {
		t.Fatal("expected a cancelled error to never be retryable")
	}
}

func TestIsRetryableFalseForPanic(t *testing.T) {
	err := PanicError{Value: "boom", Stack: "stack"}
	if IsRetryable(err) {
		t.Fatal("expected a panic error to never be retryable")
	}
}

func TestIsRetryableNil(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("expected IsRetryable(nil) to be false")
	}
}

func TestEnqueueErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := EnqueueError{Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected EnqueueError to unwrap to its cause")
	}
}

func TestStorageErrorMessageIncludesOp(t *testing.T) {
	err := StorageError{Op: "claimConcurrentJobs", Cause: errors.New("timeout")}
	if got := err.Error(); !strings.Contains(got, "claimConcurrentJobs") {
		t.Fatalf("expected the error message to name the failing op, got %q", got)
	}
}
