package mlx5accel

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("SubmitTask", ErrCodeInvalidArgument, "invalid opcode")

	if err.Op != "SubmitTask" {
		t.Errorf("Expected Op=SubmitTask, got %s", err.Op)
	}
	if err.Code != ErrCodeInvalidArgument {
		t.Errorf("Expected Code=ErrCodeInvalidArgument, got %s", err.Code)
	}

	expected := "mlx5accel: invalid opcode (op=SubmitTask)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("PostRDMAWrite", ErrCodeWrPostFailed, syscall.EIO)

	if err.Errno != syscall.EIO {
		t.Errorf("Expected Errno=EIO, got %v", err.Errno)
	}
	if err.Code != ErrCodeWrPostFailed {
		t.Errorf("Expected Code=ErrCodeWrPostFailed, got %s", err.Code)
	}
}

func TestDeviceError(t *testing.T) {
	err := NewDeviceError("CreateQP", "mlx5_0", ErrCodeDeviceOffline, "device gone")

	if err.DevID != "mlx5_0" {
		t.Errorf("Expected DevID=mlx5_0, got %s", err.DevID)
	}

	expected := "mlx5accel: device gone (op=CreateQP)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestQPError(t *testing.T) {
	err := NewQPError("RecoverQP", "mlx5_0", 3, ErrCodeQPInError, "qp stalled")

	if err.DevID != "mlx5_0" {
		t.Errorf("Expected DevID=mlx5_0, got %s", err.DevID)
	}
	if err.Queue != 3 {
		t.Errorf("Expected Queue=3, got %d", err.Queue)
	}
}

func TestWrapError(t *testing.T) {
	inner := syscall.ENOMEM
	err := WrapError("CreateMKey", inner)

	if err.Code != ErrCodeResourceExhausted {
		t.Errorf("Expected Code=ErrCodeResourceExhausted, got %s", err.Code)
	}
	if err.Errno != syscall.ENOMEM {
		t.Errorf("Expected Errno=ENOMEM, got %v", err.Errno)
	}
	if !errors.Is(err, syscall.ENOMEM) {
		t.Error("Expected wrapped error to satisfy errors.Is for ENOMEM")
	}
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	base := NewDeviceError("CreateQP", "mlx5_0", ErrCodeDeviceOffline, "gone")
	wrapped := WrapError("RecoverQP", base)

	if wrapped.Code != ErrCodeDeviceOffline {
		t.Errorf("expected code to carry through wrap, got %s", wrapped.Code)
	}
	if wrapped.DevID != "mlx5_0" {
		t.Errorf("expected devID to carry through wrap, got %s", wrapped.DevID)
	}
	if wrapped.Op != "RecoverQP" {
		t.Errorf("expected op to be overwritten by wrap, got %s", wrapped.Op)
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("PollCQ", ErrCodeIO, "completion error")

	if !IsCode(err, ErrCodeIO) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrCodeUnsupported) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrCodeIO) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("PollCQ", ErrCodeIO, syscall.EIO)

	if !IsErrno(err, syscall.EIO) {
		t.Error("IsErrno should return true for matching errno")
	}
	if IsErrno(err, syscall.EPERM) {
		t.Error("IsErrno should return false for non-matching errno")
	}
	if IsErrno(nil, syscall.EIO) {
		t.Error("IsErrno should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected AccelErrorCode
	}{
		{syscall.ENOMEM, ErrCodeResourceExhausted},
		{syscall.ENOSPC, ErrCodeResourceExhausted},
		{syscall.EINVAL, ErrCodeInvalidArgument},
		{syscall.E2BIG, ErrCodeInvalidArgument},
		{syscall.ENOSYS, ErrCodeUnsupported},
		{syscall.EOPNOTSUPP, ErrCodeUnsupported},
		{syscall.EIO, ErrCodeWrPostFailed},
	}

	for _, tc := range testCases {
		code := mapErrnoToCode(tc.errno)
		if code != tc.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}
