package pkg

import (
	"errors"
	"testing"
)

func TestFaultKind_String(t *testing.T) {
	tests := []struct {
		kind FaultKind
		want string
	}{
		{FaultNone, "none"},
		{FaultSourceBus, "source-bus"},
		{FaultDestinationBus, "destination-bus"},
		{FaultScatterGather, "scatter-gather"},
		{FaultLoopConfig, "loop-config"},
		{FaultChannelPriority, "channel-priority"},
		{FaultGroupPriority, "group-priority"},
		{FaultCancelled, "cancelled"},
		{FaultKind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("FaultKind.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFaultKind_Error(t *testing.T) {
	tests := []struct {
		kind    FaultKind
		wantErr error
	}{
		{FaultNone, nil},
		{FaultSourceBus, ErrSourceBus},
		{FaultDestinationBus, ErrDestinationBus},
		{FaultScatterGather, ErrScatterGather},
		{FaultLoopConfig, ErrLoopConfig},
		{FaultSourceOffset, ErrSourceOffset},
		{FaultDestinationAddress, ErrDestinationAddr},
		{FaultGroupPriority, ErrGroupPriority},
		{FaultCancelled, ErrCancelled},
		{FaultUnknown, ErrFault},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := tt.kind.Error()
			if tt.wantErr == nil && err != nil {
				t.Errorf("FaultKind.Error() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("FaultKind.Error() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrZeroLength,
		ErrMisaligned,
		ErrTooLarge,
		ErrNoDescriptors,
		ErrNoFreeChannel,
		ErrDuplicatePriority,
		ErrGroupPriority,
		ErrInvalidPriority,
		ErrInvalidSource,
		ErrInvalidChain,
		ErrStaleBinding,
		ErrTimeout,
		ErrCancelled,
		ErrBufferLeased,
		ErrBufferFreed,
		ErrSourceBus,
		ErrDestinationBus,
		ErrScatterGather,
		ErrLoopConfig,
		ErrFault,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{ErrZeroLength, "zero-length transfer"},
		{ErrNoFreeChannel, "no free channel"},
		{ErrDestinationBus, "destination bus error"},
		{ErrBufferLeased, "buffer leased to active transfer"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("error.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}
