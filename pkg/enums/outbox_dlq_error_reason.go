package enums

// DLQReason records why an event landed in the dead-letter table.
type DLQReason string

const (
	DLQReasonMaxAttempts  DLQReason = "max_attempts"
	DLQReasonNonRetryable DLQReason = "non_retryable"
	DLQReasonOrphaned     DLQReason = "orphaned"
)

var validDLQReasons = []DLQReason{
	DLQReasonMaxAttempts,
	DLQReasonNonRetryable,
	DLQReasonOrphaned,
}

func (r DLQReason) IsValid() bool {
	for _, candidate := range validDLQReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
