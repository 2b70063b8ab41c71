package referral

import "errors"

var (
	ErrNotFound               = errors.New("referral not found")
	ErrUrgencyNotConfirmed    = errors.New("urgency not confirmed")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrReferralTerminal       = errors.New("referral is terminal")
	ErrDeclineReasonRequired  = errors.New("decline reason is required")
	ErrOverrideReasonRequired = errors.New("override reason is required")
	ErrSpecialistRequired     = errors.New("assigned specialist is required")
	ErrLockConflict           = errors.New("referral is locked by another user")
	ErrPatientNotMatched      = errors.New("referral has no matched patient")
)
