package models

import "time"

// OTP policy applied to every signer
const (
	OTPLength      = 6
	OTPTTL         = 10 * time.Minute
	OTPMaxAttempts = 3
)
