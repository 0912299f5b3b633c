package errno

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage returns a copy with a more specific message, keeping the code
func (e Errno) WithMessage(msg string) Errno {
	return Errno{Code: e.Code, Message: msg}
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	default:
		return InternalServerError.Code, err.Error()
	}
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
)

// Webhook Errors (20000+)
var (
	ErrWebhookSignature = Errno{Code: 20001, Message: "Webhook signature verification failed"}
	ErrWebhookPayload   = Errno{Code: 20002, Message: "Webhook payload malformed"}
)

// Business Errors (30000+)
var (
	ErrUserNotFound       = Errno{Code: 30101, Message: "User not found"}
	ErrConnectionNotFound = Errno{Code: 30201, Message: "Bank connection not found"}
	ErrBatchNotFound      = Errno{Code: 30301, Message: "Donation batch not found"}
	ErrBatchExists        = Errno{Code: 30302, Message: "A non-failed batch already exists for this period"}
	ErrPayoutNotFound     = Errno{Code: 30401, Message: "Payout not found"}
	ErrPayoutExists       = Errno{Code: 30404, Message: "A non-failed payout already exists for this period"}
	ErrOrgNotFound        = Errno{Code: 30402, Message: "Organization not found"}
	ErrKYCIneligible      = Errno{Code: 30403, Message: "Organization failed KYC eligibility check"}
)
