// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthRequired      = "auth.required"
	KeyAuthInvalidToken  = "auth.invalid_token"
	KeyAdminAccessDenied = "admin.access_denied"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Keys
	KeyLicenseKeyDeleted = "license_key.deleted"

	// Rate limiting
	KeyRateLimited = "rate_limit.exceeded"

	// Activation certainty labels
	KeyCertaintyOrderNotPaid = "certainty.order_not_paid"
	KeyCertaintyKeyNotIssued = "certainty.key_not_issued"
	KeyCertaintyConfirmed    = "certainty.activated_confirmed_provider"
	KeyCertaintyFailed       = "certainty.activation_failed"
	KeyCertaintyInProgress   = "certainty.activation_in_progress"
	KeyCertaintyUnconfirmed  = "certainty.activation_unconfirmed"

	// Notifications
	KeyEmailPaidSubject = "email.paid.subject"
)
