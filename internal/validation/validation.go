package validation

import (
	"fmt"
	"net/url"
	"strings"

	"socialhub/internal/constants"
	apperrors "socialhub/internal/errors"
	"socialhub/internal/models"
)

// ValidateContactID normalizes a contact identifier and checks its shape.
// Phone contacts must have between MinPhoneNumberLength and
// MaxPhoneNumberLength digits.
func ValidateContactID(raw string) (string, error) {
	id := models.NormalizeContactID(raw)
	if id == "" {
		return "", apperrors.NewValidationError("contactId", raw, "contact id cannot be empty")
	}
	if strings.ContainsAny(id, "\x00\n\r\t/") {
		return "", apperrors.NewValidationError("contactId", raw, "contact id contains invalid characters")
	}

	if models.IsPhoneContact(id) {
		digits := len(id) - 1
		if digits < constants.MinPhoneNumberLength || digits > constants.MaxPhoneNumberLength {
			return "", apperrors.NewValidationError("contactId", raw,
				fmt.Sprintf("phone number must be between %d and %d digits, got %d",
					constants.MinPhoneNumberLength, constants.MaxPhoneNumberLength, digits))
		}
	}

	if len(id) > constants.MaxMessageIDLength {
		return "", apperrors.NewValidationError("contactId", "",
			fmt.Sprintf("contact id too long (max %d characters)", constants.MaxMessageIDLength))
	}
	return id, nil
}

// ValidateMessageID validates message ID format and length
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return apperrors.NewValidationError("id", "", "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return apperrors.NewValidationError("id", "",
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	// Control characters break log lines and snapshot keys
	if strings.ContainsAny(messageID, "\x00\n\r\t") {
		return apperrors.NewValidationError("id", "", "message ID contains invalid characters")
	}

	return nil
}

// ValidateUserID checks an application user id. The ":" separator is
// reserved for credential keys.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.NewValidationError("userId", userID, "user id cannot be empty")
	}
	if strings.ContainsAny(userID, ":\x00\n\r\t/") {
		return apperrors.NewValidationError("userId", userID, "user id contains invalid characters")
	}
	if len(userID) > constants.MaxMessageIDLength {
		return apperrors.NewValidationError("userId", "",
			fmt.Sprintf("user id too long (max %d characters)", constants.MaxMessageIDLength))
	}
	return nil
}

// ValidateRedirectURI requires an absolute http(s) URI as registered with
// the OAuth provider
func ValidateRedirectURI(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return apperrors.NewValidationError("redirectUri", "", "redirect uri is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return apperrors.NewValidationError("redirectUri", raw, "redirect uri must be an absolute URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return apperrors.NewValidationError("redirectUri", raw, "redirect uri must use http or https")
	}
	if u.Fragment != "" {
		return apperrors.NewValidationError("redirectUri", raw, "redirect uri must not contain a fragment")
	}
	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return apperrors.NewValidationError(fieldName, "",
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}

	if len(value) > maxLength {
		return apperrors.NewValidationError(fieldName, "",
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return apperrors.NewValidationError(fieldName, fmt.Sprint(value),
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return apperrors.NewValidationError(fieldName, fmt.Sprint(value),
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	return ValidateNumericRange(timeoutSec, fieldName, 1, constants.MaxTimeoutSec)
}
