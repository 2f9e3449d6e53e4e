package privacy

import (
	"net/url"
	"strconv"
	"strings"
)

// Query parameters whose values are secrets
var secretParams = map[string]bool{
	"access_token":      true,
	"refresh_token":     true,
	"fb_exchange_token": true,
	"input_token":       true,
	"client_secret":     true,
	"code":              true,
	"hub.verify_token":  true,
	"appsecret_proof":   true,
}

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskMessageID masks a message ID while keeping its kind recognizable
// Example: "wamid.ABC123XYZ" -> "wamid.*****3XYZ"
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}

	for _, prefix := range []string{"wamid.", "local_"} {
		if strings.HasPrefix(messageID, prefix) {
			return prefix + maskString(strings.TrimPrefix(messageID, prefix), 4)
		}
	}
	return maskString(messageID, 8)
}

// MaskUserID masks an application user or platform account identifier
// Example: "user123456" -> "******3456"
func MaskUserID(userID string) string {
	return maskString(userID, 4)
}

// MaskContactID masks a ledger contact key. Phone contacts keep their last
// four digits, platform account ids are masked generically.
func MaskContactID(contactID string) string {
	if contactID == "" {
		return ""
	}
	if strings.HasPrefix(contactID, "+") || (len(contactID) >= 10 && isNumeric(contactID)) {
		return MaskPhoneNumber(contactID)
	}
	return maskString(contactID, 4)
}

// MaskCredentialKey masks the user and account parts of a credential key
func MaskCredentialKey(userID, platform, accountID string) string {
	return MaskUserID(userID) + ":" + platform + ":" + MaskUserID(accountID)
}

// MaskToken hides an access or refresh token entirely, keeping only its length
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	return "***(" + strconv.Itoa(len(token)) + ")"
}

// MaskURL returns rawURL with secret query parameter values masked
func MaskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return rawURL
	}
	q := u.Query()
	changed := false
	for name, values := range q {
		if !secretParams[strings.ToLower(name)] {
			continue
		}
		for i := range values {
			values[i] = "***"
		}
		changed = true
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "phone_number", "from", "to", "wa_id", "recipient_id", "recipientId":
			masked[k] = MaskPhoneNumber(s)
		case "message_id", "messageId", "msg_id":
			masked[k] = MaskMessageID(s)
		case "contact_id", "contactId":
			masked[k] = MaskContactID(s)
		case "user_id", "userId", "account_id", "platformAccountId":
			masked[k] = MaskUserID(s)
		case "access_token", "accessToken", "refresh_token", "refreshToken", "token", "app_secret":
			masked[k] = MaskToken(s)
		case "url":
			masked[k] = MaskURL(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
