package mail

import "fmt"

// PasswordReset builds the reset email carrying a single-use link.
func PasswordReset(to, baseURL, token string) Message {
	link := fmt.Sprintf("%s/reset-password?token=%s", baseURL, token)
	return Message{
		To:      to,
		Subject: "Reset your password",
		Text: "A password reset was requested for your Nexus account.\n\n" +
			"Open this link to choose a new password:\n" + link + "\n\n" +
			"If you did not ask for this, ignore this email.",
	}
}

// AccountApproved tells a requester their account exists.
func AccountApproved(to, baseURL string) Message {
	return Message{
		To:      to,
		Subject: "Your account is ready",
		Text: "Your request for a Nexus account was approved.\n\n" +
			"Sign in at " + baseURL + "/login with the credentials your administrator gave you.",
	}
}
