package email

import "fmt"

// Message is a rendered subject and plain-text body.
type Message struct {
	Subject string
	Body    string
}

// Branding is the product name and support contact used in customer mail.
type Branding struct {
	Product      string
	SupportEmail string
	SiteURL      string
}

// DownloadMessage is sent after a purchase with the one-time download link.
func DownloadMessage(b Branding, downloadURL string) Message {
	return Message{
		Subject: fmt.Sprintf("[%s] Your download link", b.Product),
		Body: fmt.Sprintf(`Thank you for your purchase.

Download %s from the link below. For your security the link works once
and expires after 30 days.

%s

Please save the file after downloading. If you need another link, contact
%s.

%s`, b.Product, downloadURL, b.SupportEmail, b.Product),
	}
}

// ResendMessage is sent when an operator issues a fresh download link.
func ResendMessage(b Branding, downloadURL string) Message {
	return Message{
		Subject: fmt.Sprintf("[%s] Your new download link", b.Product),
		Body: fmt.Sprintf(`Thanks for getting in touch.

You can download %s again from the link below. It works once and expires
after 30 days.

%s

%s`, b.Product, downloadURL, b.Product),
	}
}

// TrialEndingMessage warns a trial user that the demo ends on endDate
// (formatted YYYY-MM-DD).
func TrialEndingMessage(b Branding, to, endDate string) Message {
	return Message{
		Subject: fmt.Sprintf("[%s] Your trial ends on %s", b.Product, endDate),
		Body: fmt.Sprintf(`Thank you for trying %s.

Your 14-day trial is scheduled to end on %s.

After the trial ends you will not be charged automatically. If you would
like to continue with the full version, simply reply to this email and we
will send you the details.

This message was sent to %s.

%s support
%s
%s`, b.Product, endDate, to, b.Product, b.SupportEmail, b.SiteURL),
	}
}
