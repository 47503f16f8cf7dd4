// Package mail queues outgoing email in a transactional outbox and delivers
// it in the background over SMTP.
package mail

import (
	"fmt"
	"strings"
)

// Kind labels a message for logs and metrics.
type Kind string

const (
	KindSuspended       Kind = "subscription_suspended"
	KindReactivated     Kind = "subscription_reactivated"
	KindFineCleared     Kind = "fine_cleared"
	KindReissueGranted  Kind = "reissue_granted"
	KindOverdue         Kind = "overdue_reminder"
	KindPaymentNeeded   Kind = "payment_needed"
	KindPaymentApproved Kind = "payment_approved"
	KindBorrowedSummary Kind = "borrowed_summary"
	KindReturnedSummary Kind = "returned_summary"
)

// Message is one email to one recipient.
type Message struct {
	Kind    Kind
	Subject string
	Body    string
	From    string
	To      string
	ReplyTo string
}

const signature = "Thank you very much.\n\nBest regards,\n\nBoipoka Admin\n"

func letter(username string, paragraphs ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", username)
	for _, p := range paragraphs {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString(signature)
	return b.String()
}

// UnpaidFineSuspension is sent when an unpaid fine outlives the grace period.
func UnpaidFineSuspension(to, username, tier string) Message {
	return Message{
		Kind:    KindSuspended,
		To:      to,
		Subject: "Subscription Suspended: Your Subscription Has been Suspended",
		Body: letter(username,
			fmt.Sprintf("Your subscription plan %s has been temporarily suspended due to unpaid fines.", tier),
			"To reactivate your subscription, please pay the unpaid fines as soon as possible.",
		),
	}
}

// IncidentSuspension is sent when the damaged/lost report count reaches the threshold.
func IncidentSuspension(to, username string) Message {
	return Message{
		Kind:    KindSuspended,
		To:      to,
		Subject: "Subscription Suspended: Your Subscription Has been Suspended",
		Body: letter(username,
			"Your subscription has been suspended due to multiple lost/damaged reports.",
			"Please contact the Boipoka admin as soon as possible.",
		),
	}
}

// Reactivated is sent when an administrator reactivates a subscription.
func Reactivated(to, username, tier string) Message {
	return Message{
		Kind:    KindReactivated,
		To:      to,
		Subject: fmt.Sprintf("Subscription Reactivation : %s's Subscription Has been Activated", username),
		Body: letter(username,
			fmt.Sprintf("Your subscription of %s plan has been successfully reactivated by Admin.", tier),
		),
	}
}

// FineCleared is sent when a suspension lifts because no unpaid fine is
// outstanding any more.
func FineCleared(to, username, tier string) Message {
	return Message{
		Kind:    KindFineCleared,
		To:      to,
		Subject: "Subscription Reactivated: Your Subscription Is Active Again",
		Body: letter(username,
			fmt.Sprintf("Your subscription plan %s is active again.", tier),
			"You have full access to the Boipoka Book Borrowing System.",
		),
	}
}

// ReissueGranted is sent when an administrator grants a reissue request.
func ReissueGranted(to, username, title, borrowedOn, due string) Message {
	return Message{
		Kind:    KindReissueGranted,
		To:      to,
		Subject: fmt.Sprintf("Reissue Request Grant Acceptance : %q Reissued on %s", title, borrowedOn),
		Body: letter(username,
			fmt.Sprintf("Your reissue request for the book %q has been granted.", title),
			fmt.Sprintf("Your new due date is %s.", due),
		),
	}
}

// Overdue reminds a user of an overdue loan and its running penalty.
func Overdue(to, username, title, due string, penalty int) Message {
	return Message{
		Kind:    KindOverdue,
		To:      to,
		Subject: "Reminder: Overdue Book - " + title,
		Body: letter(username,
			fmt.Sprintf("The book %q was due on %s and has not been returned yet.", title, due),
			fmt.Sprintf("Your current penalty is %d BDT. Please return the book as soon as possible.", penalty),
		),
	}
}

// PaymentNeeded asks for the fine of a reported damaged/lost book.
func PaymentNeeded(to, username, title string) Message {
	return Message{
		Kind:    KindPaymentNeeded,
		To:      to,
		Subject: "Reminder - Payment Needed for Prohibiting the Subscription Being Suspended for Damaged/Lost Event of the Book: " + title,
		Body: letter(username,
			fmt.Sprintf("You reported the book %q as damaged/lost. A fine of 500 BDT is due.", title),
			"Please pay the fine within one day of the report to keep your subscription active.",
		),
	}
}

// PaymentApproved confirms an approved fine payment.
func PaymentApproved(to, username, title string) Message {
	return Message{
		Kind:    KindPaymentApproved,
		To:      to,
		Subject: "Payment Successfully Approved - Payment Approved for the Damaged/Lost Event of the Book: " + title,
		Body: letter(username,
			fmt.Sprintf("Your payment for the damage/loss of the book %q has been approved.", title),
		),
	}
}

// Borrowed confirms a loan with its due date.
func Borrowed(to, username, title, borrowedOn, due string) Message {
	return Message{
		Kind:    KindBorrowedSummary,
		To:      to,
		Subject: "Borrowed Book Info Registered: " + title,
		Body: letter(username,
			fmt.Sprintf("You borrowed the book %q on %s.", title, borrowedOn),
			fmt.Sprintf("Please return it by %s.", due),
		),
	}
}

// Returned confirms a returned loan.
func Returned(to, username, title, returnedAt string) Message {
	return Message{
		Kind:    KindReturnedSummary,
		To:      to,
		Subject: "Returned Successfully: " + title,
		Body: letter(username,
			fmt.Sprintf("We received the book %q on %s.", title, returnedAt),
		),
	}
}
