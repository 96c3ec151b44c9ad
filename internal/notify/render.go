package notify

import (
	"fmt"
	"strings"

	"github.com/robertarktes/venue-reservations/internal/domain"
)

// Render turns a notification into a subject line and a plain-text body.
func Render(n domain.Notification) (subject, body string) {
	ref := shortRef(n.BookingID)
	dates := payloadDates(n.Payload)
	total := payloadAmount(n.Payload)

	switch n.Type {
	case domain.NotifyInquiryReceived:
		subject = "New booking inquiry " + ref
		body = fmt.Sprintf("A customer asked to book your venue for %s (total %s). Accept or decline it from your dashboard.", dates, total)
	case domain.NotifyBookingAccepted:
		subject = "Your booking " + ref + " was accepted"
		body = fmt.Sprintf("The owner accepted your request for %s. Pay %s before %s to confirm it.", dates, total, payloadString(n.Payload, "payment_deadline"))
	case domain.NotifyBookingDeclined:
		subject = "Your booking " + ref + " was declined"
		body = fmt.Sprintf("The owner declined your request for %s. The dates have been released.", dates)
	case domain.NotifyPaymentFailed:
		subject = "Payment failed for booking " + ref
		body = fmt.Sprintf("Your payment of %s did not go through (%s). You can retry until %s.", total, payloadString(n.Payload, "reason"), payloadString(n.Payload, "payment_deadline"))
	case domain.NotifyBookingConfirmed:
		subject = "Booking " + ref + " confirmed"
		body = fmt.Sprintf("Payment of %s received. The booking for %s is confirmed.", total, dates)
	case domain.NotifyBookingExpired:
		subject = "Booking " + ref + " expired"
		body = fmt.Sprintf("The booking for %s expired: %s.", dates, payloadString(n.Payload, "reason"))
	case domain.NotifyBookingCancelled:
		subject = "Booking " + ref + " cancelled"
		body = fmt.Sprintf("The booking for %s was cancelled by the %s.", dates, payloadString(n.Payload, "cancelled_by"))
	case domain.NotifyLatePayment:
		subject = "Late payment on booking " + ref
		body = fmt.Sprintf("Payment %s (order %s) arrived while the booking was %s. A refund is needed.",
			payloadString(n.Payload, "payment_id"), payloadString(n.Payload, "order_id"), payloadString(n.Payload, "status"))
	default:
		subject = "Booking " + ref + " update"
		body = fmt.Sprintf("Booking %s changed: %s.", n.BookingID, n.Type)
	}
	return subject, body
}

func shortRef(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func payloadString(p map[string]interface{}, key string) string {
	if v, ok := p[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return "-"
}

// payloadDates accepts both the in-process []string and the decoded []interface{}.
func payloadDates(p map[string]interface{}) string {
	switch v := p["dates"].(type) {
	case []string:
		return strings.Join(v, ", ")
	case []interface{}:
		parts := make([]string, len(v))
		for i, d := range v {
			parts[i] = fmt.Sprint(d)
		}
		return strings.Join(parts, ", ")
	}
	return "the requested dates"
}

func payloadAmount(p map[string]interface{}) string {
	currency := payloadString(p, "currency")
	var minor int64
	switch v := p["grand_total"].(type) {
	case int64:
		minor = v
	case int:
		minor = int64(v)
	case float64:
		minor = int64(v)
	default:
		return "-"
	}
	return fmt.Sprintf("%s %d.%02d", currency, minor/100, minor%100)
}
