package domain

import "time"

type NotificationType string

const (
	NotifyInquiryReceived  NotificationType = "inquiry_received"
	NotifyBookingAccepted  NotificationType = "booking_accepted"
	NotifyBookingDeclined  NotificationType = "booking_declined"
	NotifyPaymentFailed    NotificationType = "payment_failed"
	NotifyBookingConfirmed NotificationType = "booking_confirmed"
	NotifyBookingExpired   NotificationType = "booking_expired"
	NotifyBookingCancelled NotificationType = "booking_cancelled"
	NotifyLatePayment      NotificationType = "late_payment"
)

// Notification is emitted after a transition commits. Delivery is best
// effort and never feeds back into the booking.
type Notification struct {
	ID            string                 `json:"id" bson:"_id"`
	Type          NotificationType       `json:"type" bson:"type"`
	BookingID     string                 `json:"booking_id" bson:"booking_id"`
	RecipientID   string                 `json:"recipient_id" bson:"recipient_id"`
	RecipientRole Role                   `json:"recipient_role" bson:"recipient_role"`
	Payload       map[string]interface{} `json:"payload,omitempty" bson:"payload,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at" bson:"occurred_at"`
}
