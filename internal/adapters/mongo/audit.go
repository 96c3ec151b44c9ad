package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/venue-reservations/internal/domain"
)

// AuditLogger records every booking notification as an audit trail entry.
// It is a notify.Sink.
type AuditLogger struct {
	coll *mongo.Collection
}

func NewAuditLogger(db *mongo.Database) *AuditLogger {
	return &AuditLogger{coll: db.Collection("audit_logs")}
}

type AuditLog struct {
	ID             string    `bson:"_id"`
	Action         string    `bson:"action"`
	BookingID      string    `bson:"booking_id"`
	NotificationID string    `bson:"notification_id"`
	RecipientID    string    `bson:"recipient_id"`
	RecipientRole  string    `bson:"recipient_role"`
	OccurredAt     time.Time `bson:"occurred_at"`
	Timestamp      time.Time `bson:"timestamp"`
	Data           bson.M    `bson:"data,omitempty"`
}

func (a *AuditLogger) Name() string { return "audit" }

func (a *AuditLogger) Send(ctx context.Context, n domain.Notification) error {
	entry := AuditLog{
		ID:             uuid.NewString(),
		Action:         "booking." + string(n.Type),
		BookingID:      n.BookingID,
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		RecipientRole:  string(n.RecipientRole),
		OccurredAt:     n.OccurredAt,
		Timestamp:      time.Now().UTC(),
		Data:           bson.M(n.Payload),
	}
	if _, err := a.coll.InsertOne(ctx, entry); err != nil {
		return errors.Wrapf(err, "insert audit log for %s", n.ID)
	}
	return nil
}

// History returns the audit trail of one booking, oldest first.
func (a *AuditLogger) History(ctx context.Context, bookingID string) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"booking_id": bookingID}, options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}}))
	if err != nil {
		return nil, errors.Wrapf(err, "find audit logs for %s", bookingID)
	}
	var out []AuditLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return out, nil
}
