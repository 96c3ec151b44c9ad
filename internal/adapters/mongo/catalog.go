package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/notify"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

// CatalogRepository reads venues owned by the catalog service. The booking
// engine only ever needs owner, price and currency.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("venues"),
		logger: logger.WithField("component", "catalog"),
	}
}

type VenueDoc struct {
	ID          string    `bson:"_id"`
	OwnerID     string    `bson:"owner_id"`
	Name        string    `bson:"name"`
	PricePerDay int64     `bson:"price_per_day"`
	Currency    string    `bson:"currency"`
	Active      bool      `bson:"active"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) GetVenue(ctx context.Context, id string) (*domain.Venue, error) {
	var doc VenueDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id, "active": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrNotFound, "venue %s", id)
	}
	if err != nil {
		c.logger.WithField("venue_id", id).WithError(err).Error("failed to get venue")
		return nil, errors.Wrapf(err, "get venue %s", id)
	}
	return &domain.Venue{
		ID:          doc.ID,
		OwnerID:     doc.OwnerID,
		Name:        doc.Name,
		PricePerDay: domain.Money(doc.PricePerDay),
		Currency:    doc.Currency,
	}, nil
}

// UpsertVenue is used by seeding and tests; the catalog service owns writes.
func (c *CatalogRepository) UpsertVenue(ctx context.Context, v domain.Venue) error {
	doc := VenueDoc{
		ID:          v.ID,
		OwnerID:     v.OwnerID,
		Name:        v.Name,
		PricePerDay: int64(v.PricePerDay),
		Currency:    v.Currency,
		Active:      true,
		UpdatedAt:   time.Now().UTC(),
	}
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": v.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "upsert venue %s", v.ID)
	}
	return nil
}

// ContactDirectory resolves user ids to delivery addresses.
type ContactDirectory struct {
	coll *mongo.Collection
}

func NewContactDirectory(db *mongo.Database) *ContactDirectory {
	return &ContactDirectory{coll: db.Collection("contacts")}
}

func (d *ContactDirectory) Contact(ctx context.Context, userID string) (*notify.Contact, error) {
	var c notify.Contact
	err := d.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrNotFound, "contact %s", userID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get contact %s", userID)
	}
	return &c, nil
}

func (d *ContactDirectory) PutContact(ctx context.Context, c notify.Contact) error {
	_, err := d.coll.ReplaceOne(ctx, bson.M{"_id": c.UserID}, c, options.Replace().SetUpsert(true))
	return errors.Wrapf(err, "put contact %s", c.UserID)
}
