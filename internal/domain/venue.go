package domain

// Venue is the slice of the catalog the engine needs.
type Venue struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	PricePerDay Money  `json:"price_per_day"`
	Currency    string `json:"currency"`
}
