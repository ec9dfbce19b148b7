package calendartokens

import "time"

// TokenRecord is the stored calendar credential for one (user, provider)
// pair. A later connect overwrites the record, never appends.
type TokenRecord struct {
	UserID        string    `bson:"userId" json:"userId"`
	Provider      string    `bson:"provider" json:"provider"`
	AccessToken   string    `bson:"accessToken" json:"-"`
	RefreshToken  string    `bson:"refreshToken,omitempty" json:"-"`
	ExpiresAt     time.Time `bson:"expiresAt" json:"expiresAt"`
	CalendarID    string    `bson:"calendarId,omitempty" json:"calendarId,omitempty"`
	CalendarEmail string    `bson:"calendarEmail,omitempty" json:"calendarEmail,omitempty"`
	Scope         string    `bson:"scope,omitempty" json:"scope,omitempty"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt" json:"updatedAt"`
}
