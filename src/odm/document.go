package odm

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"syndrodm/src/driver"
)

// Identifiable is implemented by every registered document type, usually
// by embedding Base.
type Identifiable interface {
	GetID() *primitive.ObjectID
	SetID(id primitive.ObjectID)
}

// Base carries the document id. Embed it inline:
//
//	odm.Base `bson:",inline"`
type Base struct {
	ID *primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
}

func (b *Base) GetID() *primitive.ObjectID {
	return b.ID
}

func (b *Base) SetID(id primitive.ObjectID) {
	b.ID = &id
}

// CallOption adjusts a single lifecycle call.
type CallOption func(*callConfig)

type callConfig struct {
	session driver.Session
}

// InSession runs the call inside s. A nil s keeps the schema's session.
func InSession(s driver.Session) CallOption {
	return func(c *callConfig) {
		if s != nil {
			c.session = s
		}
	}
}

func identify(doc any) Identifiable {
	return doc.(Identifiable)
}
