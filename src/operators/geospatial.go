package operators

import "go.mongodb.org/mongo-driver/bson"

// GeoJSON shape names accepted by GeoWithin.
const (
	Polygon      = "Polygon"
	MultiPolygon = "MultiPolygon"
)

// GeometryExpression covers $geoIntersects and $geoWithin with a $geometry
// operand.
type GeometryExpression struct {
	Field       string
	Operator    string
	GeoType     string
	Coordinates any
}

func (g *GeometryExpression) Render() bson.M {
	return bson.M{
		g.Field: bson.M{
			g.Operator: bson.M{
				"$geometry": bson.M{
					"type":        g.GeoType,
					"coordinates": g.Coordinates,
				},
			},
		},
	}
}

func (*GeometryExpression) findExpression() {}

func GeoIntersects[F ~string](field F, geoType string, coordinates any) *GeometryExpression {
	return &GeometryExpression{Field: string(field), Operator: "$geoIntersects", GeoType: geoType, Coordinates: coordinates}
}

func GeoWithin[F ~string](field F, geoType string, coordinates any) *GeometryExpression {
	return &GeometryExpression{Field: string(field), Operator: "$geoWithin", GeoType: geoType, Coordinates: coordinates}
}

// BoxExpression selects points inside a rectangle given by its lower-left
// and upper-right corners.
type BoxExpression struct {
	Field      string
	LowerLeft  []float64
	UpperRight []float64
}

func Box[F ~string](field F, lowerLeft, upperRight []float64) *BoxExpression {
	return &BoxExpression{Field: string(field), LowerLeft: lowerLeft, UpperRight: upperRight}
}

func (b *BoxExpression) Render() bson.M {
	return bson.M{
		b.Field: bson.M{
			"$geoWithin": bson.M{"$box": bson.A{b.LowerLeft, b.UpperRight}},
		},
	}
}

func (*BoxExpression) findExpression() {}

// NearExpression sorts and filters by distance from a point. Zero
// distances are left out of the rendered document.
type NearExpression struct {
	Field     string
	Operator  string
	Longitude float64
	Latitude  float64
	Max       float64
	Min       float64
}

func Near[F ~string](field F, longitude, latitude float64) *NearExpression {
	return &NearExpression{Field: string(field), Operator: "$near", Longitude: longitude, Latitude: latitude}
}

func NearSphere[F ~string](field F, longitude, latitude float64) *NearExpression {
	return &NearExpression{Field: string(field), Operator: "$nearSphere", Longitude: longitude, Latitude: latitude}
}

func (n *NearExpression) MaxDistance(d float64) *NearExpression {
	n.Max = d
	return n
}

func (n *NearExpression) MinDistance(d float64) *NearExpression {
	n.Min = d
	return n
}

func (n *NearExpression) Render() bson.M {
	inner := bson.M{
		"$geometry": bson.M{
			"type":        "Point",
			"coordinates": bson.A{n.Longitude, n.Latitude},
		},
	}
	if n.Max != 0 {
		inner["$maxDistance"] = n.Max
	}
	if n.Min != 0 {
		inner["$minDistance"] = n.Min
	}
	return bson.M{n.Field: bson.M{n.Operator: inner}}
}

func (*NearExpression) findExpression() {}
