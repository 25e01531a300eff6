package data

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// GTFS-realtime field numbers used by the vehicle position decoder.
const (
	feedEntity = 2

	entityID      = 1
	entityVehicle = 4

	vehicleTrip         = 1
	vehiclePosition     = 2
	vehicleStopSequence = 3
	vehicleStatus       = 4
	vehicleTimestamp    = 5
	vehicleStopID       = 7
	vehicleDescriptor   = 8

	positionLat      = 1
	positionLng      = 2
	positionBearing  = 3
	positionOdometer = 4
	positionSpeed    = 5

	tripID    = 1
	tripRoute = 5

	descriptorID    = 1
	descriptorLabel = 2
)

var vehicleStatuses = map[uint64]string{
	0: "INCOMING_AT",
	1: "STOPPED_AT",
	2: "IN_TRANSIT_TO",
}

// FetchGTFS decodes a GTFS-realtime FeedMessage and returns one point per
// vehicle position. Trip updates and alerts carry no geometry and are
// skipped.
func FetchGTFS(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	b, err := readSource(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	features, err := DecodeGTFS(b, opts)
	if err != nil {
		return nil, err
	}
	return filterRange(features, r), nil
}

// DecodeGTFS decodes a FeedMessage.
func DecodeGTFS(b []byte, opts Options) ([]layer.Feature, error) {
	var out []layer.Feature
	err := eachField(b, func(f field) error {
		if f.num != feedEntity || f.typ != protowire.BytesType {
			return nil
		}
		feat, ok, err := decodeEntity(f.b, opts)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, feat)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gtfs: %w", err)
	}
	return out, nil
}

func decodeEntity(b []byte, opts Options) (layer.Feature, bool, error) {
	var (
		id      string
		props   = map[string]any{}
		lng     float64
		lat     float64
		located bool
	)
	err := eachField(b, func(f field) error {
		switch f.num {
		case entityID:
			id = string(f.b)
		case entityVehicle:
			return eachField(f.b, func(v field) error {
				switch v.num {
				case vehicleTrip:
					return eachField(v.b, func(t field) error {
						switch t.num {
						case tripID:
							props["tripId"] = string(t.b)
						case tripRoute:
							props["routeId"] = string(t.b)
						}
						return nil
					})
				case vehiclePosition:
					located = true
					return eachField(v.b, func(p field) error {
						switch p.num {
						case positionLat:
							lat = p.float32()
						case positionLng:
							lng = p.float32()
						case positionBearing:
							props["bearing"] = p.float32()
						case positionOdometer:
							props["odometer"] = math.Float64frombits(p.u)
						case positionSpeed:
							props["speed"] = p.float32()
						}
						return nil
					})
				case vehicleStopSequence:
					props["currentStopSequence"] = float64(v.u)
				case vehicleStatus:
					props["currentStatus"] = vehicleStatuses[v.u]
				case vehicleTimestamp:
					props["timestamp"] = float64(v.u)
				case vehicleStopID:
					props["stopId"] = string(v.b)
				case vehicleDescriptor:
					return eachField(v.b, func(dsc field) error {
						switch dsc.num {
						case descriptorID:
							props["vehicleId"] = string(dsc.b)
						case descriptorLabel:
							props["vehicleLabel"] = string(dsc.b)
						}
						return nil
					})
				}
				return nil
			})
		}
		return nil
	})
	if err != nil || !located {
		return layer.Feature{}, false, err
	}
	if id == "" {
		if v, ok := props["vehicleId"].(string); ok && v != "" {
			id = v
		} else {
			id = opts.id()
		}
	}
	return layer.Feature{ID: id, Geometry: layer.NewPoint(lng, lat), Properties: props}, true, nil
}

// field is one decoded protobuf field. Scalar payloads land in u, length
// delimited ones in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

func (f field) float32() float64 {
	// Round through the decimal form so 1.1f reads as 1.1, not 1.100000023841858.
	v := math.Float32frombits(uint32(f.u))
	out, _ := strconv.ParseFloat(strconv.FormatFloat(float64(v), 'g', -1, 32), 64)
	return out
}

func eachField(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
