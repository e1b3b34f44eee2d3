// Package codec encodes outbox payload snapshots at rest. Wire payloads
// are always plain JSON; the codec only applies between the store and the
// database column.
package codec

type Codec interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}
