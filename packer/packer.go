// Package packer encodes the wire form of durable messages.
package packer

import "github.com/vmihailenco/msgpack/v5"

// Envelope is what a durable message carries: the job type routes the
// payload to its pool once the message is consumed.
type Envelope struct {
	JobType string `msgpack:"job_type"`
	Payload []byte `msgpack:"payload"`
}

func EncodeMessage(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func DecodeMessage(raw []byte, v any) error {
	return msgpack.Unmarshal(raw, v)
}
