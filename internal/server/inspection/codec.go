package inspection

import (
	"reflect"

	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/fxamacker/cbor/v2"
)

// Jobs and results cross the queue as CBOR using Core Deterministic
// Encoding, so equal messages always have equal bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("inspection: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("inspection: CBOR decoder initialization failed: " + err.Error())
	}
}

// jobRequest is what the client enqueues.
type jobRequest struct {
	ID              string         `cbor:"id"`
	Element         models.Element `cbor:"element"`
	ComputeChecksum bool           `cbor:"compute_checksum"`
}

// jobResult is what the worker replies with. Exactly one of Element and
// Error is set.
type jobResult struct {
	ID      string          `cbor:"id"`
	Element *models.Element `cbor:"element,omitempty"`
	Error   string          `cbor:"error,omitempty"`
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
