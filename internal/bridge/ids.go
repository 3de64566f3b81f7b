package bridge

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const responseIDPrefix = "resp_bridge_"

var responseIDPattern = regexp.MustCompile(`^resp_bridge_[0-9a-f-]{36}$`)

// NewResponseID generates a fresh response identifier of the form
// resp_bridge_<time-ordered-uuid>. Using a v7 UUID makes identifiers sort
// monotonically and guarantees uniqueness across concurrent requests
// without any shared counter.
func NewResponseID() string {
	return responseIDPrefix + uuid.Must(uuid.NewV7()).String()
}

// ValidateResponseID reports whether id has the resp_bridge_<uuid> shape.
func ValidateResponseID(id string) bool {
	return responseIDPattern.MatchString(id)
}

// NewCallID synthesizes a call_id for a function_call input item that
// arrived without one.
func NewCallID() string {
	return "call_" + uuid.Must(uuid.NewV7()).String()
}

// NewIndexedCallID synthesizes a call_id for a terminal tool-call item
// whose accumulator entry never received one from upstream, matching the
// "call_<uuid>_<index>" shape used when the original stream gave no id.
func NewIndexedCallID(index int) string {
	return fmt.Sprintf("call_%s_%d", uuid.Must(uuid.NewV7()).String(), index)
}
