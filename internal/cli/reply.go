package cli

import (
	"fmt"

	"github.com/xtxerr/perfkit/internal/errors"
)

// Reply is the outcome of one command, as returned over HTTP.
type Reply struct {
	Code    int32  `json:"code"`
	Status  string `json:"status"`
	Output  string `json:"output,omitempty"`
	Message string `json:"error,omitempty"`
}

// NewReply builds a reply from a command's output and error. The code is
// derived from the error with errors.ErrorToCode.
func NewReply(output string, err error) Reply {
	code := errors.ErrorToCode(err)
	r := Reply{
		Code:   code,
		Status: errors.CodeName(code),
		Output: output,
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// OK reports whether the command succeeded.
func (r Reply) OK() bool {
	return r.Code == errors.CodeOK
}

func (r Reply) String() string {
	if r.OK() {
		return r.Output
	}
	return fmt.Sprintf("%s%s: %s\n", r.Output, r.Status, r.Message)
}
