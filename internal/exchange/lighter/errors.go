package lighter

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

// Message fragments the venue uses for nonce problems. A submission failing
// with one of these leaves the cached nonces of the key unusable.
var nonceMessageFragments = []string{
	"invalid nonce",
	"nonce too low",
	"nonce too high",
	"nonce mismatch",
}

func classifyAPIError(err error, msg string) error {
	kinds := classifyMessageKinds(msg)
	if len(kinds) == 0 {
		return err
	}
	chain := make([]error, 0, 1+len(kinds))
	chain = append(chain, err)
	chain = append(chain, kinds...)
	return errors.Join(chain...)
}

func classifyMessageKinds(msg string) []error {
	normalized := strings.ToLower(strings.TrimSpace(msg))
	kinds := make([]error, 0, 1)
	for _, frag := range nonceMessageFragments {
		if strings.Contains(normalized, frag) {
			kinds = append(kinds, core.ErrNonce)
			break
		}
	}
	return kinds
}

func parseAPIError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	code := 0
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		msg = parsed.Message
		code = parsed.Code
	}
	return classifyAPIError(&core.APIError{Status: status, Code: code, Msg: msg}, msg)
}

// checkCode turns a 2xx answer with an error code in its body into a
// rejection.
func checkCode(code int, msg string) error {
	if code == codeOK || code == codeOKLegacy {
		return nil
	}
	return classifyAPIError(&core.RejectedError{Code: code, Msg: msg}, msg)
}
