package modules

const (
	codeInvalidParams = -32602
	codeServerError   = -32000
	codeUnauthorized  = -32001
	codeNotFound      = -32004
	codePaused        = -32030
)

// ModuleError carries a module failure together with the HTTP status the RPC
// layer should write for it.
type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
