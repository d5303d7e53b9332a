package errors

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs
const (
	TypeUnsupportedChain = "https://api.vaultrisk.io/problems/unsupported-chain"
	TypeValidationError  = "https://api.vaultrisk.io/problems/validation-error"
	TypeNotFound         = "https://api.vaultrisk.io/problems/not-found"
	TypeInternalError    = "https://api.vaultrisk.io/problems/internal-error"
	TypeRateLimited      = "https://api.vaultrisk.io/problems/rate-limited"
)

type problemKind struct {
	status int
	typ    string
	title  string
}

var problemKinds = map[Kind]problemKind{
	KindUnsupportedChain: {http.StatusBadRequest, TypeUnsupportedChain, "Unsupported Chain"},
	KindValidation:       {http.StatusBadRequest, TypeValidationError, "Validation Error"},
	KindNotFound:         {http.StatusNotFound, TypeNotFound, "Not Found"},
	KindInternal:         {http.StatusInternalServerError, TypeInternalError, "Internal Server Error"},
}

func lookup(kind Kind) problemKind {
	if pk, ok := problemKinds[kind]; ok {
		return pk
	}
	return problemKinds[KindInternal]
}

// HTTPStatus maps an error to the status code returned at the API boundary.
// Unkinded errors are 500.
func HTTPStatus(err error) int {
	return lookup(KindOf(err)).status
}

// ProblemDetails represents an RFC 7807 Problem Details response. Extra
// members are serialized at the top level.
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Errors   []FieldError           `json:"errors,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithExtra sets an extension member.
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON flattens Extra next to the standard members. Standard members win
// on key collisions.
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	type plain ProblemDetails
	base, err := json.Marshal((*plain)(p))
	if err != nil || len(p.Extra) == 0 {
		return base, err
	}
	merged := make(map[string]json.RawMessage, len(p.Extra)+6)
	for k, v := range p.Extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	var std map[string]json.RawMessage
	if err := json.Unmarshal(base, &std); err != nil {
		return nil, err
	}
	for k, v := range std {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// NewProblem converts any error into problem details for the given request
// path. Messages of unkinded errors are not exposed.
func NewProblem(err error, instance string) *ProblemDetails {
	pk := lookup(KindOf(err))
	p := &ProblemDetails{
		Type:     pk.typ,
		Title:    pk.title,
		Status:   pk.status,
		Detail:   err.Error(),
		Instance: instance,
	}

	var e *Error
	if As(err, &e) {
		p.Errors = e.Fields
	} else {
		p.Detail = "internal server error"
	}
	return p
}
