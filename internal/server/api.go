package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/conneroisu/modserve/internal/errors"
)

// maxBodyBytes bounds decoded route request bodies.
const maxBodyBytes = 1 << 20

// RouteHandler answers a JSON route. query holds the URL query values and
// body the decoded request body (empty when there is none).
//
// The returned value is encoded as JSON, except a *Response which is sent
// as is and nil which becomes 204. Errors are rendered through
// errors.AsAppError.
type RouteHandler func(method string, query url.Values, body map[string]interface{}) (interface{}, error)

// RouteStage dispatches exact path matches to route handlers.
type RouteStage struct {
	routes map[string]RouteHandler
}

// NewRouteStage creates a stage answering the given paths.
func NewRouteStage(routes map[string]RouteHandler) *RouteStage {
	copied := make(map[string]RouteHandler, len(routes))
	for path, h := range routes {
		copied[path] = h
	}

	return &RouteStage{routes: copied}
}

// Serve implements Stage.
func (s *RouteStage) Serve(u *url.URL, r *http.Request) Result {
	handler, ok := s.routes[u.Path]
	if !ok {
		return Decline()
	}

	body, err := decodeBody(r)
	if err != nil {
		return Respond(errorJSON(errors.New("malformed request body", errors.CodeBadRequest,
			http.StatusBadRequest, err.Error()).WithCause(err)))
	}

	value, err := handler(r.Method, u.Query(), body)
	if err != nil {
		return Respond(errorJSON(errors.AsAppError(err)))
	}

	switch v := value.(type) {
	case nil:
		return Respond(NewResponse(http.StatusNoContent))
	case *Response:
		return Respond(v)
	}

	resp, err := JSONResponse(http.StatusOK, value)
	if err != nil {
		return Respond(errorJSON(errors.Internal(err)))
	}

	return Respond(resp)
}

// decodeBody reads a JSON object or a urlencoded form. Form values with a
// single entry become strings, repeated keys become string slices.
func decodeBody(r *http.Request) (map[string]interface{}, error) {
	body := make(map[string]interface{})
	if r.Body == nil || r.Body == http.NoBody {
		return body, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(data) == 0 {
		return body, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, fmt.Errorf("parsing form: %w", err)
		}
		for k, vs := range values {
			if len(vs) == 1 {
				body[k] = vs[0]
				continue
			}
			items := make([]interface{}, len(vs))
			for i, v := range vs {
				items[i] = v
			}
			body[k] = items
		}

		return body, nil
	}

	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	return body, nil
}
