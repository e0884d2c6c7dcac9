package localservice

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getfinn/finn/internal/wire"
)

func TestRouter_ExactMatchPreferredOverParameterized(t *testing.T) {
	r := NewRouter()
	r.Handle("GET", "/api/terminals/processes", func(req wire.RequestPayload, params map[string]string, onPartial func(payload any)) (int, any) {
		return 200, "exact"
	})
	r.Handle("GET", "/api/terminals/:id", func(req wire.RequestPayload, params map[string]string, onPartial func(payload any)) (int, any) {
		return 200, "param:" + params["id"]
	})

	status, body := r.Dispatch(wire.RequestPayload{Method: "GET", Path: "/api/terminals/processes"}, nil)
	require.Equal(t, 200, status)
	require.Equal(t, "exact", body)

	status, body = r.Dispatch(wire.RequestPayload{Method: "GET", Path: "/api/terminals/abc-1"}, nil)
	require.Equal(t, 200, status)
	require.Equal(t, "param:abc-1", body)
}

func TestRouter_404ForUnknownRoute(t *testing.T) {
	r := NewRouter()
	status, _ := r.Dispatch(wire.RequestPayload{Method: "GET", Path: "/nope"}, nil)
	require.Equal(t, 404, status)
}

func TestRouter_QueryStringMatchesExactRouteAndPopulatesParams(t *testing.T) {
	r := NewRouter()
	r.Handle("GET", "/api/files/browse", func(req wire.RequestPayload, params map[string]string, onPartial func(payload any)) (int, any) {
		return 200, params["path"] + "|" + params["showHidden"]
	})

	status, body := r.Dispatch(wire.RequestPayload{Method: "GET", Path: "/api/files/browse?path=%2Fhome%2Fme&showHidden=true"}, nil)
	require.Equal(t, 200, status)
	require.Equal(t, "/home/me|true", body)
}

func TestRouter_QueryStringMatchesParameterizedRouteAndBothParamSetsMerge(t *testing.T) {
	r := NewRouter()
	r.Handle("GET", "/api/git-graphs/:id/data", func(req wire.RequestPayload, params map[string]string, onPartial func(payload any)) (int, any) {
		return 200, params["id"] + "|" + params["maxCommits"]
	})

	status, body := r.Dispatch(wire.RequestPayload{Method: "GET", Path: "/api/git-graphs/g1/data?maxCommits=50"}, nil)
	require.Equal(t, 200, status)
	require.Equal(t, "g1|50", body)
}

func TestRouter_NoQueryStringStillWorks(t *testing.T) {
	r := NewRouter()
	r.Handle("GET", "/api/git-status", func(req wire.RequestPayload, params map[string]string, onPartial func(payload any)) (int, any) {
		return 200, params["path"]
	})

	status, body := r.Dispatch(wire.RequestPayload{Method: "GET", Path: "/api/git-status"}, nil)
	require.Equal(t, 200, status)
	require.Equal(t, "", body)
}
