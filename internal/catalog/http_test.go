package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHandler(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	NewHandler(svc, nil).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

func TestHandlerGetByID(t *testing.T) {
	srv := testHandler(t, newFakeService())

	var e Entry
	code := getJSON(t, srv.URL+"/cards/bears", &e)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Grizzly Bears", e.Name)

	code = getJSON(t, srv.URL+"/cards/no-such", &e)
	assert.Equal(t, http.StatusNotFound, code, "a miss is 404, never a placeholder")
}

func TestHandlerGetByName(t *testing.T) {
	srv := testHandler(t, newFakeService())

	var e Entry
	code := getJSON(t, srv.URL+"/cards?name=Lightning+Bolt&exact=true", &e)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bolt", e.ID)

	code = getJSON(t, srv.URL+"/cards?name=No+Such+Card", &e)
	assert.Equal(t, http.StatusNotFound, code)

	code = getJSON(t, srv.URL+"/cards", &e)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandlerSearch(t *testing.T) {
	srv := testHandler(t, newFakeService())

	var entries []*Entry
	code := getJSON(t, srv.URL+"/cards/search?q=bears", &entries)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, entries, 1)
	assert.Equal(t, "bears", entries[0].ID)

	// No hits is still a valid empty list, not an error.
	entries = nil
	code = getJSON(t, srv.URL+"/cards/search?q=zzz", &entries)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, entries)

	code = getJSON(t, srv.URL+"/cards/search", &entries)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandlerServiceFailure(t *testing.T) {
	svc := newFakeService()
	svc.failing["bears"] = true
	srv := testHandler(t, svc)

	var e Entry
	code := getJSON(t, srv.URL+"/cards/bears", &e)
	assert.Equal(t, http.StatusInternalServerError, code)
}
