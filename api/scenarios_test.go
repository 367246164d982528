/*
scenarios_test.go - Tests for demo scenario loading
*/
package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recurrence-engine/api"
)

func TestScenarios_Catalog(t *testing.T) {
	srv, _ := newTestServer(t)

	var catalog []api.ScenarioDTO
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/scenarios", nil, &catalog)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, catalog, 3)
	for _, s := range catalog {
		assert.NotEmpty(t, s.ID)
		assert.NotEmpty(t, s.Description)
	}
}

func TestScenarios_LoadEach(t *testing.T) {
	// GIVEN: Each catalog scenario
	// WHEN: Loading it
	// THEN: A fresh demo company exists with materialized occurrences

	srv, _ := newTestServer(t)

	for _, scenarioID := range []string{"startup-basics", "price-change", "month-end-anchors"} {
		t.Run(scenarioID, func(t *testing.T) {
			var loaded api.LoadScenarioResponse
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
				api.LoadScenarioRequest{ScenarioID: scenarioID}, &loaded)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			assert.Equal(t, scenarioID, loaded.ScenarioID)
			require.NotEmpty(t, loaded.CompanyID)
			require.NotEmpty(t, loaded.RecurrenceIDs)

			for _, id := range loaded.RecurrenceIDs {
				occs := listOccurrences(t, srv.URL, id)
				assert.NotEmpty(t, occs, "recurrence %s has no occurrences", id)
			}
		})
	}
}

func TestScenarios_LoadsAreIsolated(t *testing.T) {
	// Two loads of the same scenario mint distinct demo companies.
	srv, _ := newTestServer(t)

	var first, second api.LoadScenarioResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
		api.LoadScenarioRequest{ScenarioID: "price-change"}, &first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
		api.LoadScenarioRequest{ScenarioID: "price-change"}, &second)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NotEqual(t, first.CompanyID, second.CompanyID)
}

func TestScenarios_UnknownID(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
		api.LoadScenarioRequest{ScenarioID: "does-not-exist"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
