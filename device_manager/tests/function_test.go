package tests

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func functionNode(id string, functionId uint) map[string]interface{} {
	return map[string]interface{}{"id": id, "type": "function", "data": map[string]interface{}{"entityId": functionId}}
}

func deviceNode(id string, deviceId uint) map[string]interface{} {
	return map[string]interface{}{"id": id, "type": "device", "data": map[string]interface{}{"entityId": deviceId}}
}

func edge(id, source, target string) map[string]interface{} {
	return map[string]interface{}{"id": id, "source": source, "target": target}
}

func nodeIds(flow flowInfo) []string {
	ids := []string{}
	for _, n := range flow.Nodes {
		ids = append(ids, n.Id)
	}
	return ids
}

func edgeIds(flow flowInfo) []string {
	ids := []string{}
	for _, e := range flow.Edges {
		ids = append(ids, e.Id)
	}
	return ids
}

func TestFunctionCrud(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	_, err := alice.createResource("functions", 0, map[string]interface{}{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	_, err = alice.createResource("functions", 0, map[string]interface{}{"name": "decode", "status": "sleeping"})
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	fn, err := alice.createResource("functions", 0, map[string]interface{}{
		"name":       "decode",
		"code":       "return payload",
		"parameters": []map[string]interface{}{{"name": "payload", "type": "string"}},
	})
	require.NoError(t, err)

	_, err = bob.getResource("functions", fn.Id)
	assert.Equal(t, http.StatusForbidden, statusOf(err))

	updated, err := alice.updateResource("functions", fn.Id, 0, map[string]interface{}{"name": "decode v2"})
	require.NoError(t, err)
	assert.Equal(t, "decode v2", updated.Name)

	_, err = bob.updateResource("functions", fn.Id, 0, map[string]interface{}{"name": "stolen"})
	assert.Equal(t, http.StatusForbidden, statusOf(err))

	functions, err := alice.listResources("functions", 0)
	require.NoError(t, err)
	require.Len(t, functions, 1)

	functions, err = bob.listResources("functions", 0)
	require.NoError(t, err)
	assert.Empty(t, functions)
}

func TestFunctionDeletePrunesFlows(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	decode, err := alice.createResource("functions", 0, map[string]interface{}{"name": "decode"})
	require.NoError(t, err)
	alert, err := alice.createResource("functions", 0, map[string]interface{}{"name": "alert"})
	require.NoError(t, err)

	device, err := alice.createDevice(0, newDevice("probe", "0A0A0A0A0A0A0A0A"))
	require.NoError(t, err)

	pipeline, err := alice.createResource("flows", 0, map[string]interface{}{
		"name": "pipeline",
		"nodes": []interface{}{
			deviceNode("n1", device.Id),
			functionNode("n2", decode.Id),
			functionNode("n3", alert.Id),
			// Ids stored as strings are the same reference.
			map[string]interface{}{"id": "n4", "type": "function", "data": map[string]interface{}{"entityId": fmt.Sprint(decode.Id)}},
		},
		"edges": []interface{}{
			edge("e1", "n1", "n2"),
			edge("e2", "n2", "n3"),
			edge("e3", "n1", "n3"),
			edge("e4", "n4", "n3"),
		},
	})
	require.NoError(t, err)

	untouched, err := alice.createResource("flows", 0, map[string]interface{}{
		"name":  "alerts only",
		"nodes": []interface{}{deviceNode("a", device.Id), functionNode("b", alert.Id)},
		"edges": []interface{}{edge("ab", "a", "b")},
	})
	require.NoError(t, err)

	// Flows of other users pointing at the function are pruned as well.
	foreign, err := bob.createResource("flows", 0, map[string]interface{}{
		"name":  "borrowed",
		"nodes": []interface{}{functionNode("x", decode.Id)},
	})
	require.NoError(t, err)

	_, err = alice.recordHistory("functions", decode.Id, map[string]interface{}{"status": "success"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, statusOf(bob.deleteResource("functions", decode.Id)))

	require.NoError(t, alice.deleteResource("functions", decode.Id))

	flow, err := alice.flow(pipeline.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n3"}, nodeIds(flow))
	assert.Equal(t, []string{"e3"}, edgeIds(flow))

	flow, err = alice.flow(untouched.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, nodeIds(flow))
	assert.Equal(t, []string{"ab"}, edgeIds(flow))

	flow, err = bob.flow(foreign.Id)
	require.NoError(t, err)
	assert.Empty(t, flow.Nodes)

	_, err = alice.getResource("functions", decode.Id)
	assert.Equal(t, http.StatusNotFound, statusOf(err))

	var history []map[string]interface{}
	require.NoError(t, alice.Get("/functions/history").Do(&history))
	assert.Empty(t, history)
}

func TestFunctionExecutionBackfill(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	fn, err := alice.createResource("functions", 0, map[string]interface{}{"name": "decode"})
	require.NoError(t, err)

	started, err := alice.recordHistory("functions", fn.Id, map[string]interface{}{
		"input_data": map[string]interface{}{"payload": "AQI="},
	})
	require.NoError(t, err)
	assert.Equal(t, "running", started["status"])
	historyId := uint(started["id"].(float64))

	endpoint := fmt.Sprintf("/functions/history/%d", historyId)

	err = alice.Put(endpoint).Json(map[string]interface{}{"status": "exploded"}).Do(nil)
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	err = bob.Put(endpoint).Json(map[string]interface{}{"status": "success"}).Do(nil)
	assert.Equal(t, http.StatusForbidden, statusOf(err))

	for _, status := range []string{"running", "pending"} {
		err = alice.Put(endpoint).Json(map[string]interface{}{"status": status}).Do(nil)
		assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err), status)
	}

	var completed map[string]interface{}
	err = alice.Put(endpoint).Json(map[string]interface{}{
		"status":         "success",
		"output_data":    map[string]interface{}{"temperature": 21.5},
		"execution_time": 0.25,
	}).Do(&completed)
	require.NoError(t, err)
	assert.Equal(t, "success", completed["status"])
	assert.Equal(t, 0.25, completed["execution_time"])

	err = alice.Put(endpoint).Json(map[string]interface{}{"status": "error", "error_message": "late"}).Do(nil)
	require.Equal(t, http.StatusConflict, statusOf(err))
	assert.Contains(t, err.Error(), "already completed")

	var fetched map[string]interface{}
	require.NoError(t, alice.Get(endpoint).Do(&fetched))
	assert.Equal(t, "success", fetched["status"])
	assert.Equal(t, map[string]interface{}{"temperature": 21.5}, fetched["output_data"])

	assert.Equal(t, http.StatusNotFound, statusOf(alice.Put("/functions/history/999").Json(map[string]interface{}{"status": "success"}).Do(nil)))
}

func TestFlowValidationAndHistory(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")

	_, err := alice.createResource("flows", 0, map[string]interface{}{
		"name":  "duplicate ids",
		"nodes": []interface{}{deviceNode("n1", 1), deviceNode("n1", 2)},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	_, err = alice.createResource("flows", 0, map[string]interface{}{
		"name":  "missing id",
		"nodes": []interface{}{map[string]interface{}{"type": "device"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	flow, err := alice.createResource("flows", 0, map[string]interface{}{
		"name":  "half connected",
		"nodes": []interface{}{deviceNode("n1", 1)},
		"edges": []interface{}{edge("e1", "n1", "nowhere")},
	})
	require.NoError(t, err)

	for _, status := range []string{"running", "success"} {
		_, err := alice.recordHistory("flows", flow.Id, map[string]interface{}{"status": status, "trigger_source": "device"})
		require.NoError(t, err)
	}

	history, err := alice.history("flows", flow.Id)
	require.NoError(t, err)
	require.Len(t, history, 2)

	require.NoError(t, alice.deleteResource("flows", flow.Id))
	_, err = alice.history("flows", flow.Id)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}
