package serve

import (
	"bytes"
	"encoding/json"
	"net/http"
	"math"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/brakeguard/internal/model"
	"github.com/danielpatrickdp/brakeguard/internal/observability"
	"github.com/danielpatrickdp/brakeguard/internal/record"
)

func do(t *testing.T, h http.Handler, method, path string, body []byte) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Header().Get("Content-Type") == "application/json" || bytes.HasPrefix(rec.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func predictBody(t *testing.T, ds record.Dataset, i int) []byte {
	t.Helper()
	data, err := json.Marshal(fieldsOf(ds, i))
	require.NoError(t, err)
	return data
}

func TestHealthBeforeLoad(t *testing.T) {
	svc := NewService(nil, nil)
	e := NewHTTPServer(svc, nil, nil)

	code, body := do(t, e, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = do(t, e, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "uninitialized", body["status"])

	code, _ = do(t, e, http.MethodPost, "/predict", predictBody(t, testData(t), 0))
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = do(t, e, http.MethodGet, "/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestPredictEndpoint(t *testing.T) {
	ds := testData(t)
	svc := servingService(t, ds)
	e := NewHTTPServer(svc, nil, nil)

	code, body := do(t, e, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "serving", body["status"])

	code, body = do(t, e, http.MethodPost, "/predict", predictBody(t, ds, 3))
	require.Equal(t, http.StatusOK, code, body)
	label := body["prediction"].(float64)
	assert.Contains(t, []float64{0, 1}, label)
	p, ok := body["probability"].(float64)
	require.True(t, ok, "probability should be numeric: %v", body["probability"])
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)
}

func TestPredictEndpointErrors(t *testing.T) {
	ds := testData(t)
	svc := servingService(t, ds)
	e := NewHTTPServer(svc, nil, nil)

	fields := fieldsOf(ds, 0)
	delete(fields, "speed")
	missing, err := json.Marshal(fields)
	require.NoError(t, err)

	code, body := do(t, e, http.MethodPost, "/predict", missing)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], `missing field "speed"`)

	code, body = do(t, e, http.MethodPost, "/predict", []byte(`{"speed":`))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "invalid JSON")

	code, _ = do(t, e, http.MethodPost, "/predict", []byte(`null`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, e, http.MethodPost, "/predict", []byte(`[1,2]`))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRunEndpoint(t *testing.T) {
	ds := testData(t)
	svc := servingService(t, ds)
	e := NewHTTPServer(svc, nil, nil)

	code, body := do(t, e, http.MethodGet, "/run", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, svc.Bundle().RunID.String(), body["run_id"])
	assert.Equal(t, "random_forest", body["model_kind"])
	assert.Len(t, body["features"], len(ds.Schema.Features))
}

func TestMetricsEndpoint(t *testing.T) {
	ds := testData(t)
	m, err := observability.InitMetrics()
	require.NoError(t, err)
	pm, err := NewPredictMetrics(m.Provider)
	require.NoError(t, err)

	svc := NewService(nil, pm)
	b := testBundle(t, ds)
	require.NoError(t, svc.Load(b, runOf(b)))
	require.NoError(t, svc.Serve())
	e := NewHTTPServer(svc, m.Handler, nil)

	code, _ := do(t, e, http.MethodPost, "/predict", predictBody(t, ds, 0))
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "predictions_total")
	assert.Contains(t, rec.Body.String(), `outcome="ok"`)
}

func TestPredictDuringLoadAndServe(t *testing.T) {
	ds := testData(t)
	b := testBundle(t, ds)

	var bodies [][]byte
	var want []model.Prediction
	for i := range ds.Records {
		if len(bodies) == 8 {
			break
		}
		fields := make(map[string]float64, len(ds.Schema.Features))
		complete := true
		for j, name := range ds.Schema.Features {
			v := ds.Records[i].Values[j]
			complete = complete && !math.IsNaN(v)
			fields[name] = v
		}
		if !complete {
			continue
		}
		exp, err := b.Predict(fields)
		require.NoError(t, err)
		bodies = append(bodies, predictBody(t, ds, i))
		want = append(want, exp)
	}
	require.NotEmpty(t, bodies)

	svc := NewService(nil, nil)
	e := NewHTTPServer(svc, nil, nil)

	var served atomic.Bool
	var ok, unavailable atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			after := 0
			for i := 0; after < 5; i++ {
				k := (w + i) % len(bodies)
				servedBefore := served.Load()

				req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(bodies[k]))
				req.Header.Set("Content-Type", "application/json")
				rec := httptest.NewRecorder()
				e.ServeHTTP(rec, req)

				switch rec.Code {
				case http.StatusOK:
					ok.Add(1)
					var got struct {
						Prediction  int     `json:"prediction"`
						Probability float64 `json:"probability"`
					}
					if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
						t.Errorf("decode %q: %v", rec.Body.String(), err)
						return
					}
					if got.Prediction != want[k].Label || got.Probability != want[k].Probability {
						t.Errorf("row %d: got %+v, want %+v", k, got, want[k])
					}
				case http.StatusServiceUnavailable:
					unavailable.Add(1)
					if servedBefore {
						t.Errorf("503 after serving started")
					}
				default:
					t.Errorf("unexpected status %d: %s", rec.Code, rec.Body.String())
					return
				}
				if servedBefore {
					after++
				}
			}
		}()
	}

	close(start)
	require.NoError(t, svc.Load(b, runOf(b)))
	require.NoError(t, svc.Serve())
	served.Store(true)
	wg.Wait()

	assert.GreaterOrEqual(t, ok.Load(), int64(16*5))
	assert.Equal(t, Serving, svc.State())
}
