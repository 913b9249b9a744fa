// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/trialmatch/internal/failure"
)

func TestDiagnosisCoder(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/icd10cm/v3/search", r.URL.Path)
		switch r.URL.Query().Get("terms") {
		case "type 2 diabetes":
			w.Write([]byte(`[3, ["E11.9"], null, [["E11.9", "Type 2 diabetes mellitus without complications"]]]`))
		case "broken":
			w.Write([]byte(`[1, ["X"]]`))
		default:
			w.Write([]byte(`[0, [], null, []]`))
		}
	}))
	defer ts.Close()

	c := NewDiagnosisCoder(sourceConfig(ts.URL), testCache())

	code, err := c.Code(context.Background(), "Type 2 Diabetes")
	require.NoError(t, err)
	assert.Equal(t, DiagnosisCode{Code: "E11.9", Name: "Type 2 diabetes mellitus without complications"}, code)

	_, err = c.Code(context.Background(), "type 2 diabetes ")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "normalized term hits the cache")

	code, err = c.Code(context.Background(), "zebra fever")
	require.NoError(t, err)
	assert.Empty(t, code.Code)

	_, err = c.Code(context.Background(), "broken")
	assert.Equal(t, failure.KindMalformedResponse, failure.KindOf(err))

	before := atomic.LoadInt32(&calls)
	code, err = c.Code(context.Background(), "Unknown condition")
	require.NoError(t, err)
	assert.Empty(t, code.Code)
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}
