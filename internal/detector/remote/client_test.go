package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetvision/internal/detector"
	"streetvision/internal/source"
)

type fakeImage struct {
	data []byte
	err  error
}

func (f fakeImage) JPEG(int) ([]byte, error) { return f.data, f.err }

func frame() source.Frame {
	return source.Frame{Width: 4, Height: 4, Image: fakeImage{data: []byte{0xff, 0xd8, 0xff}}}
}

func TestDetect_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		assert.Equal(t, "0.4", r.URL.Query().Get("confidence"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte{0xff, 0xd8, 0xff}, body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detections":[
			{"label":"person","confidence":0.9,"box":[1,2,3,4]},
			{"label":"traffic light","confidence":0.7,"box":[5,6,7,8],"color":"green"}
		]}`))
	}))
	defer srv.Close()

	d, err := New(Config{URL: srv.URL, Confidence: 0.4})
	require.NoError(t, err)

	dets, err := d.Detect(context.Background(), frame())
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "person", dets[0].Label)
	assert.Equal(t, 1, dets[0].X)
	assert.Equal(t, 4, dets[0].Height)
	assert.Equal(t, "green", dets[1].Color)
}

func TestDetect_ThroughAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detections":[
			{"label":"person","confidence":0.8,"box":[0,0,1,1]},
			{"label":"car","confidence":0.6,"box":[0,0,1,1]},
			{"label":"car","confidence":0.2,"box":[0,0,1,1]}
		]}`))
	}))
	defer srv.Close()

	d, err := New(Config{URL: srv.URL})
	require.NoError(t, err)

	outcome, err := detector.NewAdapter(d, 0.5).Detect(context.Background(), frame())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.PeopleCount)
	assert.Equal(t, 1, outcome.VehicleCount)
}

func TestDetect_ServerErrorIsRetriedThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, err := New(Config{URL: srv.URL, Retries: 2, RetryWait: time.Millisecond})
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), frame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(3), calls.Load())
}

func TestDetect_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad image", http.StatusBadRequest)
	}))
	defer srv.Close()

	d, err := New(Config{URL: srv.URL, Retries: 2, RetryWait: time.Millisecond})
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), frame())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDetect_EncodeFailure(t *testing.T) {
	d, err := New(Config{URL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), source.Frame{Image: fakeImage{err: errors.New("boom")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode")
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
