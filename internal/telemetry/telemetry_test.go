package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

type fakeCounters struct {
	total   int
	version string
}

func (f fakeCounters) LastDetectionTime() *time.Time { return nil }
func (f fakeCounters) TotalDetectionsToday() int     { return f.total }
func (f fakeCounters) AppVersion() string            { return f.version }
func (f fakeCounters) RuntimeVersion() string        { return "go1.26" }
func (f fakeCounters) Cameras() heartbeat.CameraStatus {
	return heartbeat.CameraStatus{TotalCameras: 2, ActiveCameras: 2}
}

func TestCollect_PopulatesSystemAndAppStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1<<16))
	}))
	defer srv.Close()

	c := New("store-1", "Store One", "/", []string{srv.URL}, time.Hour, fakeCounters{total: 3, version: "1.2.3"})

	hb := c.Collect(context.Background())

	assert.Equal(t, "store-1", hb.StoreID)
	assert.Equal(t, 3, hb.ApplicationStats.TotalDetectionsToday)
	assert.Equal(t, "1.2.3", hb.ApplicationStats.AppVersion)
	assert.Equal(t, 2, hb.CameraStatus.TotalCameras)
	require.NotNil(t, hb.NetworkInfo.CurrentSpeedMbps)
	assert.Greater(t, *hb.NetworkInfo.CurrentSpeedMbps, 0.0)
}

func TestCollect_NetworkProbeAmortized(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New("store-1", "Store One", "/", []string{srv.URL}, time.Hour, nil)

	c.Collect(context.Background())
	c.Collect(context.Background())
	c.Collect(context.Background())

	assert.Equal(t, 1, hits, "network probe should only run once within the amortization window")
}

func TestCollect_AllProbesFail_NoNetworkSample(t *testing.T) {
	c := New("store-1", "Store One", "/", []string{"http://127.0.0.1:1"}, time.Hour, nil)

	hb := c.Collect(context.Background())

	assert.Nil(t, hb.NetworkInfo.CurrentSpeedMbps)
}

func TestCollect_NoCounters_NoPanic(t *testing.T) {
	c := New("store-1", "Store One", "/", nil, time.Hour, nil)
	assert.NotPanics(t, func() {
		c.Collect(context.Background())
	})
}
