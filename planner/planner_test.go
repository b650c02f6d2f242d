package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlanSuccessMarksConnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/plan", r.URL.Path)
		json.NewEncoder(w).Encode(PlanResponse{PlanID: "p1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Plan(context.Background(), PlanRequest{RobotID: "r1"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "p1", resp.PlanID)
	require.True(t, c.Connected())
}

func TestPlanNon200MarksDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Plan(context.Background(), PlanRequest{RobotID: "r1"}, time.Second)
	require.Error(t, err)
	require.False(t, c.Connected())
}

func TestNullPlannerAlwaysDisconnected(t *testing.T) {
	var p Planner = NullPlanner{}
	require.False(t, p.Connected())
	_, err := p.Plan(context.Background(), PlanRequest{}, time.Second)
	require.ErrorIs(t, err, ErrNoPlanner)
}
