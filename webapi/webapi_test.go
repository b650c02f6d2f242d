package webapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/robot-supervisor/errcode"
	"github.com/jangala-dev/robot-supervisor/params"
	"github.com/jangala-dev/robot-supervisor/rlog"
	"github.com/jangala-dev/robot-supervisor/robotstate"
	"github.com/jangala-dev/robot-supervisor/statemachine"
)

type fakeCore struct {
	snap        robotstate.Snapshot
	lastMode    statemachine.RequestedMode
	refusal     *statemachine.Refusal
	clearCalled bool
	estopErr    error
}

func (f *fakeCore) Snapshot() robotstate.Snapshot { return f.snap }
func (f *fakeCore) SetTeleopIntent(v, w int16)    {}

func (f *fakeCore) SetMode(m statemachine.RequestedMode) (robotstate.Mode, *statemachine.Refusal) {
	f.lastMode = m
	if f.refusal != nil {
		return f.snap.Mode, f.refusal
	}
	return robotstate.Mode(m), nil
}

func (f *fakeCore) RequestClearError() { f.clearCalled = true }
func (f *fakeCore) EStop() error       { return f.estopErr }

func newTestRegistry() *params.Registry {
	reg := params.New()
	reg.Declare(params.Spec{Key: "reflex.max_v_mm_s", Type: params.TypeI32, Default: int32(600), Min: int32(0), Max: int32(600)})
	reg.Declare(params.Spec{Key: "safety.stop_mm", Type: params.TypeI32, Default: int32(250), Min: int32(0)})
	return reg
}

func TestStatusReturnsSnapshot(t *testing.T) {
	core := &fakeCore{snap: robotstate.Snapshot{RobotState: robotstate.RobotState{Mode: robotstate.ModeIdle}}}
	srv := httptest.NewServer(NewRouter(core, newTestRegistry(), rlog.New("error", false)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got robotstate.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, robotstate.ModeIdle, got.Mode)
}

func TestParamsBatchRejectionLeavesRegistryUnchanged(t *testing.T) {
	reg := newTestRegistry()
	core := &fakeCore{}
	srv := httptest.NewServer(NewRouter(core, reg, rlog.New("error", false)))
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{
		"reflex.max_v_mm_s": 9999,
		"safety.stop_mm":    -5,
	})
	resp, err := http.Post(srv.URL+"/params", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	v, _ := reg.Get("reflex.max_v_mm_s")
	require.Equal(t, int32(600), v)
}

func TestActionsSetModeForwardsToCore(t *testing.T) {
	core := &fakeCore{}
	srv := httptest.NewServer(NewRouter(core, newTestRegistry(), rlog.New("error", false)))
	defer srv.Close()

	body, _ := json.Marshal(actionRequest{Action: "set_mode", Mode: "TELEOP"})
	resp, err := http.Post(srv.URL+"/actions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, statemachine.RequestTeleop, core.lastMode)
}

func TestActionsSetModeRefusedReturns409(t *testing.T) {
	core := &fakeCore{
		snap:    robotstate.Snapshot{RobotState: robotstate.RobotState{Mode: robotstate.ModeError}},
		refusal: &statemachine.Refusal{Reason: "refused: cannot change mode while ERROR"},
	}
	srv := httptest.NewServer(NewRouter(core, newTestRegistry(), rlog.New("error", false)))
	defer srv.Close()

	body, _ := json.Marshal(actionRequest{Action: "set_mode", Mode: "WANDER"})
	resp, err := http.Post(srv.URL+"/actions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var got apiError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, errcode.ModeRefused, got.Code)
	require.Equal(t, statemachine.RequestWander, core.lastMode)
}

func TestActionsUnknownModeRejected(t *testing.T) {
	core := &fakeCore{}
	srv := httptest.NewServer(NewRouter(core, newTestRegistry(), rlog.New("error", false)))
	defer srv.Close()

	body, _ := json.Marshal(actionRequest{Action: "set_mode", Mode: "SPIN"})
	resp, err := http.Post(srv.URL+"/actions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVideoAndLogsAreStubbed501(t *testing.T) {
	core := &fakeCore{}
	srv := httptest.NewServer(NewRouter(core, newTestRegistry(), rlog.New("error", false)))
	defer srv.Close()

	for _, path := range []string{"/video", "/ws/logs"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	}
}
