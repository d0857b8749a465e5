package health

import (
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
)

func TestChecker_Basic(t *testing.T) {
	checker := NewChecker("1.0.0")

	status := checker.GetStatus()

	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
	if status.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %s", status.Version)
	}
	if status.UptimeSeconds < 0 {
		t.Error("expected non-negative uptime")
	}
	if _, err := uuid.Parse(status.SessionID); err != nil {
		t.Errorf("session id %q is not a uuid: %v", status.SessionID, err)
	}
	if NewChecker("1.0.0").SessionID() == checker.SessionID() {
		t.Error("each checker should get its own session id")
	}
}

func TestChecker_SetComponent(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent(ComponentCapture, true, "webcam")

	status := checker.GetStatus()
	if len(status.Components) != 1 {
		t.Errorf("expected 1 component, got %d", len(status.Components))
	}

	c, ok := status.Components[ComponentCapture]
	if !ok {
		t.Fatal("expected capture component")
	}
	if !c.Healthy || c.Message != "webcam" {
		t.Errorf("capture = %+v", c)
	}
}

func TestChecker_Degraded(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent(ComponentProjection, true, "")
	checker.SetComponent(ComponentAsset, false, "404")
	checker.SetComponent(ComponentPose, false, "no model")

	if status := checker.GetStatus(); status.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %s", status.Status)
	}
	if checker.IsHealthy() {
		t.Error("expected IsHealthy() to return false")
	}
	if got := checker.Unhealthy(); !reflect.DeepEqual(got, []string{ComponentAsset, ComponentPose}) {
		t.Errorf("Unhealthy() = %v", got)
	}
}

func TestChecker_Recovery(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent(ComponentPose, false, "error")
	if checker.IsHealthy() {
		t.Error("expected unhealthy")
	}

	checker.SetComponent(ComponentPose, true, "recovered")
	if !checker.IsHealthy() {
		t.Error("expected healthy after recovery")
	}
}

func TestChecker_Watch(t *testing.T) {
	checker := NewChecker("1.0.0")

	var healthy atomic.Bool
	healthy.Store(true)
	var polls atomic.Int32

	checker.Watch(ComponentPose, func() (bool, string) {
		polls.Add(1)
		if healthy.Load() {
			return true, "live"
		}
		return false, "estimator errors"
	})

	if status := checker.GetStatus(); status.Status != "ok" || status.Components[ComponentPose].Message != "live" {
		t.Errorf("status = %+v", status)
	}

	healthy.Store(false)
	status := checker.GetStatus()
	if status.Status != "degraded" {
		t.Errorf("expected degraded after probe failure, got %s", status.Status)
	}
	if status.Components[ComponentPose].Message != "estimator errors" {
		t.Errorf("message = %q", status.Components[ComponentPose].Message)
	}
	if polls.Load() != 2 {
		t.Errorf("probe polled %d times, want 2", polls.Load())
	}
}
