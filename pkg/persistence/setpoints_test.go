package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mash-protocol/opcsim-go/pkg/model"
)

func TestSetpointStore(t *testing.T) {
	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewSetpointStore(filepath.Join(t.TempDir(), "nonexistent.json"))

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() = %v, want nil for non-existent file", got)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		store := NewSetpointStore(filepath.Join(t.TempDir(), "sub", "state.json"))

		state := &SetpointState{
			Namespace: "urn:opcsim:instruments",
			Setpoints: []Setpoint{
				{NodeID: "ns=1;i=10", BrowseName: "FlywheelRPM", Value: model.Double(1750.5)},
				{NodeID: "ns=1;i=205", BrowseName: "TargetRPM", Value: model.Double(0)},
				{NodeID: "ns=1;s=Mode", Value: model.Int64(3)},
			},
		}
		if err := store.Save(state); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.Version != StateVersion {
			t.Errorf("Version = %d, want %d", got.Version, StateVersion)
		}
		if got.SavedAt.IsZero() {
			t.Error("SavedAt not set")
		}
		if got.Namespace != "urn:opcsim:instruments" {
			t.Errorf("Namespace = %q", got.Namespace)
		}

		values, err := got.Values()
		if err != nil {
			t.Fatalf("Values() error = %v", err)
		}
		want := map[model.NodeID]model.Variant{
			model.NumericID(1, 10):    model.Double(1750.5),
			model.NumericID(1, 205):   model.Double(0),
			model.StringID(1, "Mode"): model.Int64(3),
		}
		if len(values) != len(want) {
			t.Fatalf("Values() len = %d, want %d", len(values), len(want))
		}
		for id, w := range want {
			if values[id] != w {
				t.Errorf("Values()[%s] = %v, want %v", id, values[id], w)
			}
		}
	})

	t.Run("InvalidEntriesSkipped", func(t *testing.T) {
		state := &SetpointState{Setpoints: []Setpoint{
			{NodeID: "garbage", Value: model.Double(1)},
			{NodeID: "ns=1;i=11", Value: model.Variant{Type: model.DataTypeInt64, Value: 1.5}},
			{NodeID: "ns=1;i=12", Value: model.Double(2)},
		}}

		values, err := state.Values()
		if err == nil {
			t.Error("Values() error = nil, want error for invalid entries")
		}
		if len(values) != 1 || values[model.NumericID(1, 12)] != model.Double(2) {
			t.Errorf("Values() = %v, want only ns=1;i=12", values)
		}
	})

	t.Run("CorruptFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewSetpointStore(path).Load(); err == nil {
			t.Error("Load() error = nil, want error for corrupt file")
		}
	})

	t.Run("FutureVersion", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		if err := os.WriteFile(path, []byte(`{"version": 99}`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewSetpointStore(path).Load(); err == nil {
			t.Error("Load() error = nil, want error for unsupported version")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		store := NewSetpointStore(filepath.Join(t.TempDir(), "state.json"))
		if err := store.Save(&SetpointState{}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("Clear() twice error = %v", err)
		}
		got, _ := store.Load()
		if got != nil {
			t.Error("Load() after Clear() returned state")
		}
	})
}
