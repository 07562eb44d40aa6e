package align

import (
	"errors"
	"testing"
)

func TestCloudPayload_FlagsDefaultToOne(t *testing.T) {
	payload := &CloudPayload{
		ID:        "scan-a",
		Positions: [][3]float64{{1, 2, 3}, {4, 5, 6}},
		Normals:   [][3]float64{{0, 0, 1}, {0, 1, 0}},
	}

	cloud, err := payload.Cloud()
	if err != nil {
		t.Fatalf("Cloud: %v", err)
	}
	if cloud.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cloud.Len())
	}
	for i, flag := range cloud.Flags {
		if flag != 1.0 {
			t.Errorf("Flags[%d] = %g, want 1.0", i, flag)
		}
	}
	if got := cloud.Features.At(1, 4); got != 1.0 {
		t.Errorf("normal y of element 1 = %g, want 1.0", got)
	}
}

func TestCloudPayload_Validation(t *testing.T) {
	tests := []struct {
		name    string
		payload CloudPayload
	}{
		{
			name:    "no positions",
			payload: CloudPayload{ID: "x"},
		},
		{
			name: "normal count mismatch",
			payload: CloudPayload{
				ID:        "x",
				Positions: [][3]float64{{1, 2, 3}, {4, 5, 6}},
				Normals:   [][3]float64{{0, 0, 1}},
			},
		},
		{
			name: "flag count mismatch",
			payload: CloudPayload{
				ID:        "x",
				Positions: [][3]float64{{1, 2, 3}},
				Normals:   [][3]float64{{0, 0, 1}},
				Flags:     []float64{1, 0},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.payload.Cloud()
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("got %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestCloudPayload_NilFlagsStayTrusted(t *testing.T) {
	cloud := helixCloud()
	cloud.Flags = nil

	payload := cloud.Payload("scan-a")
	for i, flag := range payload.Flags {
		if flag != 1.0 {
			t.Errorf("Flags[%d] = %g, want 1.0 for a cloud without flags", i, flag)
		}
	}
}

func TestCloudPayload_RoundTrip(t *testing.T) {
	cloud := helixCloud()
	cloud.Flags[2] = 0.0

	restored, err := cloud.Payload("scan-a").Cloud()
	if err != nil {
		t.Fatalf("Cloud: %v", err)
	}
	matApproxEqual(t, restored.Features, cloud.Features, 0, "features")
	if restored.Flags[2] != 0.0 {
		t.Errorf("Flags[2] = %g, want 0.0", restored.Flags[2])
	}
}
