package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-agent/internal/scheduling"
)

func newTestDirectory(t *testing.T) *scheduling.Engine {
	t.Helper()
	now := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)
	engine := scheduling.NewEngine(scheduling.NewMemoryStore(), nil).WithClock(func() time.Time { return now })
	_, err := engine.Seed(context.Background(), scheduling.DefaultDoctors([]string{"smith", "chen"}), now, 7)
	require.NoError(t, err)
	return engine
}

func TestDoctorsList(t *testing.T) {
	h := NewDoctorsHandler(newTestDirectory(t), nil, nil)
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/doctors", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Doctors []scheduling.Doctor `json:"doctors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Doctors, 2)
	ids := []string{resp.Doctors[0].ID, resp.Doctors[1].ID}
	assert.ElementsMatch(t, []string{"smith", "chen"}, ids)
}

func TestDoctorsSlots(t *testing.T) {
	h := NewDoctorsHandler(newTestDirectory(t), time.UTC, nil)
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/v1/doctors/Dr.%20Smith/slots?date=2026-03-03", nil), "doctor", "Dr. Smith")
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SlotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "smith", resp.Doctor.ID)
	require.Len(t, resp.Slots, 14)
	assert.Equal(t, "09:00", resp.Slots[0].Time)
	assert.Equal(t, "16:30", resp.Slots[13].Time)
	assert.Equal(t, 30, resp.Slots[0].DurationMinutes)
}

func TestDoctorsSlotsErrors(t *testing.T) {
	tests := []struct {
		name   string
		doctor string
		date   string
		want   int
	}{
		{"bad date", "smith", "03/03/2026", http.StatusBadRequest},
		{"missing date", "smith", "", http.StatusBadRequest},
		{"unknown doctor", "house", "2026-03-03", http.StatusNotFound},
	}
	h := NewDoctorsHandler(newTestDirectory(t), nil, nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := withURLParam(httptest.NewRequest(http.MethodGet, "/v1/doctors/x/slots?date="+tc.date, nil), "doctor", tc.doctor)
			rec := httptest.NewRecorder()
			h.Slots(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

type brokenDirectory struct{ *scheduling.Engine }

func (brokenDirectory) Doctors(context.Context) ([]scheduling.Doctor, error) {
	return nil, errors.New("db down")
}

func TestDoctorsListStoreError(t *testing.T) {
	h := NewDoctorsHandler(brokenDirectory{}, nil, nil)
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/doctors", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
