package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_MarshalJSON(t *testing.T) {
	now := time.Date(2023, 10, 27, 10, 0, 0, 0, time.UTC)
	data, err := json.Marshal(Timestamp(now))
	assert.NoError(t, err)
	assert.Equal(t, "\"2023-10-27T10:00:00Z\"", string(data))
}

func TestTimestamp_UnmarshalJSON_Valid(t *testing.T) {
	var ts Timestamp
	err := json.Unmarshal([]byte("\"2023-10-27T10:00:00Z\""), &ts)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2023, 10, 27, 10, 0, 0, 0, time.UTC), time.Time(ts))
}

func TestTimestamp_UnmarshalJSON_Invalid(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte("\"invalid-date\""), &ts))
}

func TestPagination_Validate(t *testing.T) {
	assert.NoError(t, Pagination{Page: 1, PageSize: 20}.Validate())
	assert.Error(t, Pagination{Page: 0, PageSize: 20}.Validate())
	assert.Error(t, Pagination{Page: 1, PageSize: 501}.Validate())
	assert.Error(t, Pagination{Page: 1, PageSize: 0}.Validate())
	assert.Equal(t, 40, Pagination{Page: 3, PageSize: 20}.Offset())
}

func TestNewSuccessResponse(t *testing.T) {
	resp := NewSuccessResponse("test-data")
	assert.True(t, resp.Success)
	assert.Equal(t, "test-data", resp.Data)
	assert.Nil(t, resp.Error)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("MOL_001", "unmatched branch")
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "MOL_001", resp.Error.Code)
	assert.Equal(t, "unmatched branch", resp.Error.Message)
}

func TestAPIResponse_JSONRoundTrip(t *testing.T) {
	resp := NewSuccessResponse("data")
	resp.RequestID = "req-123"

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var back APIResponse[string]
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, resp.Success, back.Success)
	assert.Equal(t, resp.Data, back.Data)
	assert.Equal(t, resp.RequestID, back.RequestID)
	assert.Equal(t, time.Time(resp.Timestamp).UnixMilli(), time.Time(back.Timestamp).UnixMilli())
}

func TestBatchResponse_Counts(t *testing.T) {
	resp := BatchResponse[string]{
		Succeeded:      []string{"ok1", "ok2"},
		Failed:         []BatchError{{Index: 2, Error: ErrorDetail{Code: "MOL_002"}}},
		TotalProcessed: 3,
	}
	assert.Equal(t, resp.TotalProcessed, len(resp.Succeeded)+len(resp.Failed))
}

func TestNewBaseEvent(t *testing.T) {
	e := NewBaseEvent("batch-1")
	_, err := uuid.Parse(e.EventID())
	assert.NoError(t, err)
	assert.Equal(t, "batch-1", e.AggregateID())
	assert.WithinDuration(t, time.Now(), e.OccurredAt(), time.Minute)
}

func TestHealthStatus_Values(t *testing.T) {
	assert.Equal(t, HealthStatus("up"), HealthUp)
	assert.Equal(t, HealthStatus("down"), HealthDown)
	assert.Equal(t, HealthStatus("degraded"), HealthDegraded)
}
