package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesMetrics(t *testing.T) {
	SetActiveSessions(3)
	RecordSessionCreated()
	RecordTurn("ok", 10*time.Millisecond)
	RecordArchive(1000, 50*time.Millisecond, true)
	RecordRetrieval(2)
	RecordCleanup(1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, "ingat_sessions_active 3")
	assert.Contains(t, out, "ingat_archives_created_total")
	assert.Contains(t, out, "ingat_summarizer_fallbacks_total 1")
	assert.Contains(t, out, `ingat_turns_total{outcome="ok"}`)
}
