package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCollectors(t *testing.T) {
	RecordUpstream("fetch_folder", "ok", 12*time.Millisecond)
	RecordHTTPRequest("mailbox", 200, time.Millisecond)
	IncrementMessagesSent("web", 3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`cwmail_upstream_requests_total{operation="fetch_folder",outcome="ok"}`,
		`cwmail_http_request_duration_seconds_count{route="mailbox",status="200"}`,
		`cwmail_messages_sent_total{channel="web",self_destruct="true"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
