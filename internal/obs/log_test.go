package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestLogRequestEmitsOneJSONLine(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	defer Logger().SetOutput(os.Stdout)

	LogRequest(RequestLog{
		Method:     "GET",
		Path:       "/v1/files",
		Status:     200,
		DurationMS: 3,
		RequestID:  "req-1",
		Remote:     "10.0.0.1",
	})

	line := strings.TrimSpace(buf.String())
	if strings.Count(line, "\n") != 0 {
		t.Fatalf("expected a single line, got %q", buf.String())
	}
	var got RequestLog
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if got.Method != "GET" || got.Path != "/v1/files" || got.Status != 200 || got.RequestID != "req-1" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestLogRequestOmitsEmptyOptionalFields(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	defer Logger().SetOutput(os.Stdout)

	LogRequest(RequestLog{Method: "GET", Path: "/healthz", Status: 200})
	if strings.Contains(buf.String(), "request_id") || strings.Contains(buf.String(), "remote") {
		t.Fatalf("optional fields not omitted: %s", buf.String())
	}
}
