package daemon

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"slidereel/internal/notifications"
)

func TestEventStreamDeliversJobUpdates(t *testing.T) {
	d := startTestDaemon(t, newTestConfig(t))

	resp := submitUpload(t, d, "deck.pptx", zipPayload())
	job := decodeJob(t, resp)

	wsURL := fmt.Sprintf("ws://%s/api/jobs/%s/events", d.Addr(), job.Token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The junk archive fails validation, so the stream must carry the job to
	// a terminal event.
	deadline := time.Now().Add(15 * time.Second)
	for {
		conn.SetReadDeadline(deadline) //nolint:errcheck
		var update notifications.Update
		if err := conn.ReadJSON(&update); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if update.JobToken != job.Token {
			t.Fatalf("update for %q, want %q", update.JobToken, job.Token)
		}
		if update.Event == notifications.EventJobFailed {
			if update.Status != "failed" {
				t.Fatalf("terminal update = %+v", update)
			}
			return
		}
	}
}

func TestEventStreamUnknownJob(t *testing.T) {
	d := startTestDaemon(t, newTestConfig(t))

	wsURL := fmt.Sprintf("ws://%s/api/jobs/missing/events", d.Addr())
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown job")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v", resp)
	}
}

func TestJobSubpathRouting(t *testing.T) {
	d := startTestDaemon(t, newTestConfig(t))

	cases := []struct {
		path string
		want int
	}{
		{"/api/jobs/unknown-token", http.StatusNotFound},
		{"/api/jobs/unknown-token/download", http.StatusNotFound},
		{"/api/jobs/tok/bogus", http.StatusNotFound},
		{"/api/jobs/tok/too/deep", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := http.Get(fmt.Sprintf("http://%s%s", d.Addr(), tc.path))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s status = %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}
}
