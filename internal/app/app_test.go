package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vivavox/vivavox/internal/app"
	"github.com/vivavox/vivavox/internal/config"
	"github.com/vivavox/vivavox/internal/exam"
	"github.com/vivavox/vivavox/internal/store"
	"github.com/vivavox/vivavox/pkg/provider/stt"
	sttmock "github.com/vivavox/vivavox/pkg/provider/stt/mock"
	ttsmock "github.com/vivavox/vivavox/pkg/provider/tts/mock"
	vadmock "github.com/vivavox/vivavox/pkg/provider/vad/mock"
)

func testBank() *exam.Bank {
	bank := exam.NewBank()
	bank.Add(
		exam.Question{
			ID:             "law-1",
			CollegeType:    exam.CollegeLaw,
			ScenarioID:     "contract",
			Number:         1,
			Text:           "What makes a contract binding?",
			ExpectedAnswer: "Offer, acceptance and consideration.",
			Keywords:       []string{"consideration"},
		},
		exam.Question{
			ID:             "law-2",
			CollegeType:    exam.CollegeLaw,
			ScenarioID:     "contract",
			Number:         2,
			Text:           "Define mens rea.",
			ExpectedAnswer: "The guilty mind element of a crime.",
			Keywords:       []string{"guilty mind"},
		},
	)
	return bank
}

// newTestServer assembles a Server on in-memory capabilities and exposes it
// through httptest.
func newTestServer(t *testing.T, mutate func(*app.Capabilities, *config.Config)) (*httptest.Server, *store.Memory) {
	t.Helper()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	mem := store.NewMemory()
	caps := app.Capabilities{
		Questions: testBank(),
		Evaluator: exam.NewKeywordEvaluator(),
		STT:       &sttmock.Provider{Result: stt.Transcript{Text: "consideration", Confidence: 0.9}},
		TTS:       &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2, 3}}},
		Detector:  &vadmock.Engine{},
		Store:     mem,
	}
	if mutate != nil {
		mutate(&caps, cfg)
	}

	srv, err := app.New(cfg, caps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mem
}

func TestNew_RequiresCapabilities(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	if _, err := app.New(cfg, app.Capabilities{Evaluator: exam.NewKeywordEvaluator()}); err == nil {
		t.Error("New() without a question source should fail")
	}
	if _, err := app.New(cfg, app.Capabilities{Questions: testBank()}); err == nil {
		t.Error("New() without an evaluator should fail")
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestReportAPI(t *testing.T) {
	t.Parallel()

	ts, mem := newTestServer(t, nil)
	ctx := context.Background()

	reports := []exam.Report{
		{SessionCode: "VIVA-AAA", Candidate: "Asha", CollegeType: exam.CollegeLaw, Percentage: 80, Grade: "B", Passed: true},
		{SessionCode: "VIVA-BBB", Candidate: "Noor", CollegeType: exam.CollegeMedical, Percentage: 50, Grade: "F"},
	}
	for _, r := range reports {
		if err := mem.SaveReport(ctx, r); err != nil {
			t.Fatalf("SaveReport() error: %v", err)
		}
	}

	t.Run("list filtered by college", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/reports?college=law")
		if err != nil {
			t.Fatalf("GET error: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var got []exam.Report
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != 1 || got[0].SessionCode != "VIVA-AAA" {
			t.Errorf("got %+v, want the single law report", got)
		}
	})

	t.Run("get by code", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/reports/VIVA-BBB")
		if err != nil {
			t.Fatalf("GET error: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var got exam.Report
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Candidate != "Noor" {
			t.Errorf("Candidate = %q, want Noor", got.Candidate)
		}
	})

	t.Run("missing report is 404", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/reports/VIVA-ZZZ")
		if err != nil {
			t.Fatalf("GET error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("unknown college is 400", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/reports?college=astrology")
		if err != nil {
			t.Fatalf("GET error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

// readServerJSON reads frames until the next text message and decodes it,
// skipping the binary audio chunks interleaved by playback.
func readServerJSON(ctx context.Context, t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("websocket read: %v", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		return msg
	}
}

// readUntilType reads JSON messages until one with the given type arrives.
func readUntilType(ctx context.Context, t *testing.T, ws *websocket.Conn, want string) map[string]any {
	t.Helper()
	for {
		msg := readServerJSON(ctx, t, ws)
		if msg["type"] == want {
			return msg
		}
	}
}

func sendClientJSON(ctx context.Context, t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("websocket write: %v", err)
	}
}

func TestWebSocketExamFlow(t *testing.T) {
	t.Parallel()

	ts, mem := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, ts.URL+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	sendClientJSON(ctx, t, ws, map[string]any{
		"type":         "control",
		"command":      "start_session",
		"college_type": "law",
		"candidate":    "Asha",
	})

	started := readUntilType(ctx, t, ws, app.ServerTypeSessionStarted)
	code, _ := started["session_code"].(string)
	if code == "" {
		t.Fatal("session_started carried no session_code")
	}
	if started["total_questions"] != float64(2) {
		t.Errorf("total_questions = %v, want 2", started["total_questions"])
	}

	q1 := readUntilType(ctx, t, ws, app.ServerTypeQuestion)
	if q1["question_id"] != "law-1" {
		t.Errorf("first question = %v, want law-1", q1["question_id"])
	}

	sendClientJSON(ctx, t, ws, map[string]any{"type": "text", "text": "offer acceptance and consideration"})
	fb1 := readUntilType(ctx, t, ws, app.ServerTypeFeedback)
	if fb1["correct"] != true {
		t.Errorf("first answer should be correct, got %v", fb1)
	}

	q2 := readUntilType(ctx, t, ws, app.ServerTypeQuestion)
	if q2["question_id"] != "law-2" {
		t.Errorf("second question = %v, want law-2", q2["question_id"])
	}

	sendClientJSON(ctx, t, ws, map[string]any{"type": "text", "text": "no idea"})
	fb2 := readUntilType(ctx, t, ws, app.ServerTypeFeedback)
	if fb2["correct"] != false {
		t.Errorf("second answer should be incorrect, got %v", fb2)
	}

	report := readUntilType(ctx, t, ws, app.ServerTypeReport)
	body, ok := report["report"].(map[string]any)
	if !ok {
		t.Fatalf("report payload missing: %v", report)
	}
	if body["session_code"] != code {
		t.Errorf("report session_code = %v, want %v", body["session_code"], code)
	}
	if body["total_score"] != float64(10) {
		t.Errorf("total_score = %v, want 10", body["total_score"])
	}

	ended := readUntilType(ctx, t, ws, app.ServerTypeSessionEnded)
	if ended["status"] != string(exam.StatusCompleted) {
		t.Errorf("session_ended status = %v, want completed", ended["status"])
	}

	// The store sees the finished session too.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := mem.GetSession(context.Background(), code)
		if err != nil {
			t.Fatalf("GetSession() error: %v", err)
		}
		if rec != nil && rec.Status == exam.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s never reached completed in the store", code)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketConnectionCap(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, func(_ *app.Capabilities, cfg *config.Config) {
		cfg.Stream.MaxConnections = 1
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, _, err := websocket.Dial(ctx, ts.URL+"/ws", nil)
	if err != nil {
		t.Fatalf("first Dial() error: %v", err)
	}
	defer first.Close(websocket.StatusNormalClosure, "")

	second, _, err := websocket.Dial(ctx, ts.URL+"/ws", nil)
	if err != nil {
		// The upgrade itself may already be refused; that satisfies the cap.
		return
	}
	defer second.Close(websocket.StatusNormalClosure, "")

	_, _, err = second.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusTryAgainLater {
		t.Errorf("second connection close status = %v, want StatusTryAgainLater", websocket.CloseStatus(err))
	}
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = "127.0.0.1:0"

	srv, err := app.New(cfg, app.Capabilities{
		Questions: testBank(),
		Evaluator: exam.NewKeywordEvaluator(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after context cancellation")
	}
}
