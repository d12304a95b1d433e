package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/omnishelf/internal/server"
)

// RegisterServerSteps registers HTTP and WebSocket API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a detection server with a mock pipeline$`, testCtx.aDetectionServer)
	sc.Step(`^a detection server with a mock pipeline and the scan store$`, testCtx.aDetectionServerWithStore)
	sc.Step(`^a detection server with a mock pipeline limited to (\d+) requests? per day$`, testCtx.aDetectionServerWithQuota)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTo)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)" with fields "([^"]*)"$`, testCtx.iUploadToWithFields)
	sc.Step(`^I send "([^"]*)" over the detection websocket$`, testCtx.iSendOverTheWebSocket)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response header "([^"]*)" should be set$`, testCtx.theResponseHeaderShouldBeSet)
	sc.Step(`^the mock pipeline should have been called (\d+) times?$`, testCtx.theMockPipelineShouldHaveBeenCalled)
	sc.Step(`^the websocket messages should include a "([^"]*)" message$`, testCtx.theWebSocketMessagesShouldInclude)
	sc.Step(`^the last websocket message should be of type "([^"]*)"$`, testCtx.theLastWebSocketMessageShouldBe)
}

func defaultTestServerConfig() server.Config {
	return server.Config{
		CORSOrigin:     "*",
		MaxUploadMB:    5,
		TimeoutSec:     10,
		OverlayEnabled: true,
	}
}

func (testCtx *TestContext) aDetectionServer() error {
	return testCtx.startTestHTTPServer(false, defaultTestServerConfig())
}

func (testCtx *TestContext) aDetectionServerWithStore() error {
	return testCtx.startTestHTTPServer(true, defaultTestServerConfig())
}

func (testCtx *TestContext) aDetectionServerWithQuota(perDay int) error {
	cfg := defaultTestServerConfig()
	cfg.RateLimit = server.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 100,
		Burst:             100,
		MaxRequestsPerDay: perDay,
	}
	return testCtx.startTestHTTPServer(false, cfg)
}

func (testCtx *TestContext) iGET(path string) error {
	u, err := testCtx.serverURL(path)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(u)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) iUploadTo(name, path string) error {
	return testCtx.iUploadToWithFields(name, path, "")
}

// iUploadToWithFields posts name as the multipart "image" field. fields is a
// query string of extra form values, e.g. "format=csv&shelf_id=a1".
func (testCtx *TestContext) iUploadToWithFields(name, path, fields string) error {
	u, err := testCtx.serverURL(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.TempPath(name))
	if err != nil {
		return fmt.Errorf("failed to read upload %s: %w", name, err)
	}
	values, err := url.ParseQuery(fields)
	if err != nil {
		return fmt.Errorf("invalid fields %q: %w", fields, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	for k, vs := range values {
		for _, v := range vs {
			if err := mw.WriteField(k, v); err != nil {
				return err
			}
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, u, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

// iSendOverTheWebSocket sends one detect request and collects messages until
// a result or error arrives.
func (testCtx *TestContext) iSendOverTheWebSocket(name string) error {
	u, err := testCtx.serverURL("/ws/detect")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.TempPath(name))
	if err != nil {
		return fmt.Errorf("failed to read upload %s: %w", name, err)
	}

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(u, "http"), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	req := server.WebSocketDetectRequest{Type: "detect", Image: data}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}

	testCtx.LastWSMessages = nil
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		testCtx.LastWSMessages = append(testCtx.LastWSMessages, msg)
		if t := msg["type"]; t == "result" || t == "error" {
			return nil
		}
	}
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, expected) {
		return fmt.Errorf("response does not contain %q: %s", expected, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseJSONFieldShouldBe compares a dotted path (e.g. "result.image_width")
// against the expected value's string form.
func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, expected string) error {
	var doc any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &doc); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	cur := doc
	for _, key := range strings.Split(field, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return fmt.Errorf("field %q missing in %s", field, testCtx.LastHTTPResponse)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return fmt.Errorf("invalid index %q for field %q", key, field)
			}
			cur = node[i]
		default:
			return fmt.Errorf("field %q does not resolve in %s", field, testCtx.LastHTTPResponse)
		}
	}
	if got := fmt.Sprint(cur); got != expected {
		return fmt.Errorf("field %q: expected %q, got %q", field, expected, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != expected {
		return fmt.Errorf("header %s: expected %q, got %q", name, expected, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBeSet(name string) error {
	if testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)] == "" {
		return fmt.Errorf("header %s is not set", name)
	}
	return nil
}

func (testCtx *TestContext) theMockPipelineShouldHaveBeenCalled(n int) error {
	if testCtx.MockPipeline == nil {
		return fmt.Errorf("no mock pipeline")
	}
	testCtx.MockPipeline.mu.Lock()
	defer testCtx.MockPipeline.mu.Unlock()
	if testCtx.MockPipeline.Calls != n {
		return fmt.Errorf("expected %d pipeline calls, got %d", n, testCtx.MockPipeline.Calls)
	}
	return nil
}

func (testCtx *TestContext) theWebSocketMessagesShouldInclude(msgType string) error {
	for _, m := range testCtx.LastWSMessages {
		if m["type"] == msgType {
			return nil
		}
	}
	return fmt.Errorf("no %q message among %d websocket messages", msgType, len(testCtx.LastWSMessages))
}

func (testCtx *TestContext) theLastWebSocketMessageShouldBe(msgType string) error {
	if len(testCtx.LastWSMessages) == 0 {
		return fmt.Errorf("no websocket messages received")
	}
	last := testCtx.LastWSMessages[len(testCtx.LastWSMessages)-1]
	if last["type"] != msgType {
		return fmt.Errorf("last websocket message is %v, want %q", last["type"], msgType)
	}
	return nil
}
