package channels

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// recordedRequest captures what the fake Bot API received.
type recordedRequest struct {
	Path      string
	Form      map[string]string
	FileName  string
	FileBytes []byte
}

// fakeBotAPI returns a server that records requests and answers with status.
func fakeBotAPI(t *testing.T, status int, body string) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Path: r.URL.Path, Form: map[string]string{}}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			for k, v := range r.MultipartForm.Value {
				rec.Form[k] = v[0]
			}
			if fh := r.MultipartForm.File["photo"]; len(fh) > 0 {
				rec.FileName = fh[0].Filename
				f, _ := fh[0].Open()
				rec.FileBytes, _ = io.ReadAll(f)
				f.Close()
			}
		} else {
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			for k, v := range r.PostForm {
				rec.Form[k] = v[0]
			}
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestTelegram_SendMessage(t *testing.T) {
	srv, requests := fakeBotAPI(t, http.StatusOK, `{"ok":true}`)
	tg := NewTelegram(TelegramConfig{BotToken: "123:ABC", ChatID: "42", APIURL: srv.URL})

	url := "https://example.com/listing?c=48&navId=48"
	if err := tg.SendMessage(context.Background(), url); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("requests: got %d, want 1", len(got))
	}
	if got[0].Path != "/bot123:ABC/sendMessage" {
		t.Errorf("path: got %q", got[0].Path)
	}
	if got[0].Form["chat_id"] != "42" {
		t.Errorf("chat_id: got %q", got[0].Form["chat_id"])
	}
	if got[0].Form["parse_mode"] != "HTML" {
		t.Errorf("parse_mode: got %q", got[0].Form["parse_mode"])
	}
	if want := "https://example.com/listing?c=48&amp;navId=48"; got[0].Form["text"] != want {
		t.Errorf("text: got %q, want %q", got[0].Form["text"], want)
	}

	st := tg.Status()
	if st.Sent != 1 || st.Failed != 0 {
		t.Errorf("status: %+v", st)
	}
}

func TestTelegram_SendPhoto(t *testing.T) {
	srv, requests := fakeBotAPI(t, http.StatusOK, `{"ok":true}`)
	tg := NewTelegram(TelegramConfig{BotToken: "tok", ChatID: "-100", APIURL: srv.URL})

	path := filepath.Join(t.TempDir(), "screenshot_20240101120000.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := tg.SendPhoto(context.Background(), path, "🔔 <b>Change</b> detected"); err != nil {
		t.Fatalf("send photo: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("requests: got %d, want 1", len(got))
	}
	r := got[0]
	if r.Path != "/bottok/sendPhoto" {
		t.Errorf("path: got %q", r.Path)
	}
	if r.Form["caption"] != "🔔 <b>Change</b> detected" {
		t.Errorf("caption: got %q", r.Form["caption"])
	}
	if r.FileName != "screenshot_20240101120000.png" {
		t.Errorf("file name: got %q", r.FileName)
	}
	if string(r.FileBytes) != "png-bytes" {
		t.Errorf("file bytes: got %q", r.FileBytes)
	}
}

func TestTelegram_NonOKStatus(t *testing.T) {
	// WHAT: a 400 from the Bot API becomes ErrSendFailed with status and body.
	// WHY: callers log the failure; the body carries Telegram's reason.
	srv, _ := fakeBotAPI(t, http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	tg := NewTelegram(TelegramConfig{BotToken: "tok", ChatID: "1", APIURL: srv.URL})

	err := tg.SendMessage(context.Background(), "hi")
	var sf *ErrSendFailed
	if !errors.As(err, &sf) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if sf.Status != http.StatusBadRequest {
		t.Errorf("status: got %d", sf.Status)
	}
	if !strings.Contains(sf.Body, "chat not found") {
		t.Errorf("body: got %q", sf.Body)
	}
	if tg.Status().Failed != 1 {
		t.Errorf("failed counter: got %d", tg.Status().Failed)
	}
}

func TestTelegram_OKFalseBody(t *testing.T) {
	srv, _ := fakeBotAPI(t, http.StatusOK, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked"}`)
	tg := NewTelegram(TelegramConfig{BotToken: "tok", ChatID: "1", APIURL: srv.URL})

	var sf *ErrSendFailed
	if err := tg.SendMessage(context.Background(), "hi"); !errors.As(err, &sf) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if !strings.Contains(sf.Body, "blocked") {
		t.Errorf("body: got %q", sf.Body)
	}
}

func TestTelegram_NotConfigured(t *testing.T) {
	// WHAT: missing credentials surface lazily on the first send.
	// WHY: configuration is not validated at startup.
	srv, requests := fakeBotAPI(t, http.StatusOK, `{"ok":true}`)
	tg := NewTelegram(TelegramConfig{APIURL: srv.URL})

	if err := tg.SendMessage(context.Background(), "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := tg.SendPhoto(context.Background(), "missing.png", "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if n := len(requests()); n != 0 {
		t.Fatalf("no request expected, got %d", n)
	}
}

func TestTelegram_MissingPhotoFile(t *testing.T) {
	srv, requests := fakeBotAPI(t, http.StatusOK, `{"ok":true}`)
	tg := NewTelegram(TelegramConfig{BotToken: "tok", ChatID: "1", APIURL: srv.URL})

	err := tg.SendPhoto(context.Background(), filepath.Join(t.TempDir(), "nope.png"), "x")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
	if n := len(requests()); n != 0 {
		t.Fatalf("no request expected, got %d", n)
	}
}

func TestTelegram_TransportErrorRedactsToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "secret-token", ChatID: "1", APIURL: base})
	err := tg.SendMessage(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("token leaked in error: %v", err)
	}
}

func TestTelegram_Sanitize(t *testing.T) {
	tg := NewTelegram(TelegramConfig{})
	tests := []struct {
		in, want string
	}{
		{"<b>bold</b>", "<b>bold</b>"},
		{`<a href="https://x.io">x</a>`, `<a href="https://x.io">x</a>`},
		{"<div>kept text</div>", "kept text"},
		{"a < b", "a &lt; b"},
		{"<script>alert(1)</script>ok", "ok"},
	}
	for _, tt := range tests {
		if got := tg.Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
