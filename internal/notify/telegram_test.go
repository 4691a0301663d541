package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/go-telegram/bot"

	"github.com/p-n-ai/pai-study/internal/notify"
)

func TestNewTelegramPush_RequiresToken(t *testing.T) {
	if _, err := notify.NewTelegramPush("", 1); err == nil {
		t.Error("NewTelegramPush() should fail without token")
	}
}

func TestTelegramPush_Send(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("path = %s, want sendMessage", r.URL.Path)
		}
		if got := r.FormValue("chat_id"); got != "42" {
			t.Errorf("chat_id = %q, want 42", got)
		}
		mu.Lock()
		texts = append(texts, r.FormValue("text"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer server.Close()

	push, err := notify.NewTelegramPush("123:abc", 42, bot.WithServerURL(server.URL), bot.WithSkipGetMe())
	if err != nil {
		t.Fatalf("NewTelegramPush() error = %v", err)
	}

	err = push.Send(context.Background(), notify.Message{Subject: "New Badge Earned: Streak Star", Text: "🔥 You earned the Streak Star badge!"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 {
		t.Fatalf("sent %d messages, want 1", len(texts))
	}
	if !strings.HasPrefix(texts[0], "New Badge Earned: Streak Star\n\n") {
		t.Errorf("text = %q", texts[0])
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   int
	}{
		{"empty", "", 10, 0},
		{"fits", "hello", 10, 1},
		{"split on space", "hello world again", 12, 2},
		{"split on newline", "line one\nline two", 10, 2},
		{"hard cut", strings.Repeat("a", 25), 10, 3},
		{"hard cut keeps emoji whole", strings.Repeat("🏅", 5), 10, 3},
		{"hard cut after ascii prefix", "ab" + strings.Repeat("🔥", 3), 5, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := notify.SplitMessage(tt.text, tt.maxLen)
			if len(parts) != tt.want {
				t.Fatalf("len = %d, want %d (%q)", len(parts), tt.want, parts)
			}
			if strings.Join(parts, "") != tt.text {
				t.Error("parts do not reassemble to the input")
			}
			for _, p := range parts {
				if len(p) > tt.maxLen {
					t.Errorf("part %q longer than %d", p, tt.maxLen)
				}
				if !utf8.ValidString(p) {
					t.Errorf("part %q is not valid UTF-8", p)
				}
			}
		})
	}
}

func TestSplitMessage_RuneWiderThanLimit(t *testing.T) {
	parts := notify.SplitMessage("🎓🎓", 2)
	if len(parts) != 2 || parts[0] != "🎓" || parts[1] != "🎓" {
		t.Errorf("SplitMessage() = %q, want one rune per part", parts)
	}
}
