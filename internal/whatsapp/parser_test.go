package whatsapp

import (
	"strings"
	"testing"
	"time"
)

func TestParseMultiLineMessage(t *testing.T) {
	t.Parallel()

	input := "1/1/24, 10:00 AM - Alice: Hello\nWorld"

	res, err := NewParser(nil).Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Parse() warnings = %v, want none", res.Warnings)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("Parse() messages = %d, want 1", len(res.Messages))
	}

	msg := res.Messages[0]
	if msg.SenderName != "Alice" {
		t.Errorf("SenderName = %q, want Alice", msg.SenderName)
	}
	if msg.Content != "Hello\nWorld" {
		t.Errorf("Content = %q, want %q", msg.Content, "Hello\nWorld")
	}
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !msg.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", msg.Timestamp, want)
	}
	if msg.MessageType != "text" {
		t.Errorf("MessageType = %q, want text", msg.MessageType)
	}
}

func TestParseMalformedFirstLine(t *testing.T) {
	t.Parallel()

	input := "this is not a header\n1/1/24, 10:00 AM - Alice: Hi"

	res, err := NewParser(nil).Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("Parse() messages = %d, want 1", len(res.Messages))
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Parse() warnings = %v, want exactly 1", res.Warnings)
	}
}

func TestParseEmptyInput(t *testing.T) {
	t.Parallel()

	res, err := NewParser(nil).Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Messages) != 0 || len(res.Warnings) != 0 {
		t.Errorf("Parse(empty) = %d messages, %d warnings, want 0 and 0",
			len(res.Messages), len(res.Warnings))
	}
}

func TestParseHeaderFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		line   string
		want   time.Time
		sender string
	}{
		{
			name:   "us 12-hour",
			line:   "12/25/22, 3:30 PM - Bob: merry christmas",
			want:   time.Date(2022, 12, 25, 15, 30, 0, 0, time.UTC),
			sender: "Bob",
		},
		{
			name:   "bracketed with seconds",
			line:   "[12/25/22, 3:30:45 PM] Bob: merry christmas",
			want:   time.Date(2022, 12, 25, 15, 30, 45, 0, time.UTC),
			sender: "Bob",
		},
		{
			name:   "dotted day-first",
			line:   "6.4.2025, 11:18 - Dana: boker tov",
			want:   time.Date(2025, 4, 6, 11, 18, 0, 0, time.UTC),
			sender: "Dana",
		},
		{
			name:   "european 24-hour day-first",
			line:   "25/12/2022, 15:30 - Bob: merry christmas",
			want:   time.Date(2022, 12, 25, 15, 30, 0, 0, time.UTC),
			sender: "Bob",
		},
		{
			name:   "12 AM is midnight",
			line:   "1/2/24, 12:05 AM - Bob: late one",
			want:   time.Date(2024, 1, 2, 0, 5, 0, 0, time.UTC),
			sender: "Bob",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res, err := NewParser(nil).Parse(strings.NewReader(tc.line))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(res.Messages) != 1 {
				t.Fatalf("Parse() messages = %d, want 1", len(res.Messages))
			}
			msg := res.Messages[0]
			if !msg.Timestamp.Equal(tc.want) {
				t.Errorf("Timestamp = %v, want %v", msg.Timestamp, tc.want)
			}
			if msg.SenderName != tc.sender {
				t.Errorf("SenderName = %q, want %q", msg.SenderName, tc.sender)
			}
		})
	}
}

func TestParseMediaPlaceholders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		wantType string
	}{
		{name: "generic media", content: "<Media omitted>", wantType: "media"},
		{name: "image", content: "image omitted", wantType: "image"},
		{name: "video", content: "video omitted", wantType: "video"},
		{name: "audio", content: "audio omitted", wantType: "audio"},
		{name: "document", content: "document omitted", wantType: "document"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			input := "1/1/24, 10:00 AM - Alice: " + tc.content
			res, err := NewParser(nil).Parse(strings.NewReader(input))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(res.Messages) != 1 {
				t.Fatalf("Parse() messages = %d, want 1", len(res.Messages))
			}
			msg := res.Messages[0]
			if msg.MessageType != tc.wantType {
				t.Errorf("MessageType = %q, want %q", msg.MessageType, tc.wantType)
			}
			if msg.Content != "" {
				t.Errorf("Content = %q, want empty for media placeholder", msg.Content)
			}
		})
	}
}

func TestParseSkipsSystemMessages(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"1/1/24, 9:00 AM - Messages and calls are end-to-end encrypted. No one outside of this chat can read them.",
		"1/1/24, 9:01 AM - Alice created group \"Family\"",
		"1/1/24, 9:02 AM - Alice: actual message",
		"1/1/24, 9:03 AM - Bob changed the subject from \"Family\" to \"Fam\"",
	}, "\n")

	res, err := NewParser(nil).Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Parse() warnings = %v, want none for system messages", res.Warnings)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("Parse() messages = %d, want 1", len(res.Messages))
	}
	if res.Messages[0].Content != "actual message" {
		t.Errorf("Content = %q, want %q", res.Messages[0].Content, "actual message")
	}
}

func TestParseInvalidDate(t *testing.T) {
	t.Parallel()

	// Day 30 in a dotted day-first header with month 2 does not exist.
	input := "30.2.2024, 10:00 - Alice: hi\n1/1/24, 10:00 AM - Alice: ok"

	res, err := NewParser(nil).Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("Parse() messages = %d, want 1", len(res.Messages))
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Parse() warnings = %v, want 1 for invalid date", res.Warnings)
	}
}

func TestParseInvalidDateKeepsPriorMessage(t *testing.T) {
	t.Parallel()

	input := "1/1/24, 10:00 AM - Alice: hi\n30.2.2024, 10:00 - Bob: bad"

	res, err := NewParser(nil).Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("Parse() messages = %d, want 1 (the valid message must survive)", len(res.Messages))
	}
	if res.Messages[0].SenderName != "Alice" || res.Messages[0].Content != "hi" {
		t.Errorf("Messages[0] = %+v, want Alice's message", res.Messages[0])
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Parse() warnings = %v, want 1 for the bad header", res.Warnings)
	}
}

func TestParseStripsLeadingBOM(t *testing.T) {
	t.Parallel()

	input := "\uFEFF1/1/24, 10:00 AM - Alice: hi"

	res, err := NewParser(nil).Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("Parse() messages = %d, want 1", len(res.Messages))
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Parse() warnings = %v, want none", res.Warnings)
	}
}

func TestParseContinuationAfterBlankLine(t *testing.T) {
	t.Parallel()

	input := "1/1/24, 10:00 AM - Alice: first paragraph\n\nsecond paragraph"

	res, err := NewParser(nil).Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("Parse() messages = %d, want 1", len(res.Messages))
	}
	want := "first paragraph\n\nsecond paragraph"
	if res.Messages[0].Content != want {
		t.Errorf("Content = %q, want %q", res.Messages[0].Content, want)
	}
}
