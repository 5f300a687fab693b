// Package whatsapp parses WhatsApp chat export text into structured
// messages. Exports vary by platform and locale, so the parser accepts
// several known header grammars and treats unrecognized lines as
// continuations of the previous message.
package whatsapp

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParsedMessage is one chat message recovered from an export file.
// Content keeps original line breaks for multi-line messages.
type ParsedMessage struct {
	Timestamp   time.Time
	SenderName  string
	Content     string
	MessageType string
}

// Result carries the parsed messages plus non-fatal warnings about
// lines that could not be interpreted. A file where nothing parses is
// still a successful (empty) parse.
type Result struct {
	Messages []ParsedMessage
	Warnings []string
}

type headerFormat struct {
	re    *regexp.Regexp
	parse func(m []string) (time.Time, string, bool)
}

// Header grammars, tried in order. The dotted form is day-first, the
// 12-hour slash forms are month-first, and the 24-hour slash form is
// day-first. Order matters: the AM/PM forms must be tried before the
// plain 24-hour form so the meridiem is not swallowed as sender text.
var headerFormats = []headerFormat{
	{
		// [12/25/22, 3:30:45 PM] Alice: hi
		re: regexp.MustCompile(`^\[(\d{1,2})/(\d{1,2})/(\d{2,4}), (\d{1,2}):(\d{2}):(\d{2})\s?([AP]M)\]\s(.*)$`),
		parse: func(m []string) (time.Time, string, bool) {
			ts, ok := buildTime(m[3], m[1], m[2], m[4], m[5], m[6], m[7])
			return ts, m[8], ok
		},
	},
	{
		// 12/25/22, 3:30 PM - Alice: hi
		re: regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2,4}), (\d{1,2}):(\d{2})\s?([AP]M) - (.*)$`),
		parse: func(m []string) (time.Time, string, bool) {
			ts, ok := buildTime(m[3], m[1], m[2], m[4], m[5], "0", m[6])
			return ts, m[7], ok
		},
	},
	{
		// 6.4.2025, 11:18 - Alice: hi
		re: regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4}), (\d{1,2}):(\d{2}) - (.*)$`),
		parse: func(m []string) (time.Time, string, bool) {
			ts, ok := buildTime(m[3], m[2], m[1], m[4], m[5], "0", "")
			return ts, m[6], ok
		},
	},
	{
		// 25/12/2022, 15:30 - Alice: hi
		re: regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2,4}), (\d{1,2}):(\d{2}) - (.*)$`),
		parse: func(m []string) (time.Time, string, bool) {
			ts, ok := buildTime(m[3], m[2], m[1], m[4], m[5], "0", "")
			return ts, m[6], ok
		},
	},
}

// Group and service notices emitted by WhatsApp itself. These carry no
// user content and are dropped without a warning.
var systemPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)messages and calls are end-to-end encrypted`),
	regexp.MustCompile(`(?i)created group`),
	regexp.MustCompile(`(?i)created this group`),
	regexp.MustCompile(`(?i)added you`),
	regexp.MustCompile(`(?i)changed the subject`),
	regexp.MustCompile(`(?i)changed this group's icon`),
	regexp.MustCompile(`(?i)joined using this group's invite link`),
	regexp.MustCompile(`(?i)changed their phone number`),
	regexp.MustCompile(`(?i)security code changed`),
	regexp.MustCompile(`(?i)you're now an admin`),
	regexp.MustCompile(`(?i)turned on disappearing messages`),
	regexp.MustCompile(`(?i)turned off disappearing messages`),
}

var mediaPatterns = map[string]*regexp.Regexp{
	"media":    regexp.MustCompile(`(?i)^<media omitted>$`),
	"image":    regexp.MustCompile(`(?i)^image omitted$`),
	"video":    regexp.MustCompile(`(?i)^video omitted$`),
	"audio":    regexp.MustCompile(`(?i)^audio omitted$`),
	"document": regexp.MustCompile(`(?i)^document omitted$`),
	"sticker":  regexp.MustCompile(`(?i)^sticker omitted$`),
	"gif":      regexp.MustCompile(`(?i)^GIF omitted$`),
}

// Parser reads chat export text into ParsedMessages.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser. Logger may be nil.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger.With("component", "whatsapp_parser")}
}

// Parse reads an export line by line. Lines matching a header grammar
// start a new message; other lines extend the previous message. Lines
// before any header and headers with unparseable timestamps are
// reported as warnings but never abort the parse.
func (p *Parser) Parse(r io.Reader) (*Result, error) {
	res := &Result{}
	var current *ParsedMessage

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(stripBOM(scanner.Text(), lineNo), "\r")
		if strings.TrimSpace(line) == "" {
			if current != nil {
				current.Content += "\n"
			}
			continue
		}

		ts, rest, matched, ok := matchHeader(line)
		if !matched {
			if current == nil {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("line %d: unrecognized line before first message header", lineNo))
				continue
			}
			current.Content += "\n" + line
			continue
		}
		if !ok {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("line %d: header matched but timestamp is invalid", lineNo))
			flush(res, current)
			current = nil
			continue
		}

		flush(res, current)
		current = nil

		sender, content, found := strings.Cut(rest, ": ")
		if !found {
			// Headers without a sender are service notices.
			continue
		}
		if isSystemMessage(content) {
			continue
		}

		msg := ParsedMessage{
			Timestamp:   ts,
			SenderName:  strings.TrimSpace(sender),
			Content:     content,
			MessageType: "text",
		}
		if mt, isMedia := mediaType(content); isMedia {
			msg.MessageType = mt
			msg.Content = ""
		}
		current = &msg
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	flush(res, current)

	p.logger.Debug("Export parsed",
		"messages", len(res.Messages), "warnings", len(res.Warnings), "lines", lineNo)
	return res, nil
}

func flush(res *Result, msg *ParsedMessage) {
	if msg == nil {
		return
	}
	msg.Content = strings.TrimRight(msg.Content, "\n")
	res.Messages = append(res.Messages, *msg)
}

func matchHeader(line string) (ts time.Time, rest string, matched, ok bool) {
	for _, hf := range headerFormats {
		m := hf.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ts, rest, ok = hf.parse(m)
		return ts, rest, true, ok
	}
	return time.Time{}, "", false, false
}

func buildTime(year, month, day, hour, minute, second, meridiem string) (time.Time, bool) {
	y := atoi(year)
	if y < 100 {
		y += 2000
	}
	mo := atoi(month)
	d := atoi(day)
	h := atoi(hour)
	mi := atoi(minute)
	sec := atoi(second)

	switch meridiem {
	case "PM":
		if h < 12 {
			h += 12
		}
	case "AM":
		if h == 12 {
			h = 0
		}
	}

	if mo < 1 || mo > 12 || d < 1 || d > 31 || h > 23 || mi > 59 || sec > 59 {
		return time.Time{}, false
	}

	ts := time.Date(y, time.Month(mo), d, h, mi, sec, 0, time.UTC)
	// time.Date normalizes overflow (Feb 30 becomes Mar 2), which would
	// silently accept a misparsed date.
	if ts.Day() != d || ts.Month() != time.Month(mo) {
		return time.Time{}, false
	}
	return ts, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func isSystemMessage(content string) bool {
	for _, re := range systemPatterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

func mediaType(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	for mt, re := range mediaPatterns {
		if re.MatchString(trimmed) {
			return mt, true
		}
	}
	return "", false
}

func stripBOM(line string, lineNo int) string {
	if lineNo == 1 {
		return strings.TrimPrefix(line, "\uFEFF")
	}
	return line
}
