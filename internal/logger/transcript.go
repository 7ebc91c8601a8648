package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// Provider transcripts (prompt in, raw completion out) go to a dedicated writer so the
// main log stays readable. Nothing is written until SetTranscriptWriter is called.
var (
	transcriptMu  sync.Mutex
	transcriptLog *log.Logger
)

func SetTranscriptWriter(w io.Writer) {
	transcriptMu.Lock()
	defer transcriptMu.Unlock()
	if w == nil {
		transcriptLog = nil
		return
	}
	transcriptLog = log.New(w, "", log.LstdFlags)
}

type transcriptSection struct {
	Title string
	Body  string
}

func writeTranscript(kind, provider, purpose string, sections []transcriptSection) {
	transcriptMu.Lock()
	out := transcriptLog
	transcriptMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[PROVIDER]")
	for _, tag := range []string{kind, provider, purpose} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(title)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

func LogProviderRequest(provider, purpose, system, prompt string) {
	writeTranscript("request", provider, purpose, []transcriptSection{
		{Title: "SYSTEM", Body: system},
		{Title: "PROMPT", Body: prompt},
	})
}

func LogProviderResponse(provider, purpose, raw string) {
	writeTranscript("response", provider, purpose, []transcriptSection{{Title: "RAW", Body: raw}})
}
