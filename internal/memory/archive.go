package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Archiver durably stores consolidated history blocks.
type Archiver interface {
	Append(ctx context.Context, text string) error
}

// Record is one archived block as returned by a search.
type Record struct {
	ID        string
	Session   string
	CreatedAt time.Time
	Content   string
}

type sessionKey struct{}

// WithSession tags ctx with the session a block belongs to. Archivers
// that keep per-session rows read it back with SessionFromContext.
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext returns the session set by WithSession, or "".
func SessionFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey{}).(string)
	return s
}

// FormatEntries renders entries as archive lines of the form
// "[2006-01-02 15:04] ROLE: content". Tools used by an assistant entry
// are noted at the end of its content. Entries with no content are
// skipped.
func FormatEntries(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		if e.Content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		content := e.Content
		if len(e.ToolsUsed) > 0 {
			content += " [tools: " + strings.Join(e.ToolsUsed, ", ") + "]"
		}
		fmt.Fprintf(&b, "[%s] %s: %s", e.Timestamp.Format("2006-01-02 15:04"), strings.ToUpper(e.Role), content)
	}
	return b.String()
}

// TeeError reports a fan-out append where some archivers failed.
// Written counts the archivers that stored the block.
type TeeError struct {
	Written int
	Failed  int
	Err     error
}

func (e *TeeError) Error() string {
	return fmt.Sprintf("archive: %d of %d archivers failed: %v", e.Failed, e.Written+e.Failed, e.Err)
}

func (e *TeeError) Unwrap() error { return e.Err }

// Partial reports whether at least one archiver stored the block.
func (e *TeeError) Partial() bool { return e.Written > 0 }

type tee []Archiver

// Tee returns an Archiver that appends to every archiver in order.
// All are attempted. Any failure is returned as a *TeeError.
func Tee(archivers ...Archiver) Archiver {
	var t tee
	for _, a := range archivers {
		if a != nil {
			t = append(t, a)
		}
	}
	return t
}

func (t tee) Append(ctx context.Context, text string) error {
	var errs []error
	written := 0
	for _, a := range t {
		if err := a.Append(ctx, text); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}
	if len(errs) == 0 {
		return nil
	}
	return &TeeError{Written: written, Failed: len(errs), Err: errors.Join(errs...)}
}
