package output

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jakopako/livemon/internal/session"
	"github.com/jakopako/livemon/internal/snapshot"
	"github.com/jakopako/livemon/internal/types"
	"github.com/jakopako/livemon/internal/utils"
	"github.com/olekukonko/tablewriter"
)

const (
	clockFormat = "15:04:05"
	dateFormat  = "2006-01-02 15:04:05"
	banner      = "============================================================"
)

var interactionIcons = map[types.InteractionType]string{
	types.InteractionTypeChat:   "💬",
	types.InteractionTypeGift:   "🎁",
	types.InteractionTypeLike:   "❤️",
	types.InteractionTypeFollow: "➕",
	types.InteractionTypeShare:  "🔗",
	types.InteractionTypeJoin:   "👋",
	types.InteractionTypeOther:  "📌",
}

// TextWriter writes human readable console output.
type TextWriter struct {
	w      io.Writer
	logger *slog.Logger
}

func NewTextWriter(w io.Writer, logger *slog.Logger) *TextWriter {
	return &TextWriter{
		w:      w,
		logger: logger.With(slog.String("writer", string(TEXT_WRITER_TYPE))),
	}
}

func (t *TextWriter) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(t.w, format, args...); err != nil {
		t.logger.Error(fmt.Sprintf("error while writing output: %v", err))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (t *TextWriter) WriteSnapshot(s *snapshot.Snapshot) {
	lines := [][2]string{
		{"url", s.URL},
		{"title", utils.ShortenString(s.Title, 80)},
		{"video", fmt.Sprintf("%s (%d)", yesNo(s.HasVideo), s.VideoCount)},
	}
	if s.ViewerCount != nil {
		lines = append(lines, [2]string{"viewers", strconv.Itoa(*s.ViewerCount)})
	}
	lines = append(lines,
		[2]string{"page", fmt.Sprintf("%d elements, %.1f KB", s.ElementCount, float64(s.HTMLSize)/1024)},
		[2]string{"flags", fmt.Sprintf("error_message=%s page_error=%s captcha=%s ended=%s",
			yesNo(s.HasErrorMessage), yesNo(s.HasPageError), yesNo(s.HasCaptcha), yesNo(s.IsLiveEnded))},
	)
	if info := s.RoomInfo(); !info.IsZero() {
		room := info.RoomID
		if info.OwnerNickname != "" {
			room = fmt.Sprintf("%s (%s)", room, info.OwnerNickname)
		}
		lines = append(lines, [2]string{"room", room})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] snapshot: %s\n", s.Timestamp.Local().Format(clockFormat), s.Classify())
	for i, l := range lines {
		branch := "├─"
		if i == len(lines)-1 {
			branch = "└─"
		}
		fmt.Fprintf(&b, "  %s %s: %s\n", branch, l[0], l[1])
	}
	t.printf("%s", b.String())
}

func (t *TextWriter) WriteInteraction(i types.Interaction) {
	icon, ok := interactionIcons[i.Type]
	if !ok {
		icon = interactionIcons[types.InteractionTypeOther]
	}
	who := i.Username
	if who == "" {
		who = "?"
	}
	t.printf("[%s] %s %s: %s\n", i.Timestamp.Local().Format(clockFormat), icon, who, utils.ShortenString(i.Content, 200))
}

func (t *TextWriter) WriteSession(s *session.Session) {
	st := s.Stats()
	end := "-"
	if st.EndTime != nil {
		end = st.EndTime.Local().Format(dateFormat)
	}

	t.printf("%s\nsession summary\n%s\n", banner, banner)
	table := tablewriter.NewWriter(t.w)
	table.Header("Field", "Value")
	rows := [][]string{
		{"session", st.ID},
		{"username", st.Username},
		{"live url", st.LiveURL},
		{"start", st.StartTime.Local().Format(dateFormat)},
		{"end", end},
		{"duration", st.Duration(time.Now()).Round(time.Second).String()},
		{"snapshots", strconv.Itoa(st.TotalSnapshots)},
		{"healthy", strconv.Itoa(st.HealthySnapshots)},
		{"errors", strconv.Itoa(st.ErrorSnapshots)},
		{"health rate", fmt.Sprintf("%.1f%%", st.HealthRate())},
	}
	if last := s.Last(); last != nil {
		rows = append(rows, []string{"last state", last.Classify().String()})
	}
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			t.logger.Error(fmt.Sprintf("error while writing session table: %v", err))
			return
		}
	}
	if err := table.Render(); err != nil {
		t.logger.Error(fmt.Sprintf("error while writing session table: %v", err))
	}
}

func (t *TextWriter) WriteError(err error) {
	t.printf("%s\ncollection failed: %v\n%s\n", banner, err, banner)
}
