package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

var (
	auditMu         sync.Mutex
	auditLog        *log.Logger
	auditDumpInputs bool
)

// SetAuditWriter 设置安全审计日志的输出目标；传 nil 关闭审计通道。
func SetAuditWriter(w io.Writer) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if w == nil {
		auditLog = nil
		return
	}
	auditLog = log.New(w, "", log.LstdFlags)
}

type auditSection struct {
	Title string
	Body  string
}

func logAudit(kind, authority, action string, sections []auditSection) {
	auditMu.Lock()
	logger := auditLog
	auditMu.Unlock()
	if logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[AUDIT]")
	if kind != "" {
		b.WriteString("[")
		b.WriteString(kind)
		b.WriteString("]")
	}
	if authority != "" {
		b.WriteString("[")
		b.WriteString(authority)
		b.WriteString("]")
	}
	if action != "" {
		b.WriteString("[")
		b.WriteString(action)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		body := sec.Body
		b.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	logger.Print(b.String())
}

// LogOverrideEngaged 记录安全否决进入生效状态的完整上下文。
func LogOverrideEngaged(authority, reason string, permitted []string, floor float64, inputs string) {
	sections := []auditSection{
		{Title: "REASON", Body: reason},
		{Title: "PERMITTED", Body: strings.Join(permitted, ", ")},
		{Title: "CONFIDENCE-FLOOR", Body: fmt.Sprintf("%.1f", floor)},
	}
	if auditDumpInputs && strings.TrimSpace(inputs) != "" {
		sections = append(sections, auditSection{Title: "INPUTS", Body: inputs})
	}
	logAudit("override-engaged", authority, "", sections)
}

// LogOverrideReleased 记录安全否决解除时的恢复依据。
func LogOverrideReleased(authority, reason string) {
	sections := []auditSection{{Title: "REASON", Body: reason}}
	logAudit("override-released", authority, "", sections)
}

// LogBlockingConflict 记录升级为阻断级的信号冲突。
func LogBlockingConflict(kind, detail string, sources []string) {
	sections := []auditSection{
		{Title: "SOURCES", Body: strings.Join(sources, ", ")},
		{Title: "DETAIL", Body: detail},
	}
	logAudit("blocking-conflict", "", kind, sections)
}

// EnableAuditInputDump 控制是否在审计记录里附带触发时的原始输入快照。
func EnableAuditInputDump(enabled bool) {
	auditMu.Lock()
	auditDumpInputs = enabled
	auditMu.Unlock()
}
