package app

import (
	"fmt"
	"strings"
)

type StartupSummary struct {
	Emitter       EmitterSummary
	Sources       []string
	HTTPAddr      string
	FrameLogPath  string
	LedgerPath    string
	TuningPath    string
	TuningVersion int64
	Notify        bool
}

type EmitterSummary struct {
	CadenceMS    int
	StaleAfterMS int
	HistorySize  int
	StartSeq     uint64
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[融合周期 (FUSION CYCLE)]")
	fmt.Printf("  输出节奏: %dms\n", s.Emitter.CadenceMS)
	fmt.Printf("  快照过期: %dms\n", s.Emitter.StaleAfterMS)
	fmt.Printf("  帧历史容量: %d\n", s.Emitter.HistorySize)
	if s.Emitter.StartSeq > 0 {
		fmt.Printf("  起始序号: %d（续写）\n", s.Emitter.StartSeq)
	}
	fmt.Println()

	fmt.Println("[上游来源 (UPSTREAM SOURCES)]")
	fmt.Printf("  已接入: %s\n", formatList(s.Sources))
	fmt.Println()

	fmt.Println("[持久化与调优 (STORAGE & TUNING)]")
	fmt.Printf("  帧日志: %s\n", orDash(s.FrameLogPath))
	fmt.Printf("  台账: %s\n", orDash(s.LedgerPath))
	fmt.Printf("  调优文件: %s (v%d)\n", orDash(s.TuningPath), s.TuningVersion)
	fmt.Println()

	fmt.Println("[对外接口 (INTERFACES)]")
	fmt.Printf("  HTTP: %s\n", orDash(s.HTTPAddr))
	if s.Notify {
		fmt.Println("  Telegram 通知: 已启用")
	} else {
		fmt.Println("  Telegram 通知: 关闭")
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
