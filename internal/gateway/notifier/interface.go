package notifier

// TextNotifier 是发射器对外推送的最小接口：否决翻转、阻断冲突与
// 熔断事件到达这里时都已经渲染成最终文本。接口刻意保持单方法，
// 让使用方不必依赖具体实现（例如 Telegram）。
type TextNotifier interface {
	SendText(text string) error
}
