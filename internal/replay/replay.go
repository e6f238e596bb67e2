// Package replay 提供 YAML 场景回放：按步骤向快照缓存发布上游读数，
// 同步驱动融合周期，并把产出的决策帧与期望逐项比对。用于离线验证
// 调参效果与安全否决行为，不依赖任何真实上游。
package replay

import (
	"fmt"
	"os"
	"strings"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/config/loader"
	"arbiter/internal/emitter"
	"arbiter/internal/logger"
	"arbiter/internal/upstream"

	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Scenario 是一份回放剧本。
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step 是一个回放步骤：先发布各来源负载，再跑一个融合周期。
// wait_ms 让上一步的快照真实老化，用于过期降级场景。
type Step struct {
	Name    string                    `yaml:"name"`
	WaitMS  int                       `yaml:"wait_ms"`
	Publish map[string]map[string]any `yaml:"publish"`
	Expect  Expect                    `yaml:"expect"`
}

// Expect 描述对本步骤决策帧的断言；零值字段不参与比对。
type Expect struct {
	Action         string   `yaml:"action"`
	OverrideActive *bool    `yaml:"override_active"`
	Authority      string   `yaml:"authority"`
	Zone           string   `yaml:"zone"`
	MinConfidence  *float64 `yaml:"min_confidence"`
	MaxConfidence  *float64 `yaml:"max_confidence"`
}

// StepResult 是单步比对结果。
type StepResult struct {
	Name       string
	Frame      emitter.DecisionFrame
	Mismatches []string
}

func (r StepResult) Passed() bool { return len(r.Mismatches) == 0 }

// Summary 汇总一次回放。
type Summary struct {
	Scenario string
	Results  []StepResult
	Failed   int
}

// Load 从文件解析剧本。
func Load(path string) (Scenario, error) {
	var sc Scenario
	raw, err := os.ReadFile(path)
	if err != nil {
		return sc, fmt.Errorf("read scenario failed: %w", err)
	}
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return sc, fmt.Errorf("parse scenario failed: %w", err)
	}
	if len(sc.Steps) == 0 {
		return sc, fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	return sc, nil
}

// Run 执行剧本：每步发布负载、同步跑一个周期、比对期望。
func Run(sc Scenario, cfg config.Config) (Summary, error) {
	tuning, err := loader.NewTuningLoader("", loader.BaseFrom(cfg))
	if err != nil {
		return Summary{}, err
	}
	caches := upstream.NewCacheSet()
	em := emitter.New(cfg, caches.Producers(), tuning)

	summary := Summary{Scenario: sc.Name}
	for i, step := range sc.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		if step.WaitMS > 0 {
			wait := time.Duration(step.WaitMS) * time.Millisecond
			if wait > 5*time.Second {
				wait = 5 * time.Second
			}
			time.Sleep(wait)
		}
		now := time.Now()
		for source, payload := range step.Publish {
			envelope, err := encodeEnvelope(source, now, payload)
			if err != nil {
				return summary, fmt.Errorf("step %q: %w", name, err)
			}
			if err := caches.Publish(envelope); err != nil {
				return summary, fmt.Errorf("step %q publish %s: %w", name, source, err)
			}
		}
		frame := em.Tick(now)
		result := StepResult{
			Name:       name,
			Frame:      frame,
			Mismatches: check(step.Expect, frame),
		}
		if !result.Passed() {
			summary.Failed++
		}
		summary.Results = append(summary.Results, result)
	}
	return summary, nil
}

func encodeEnvelope(source string, now time.Time, payload map[string]any) ([]byte, error) {
	raw, err := json.Marshal(map[string]any{
		"source":  source,
		"ts":      now.UnixMilli(),
		"payload": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s payload failed: %w", source, err)
	}
	return raw, nil
}

func check(exp Expect, frame emitter.DecisionFrame) []string {
	var bad []string
	if exp.Action != "" && string(frame.Action) != exp.Action {
		bad = append(bad, fmt.Sprintf("action: want %s, got %s", exp.Action, frame.Action))
	}
	if exp.OverrideActive != nil && frame.OverrideActive != *exp.OverrideActive {
		bad = append(bad, fmt.Sprintf("override_active: want %v, got %v", *exp.OverrideActive, frame.OverrideActive))
	}
	if exp.Authority != "" && frame.Authority != exp.Authority {
		bad = append(bad, fmt.Sprintf("authority: want %s, got %q", exp.Authority, frame.Authority))
	}
	if exp.Zone != "" && string(frame.RiskZone) != exp.Zone {
		bad = append(bad, fmt.Sprintf("zone: want %s, got %s", exp.Zone, frame.RiskZone))
	}
	if exp.MinConfidence != nil && frame.Confidence < *exp.MinConfidence {
		bad = append(bad, fmt.Sprintf("confidence: want >= %.1f, got %.1f", *exp.MinConfidence, frame.Confidence))
	}
	if exp.MaxConfidence != nil && frame.Confidence > *exp.MaxConfidence {
		bad = append(bad, fmt.Sprintf("confidence: want <= %.1f, got %.1f", *exp.MaxConfidence, frame.Confidence))
	}
	return bad
}

// Render 把汇总打印成对齐的结果表。
func Render(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", summary.Scenario)
	for _, r := range summary.Results {
		status := "PASS"
		if !r.Passed() {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "  [%s] %-28s seq=%-4d action=%-4s zone=%-9s conf=%5.1f override=%v\n",
			status, r.Name, r.Frame.Seq, r.Frame.Action, r.Frame.RiskZone, r.Frame.Confidence, r.Frame.OverrideActive)
		for _, m := range r.Mismatches {
			fmt.Fprintf(&b, "         - %s\n", m)
		}
	}
	fmt.Fprintf(&b, "  %d/%d steps passed\n", len(summary.Results)-summary.Failed, len(summary.Results))
	return b.String()
}

// RunFile 是 CLI 入口：加载剧本、执行并打印结果。失败步骤数非零
// 时返回错误，进程以非零码退出。
func RunFile(path string, cfg config.Config) error {
	sc, err := Load(path)
	if err != nil {
		return err
	}
	summary, err := Run(sc, cfg)
	if err != nil {
		return err
	}
	fmt.Print(Render(summary))
	if summary.Failed > 0 {
		logger.Errorf("replay %s: %d step(s) failed", summary.Scenario, summary.Failed)
		return fmt.Errorf("replay failed: %d step(s) did not match", summary.Failed)
	}
	return nil
}
