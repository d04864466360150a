// Package vision 在截图之上提供图像理解能力。
// 具体的模型调用由 Provider 实现，本包只负责模式选择与回退。
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
)

// Mode 决定使用哪个模型来分析图像
type Mode string

const (
	// ModeAuto 优先使用专用模型，不可用时回退到会话模型
	ModeAuto Mode = "auto"
	// ModeChat 始终使用当前会话使用的模型
	ModeChat Mode = "chat"
	// ModeDedicated 始终使用指定的专用模型
	ModeDedicated Mode = "dedicated"
)

// ParseMode 无法识别的取值回退到 auto
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeChat, ModeDedicated, ModeAuto:
		return Mode(s)
	default:
		return ModeAuto
	}
}

const (
	DefaultPrompt        = "Describe what is shown in this image in detail."
	DesktopScreenPrompt  = "This is a screenshot of a desktop. Describe the visible windows, applications and any notable content."
	ErrNoProviderMessage = "no vision provider available"
)

var ErrNoProvider = errors.New(ErrNoProviderMessage)

// Provider 调用一个具体的多模态模型
type Provider interface {
	ID() string
	Describe(ctx context.Context, imagePath, prompt string) (string, error)
}

// ProviderResolver 按模式解析出可用的 Provider
type ProviderResolver interface {
	// ChatProvider 返回当前会话正在使用的模型
	ChatProvider(ctx context.Context) (Provider, error)
	// Provider 按标识查找专用模型
	Provider(id string) (Provider, bool)
}

// Result 一次图像分析的结果
type Result struct {
	Description string    `json:"description"`
	ProviderID  string    `json:"provider_id"`
	Mode        Mode      `json:"mode"`
	ImagePath   string    `json:"image_path"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

type Analyzer struct {
	resolver    ProviderResolver
	mode        Mode
	dedicatedID string
}

func NewAnalyzer(resolver ProviderResolver, mode Mode, dedicatedID string) *Analyzer {
	if mode == ModeDedicated && dedicatedID == "" {
		logger.Warn("Dedicated vision mode configured without a model id, falling back to auto")
		mode = ModeAuto
	}
	return &Analyzer{resolver: resolver, mode: mode, dedicatedID: dedicatedID}
}

// AnalyzeImage 按配置的模式分析图像，prompt 为空时使用默认提示词
func (a *Analyzer) AnalyzeImage(ctx context.Context, imagePath, prompt string) (*Result, error) {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("image not readable: %w", err)
	}

	provider, err := a.resolve(ctx)
	if err != nil {
		return nil, err
	}

	description, err := provider.Describe(ctx, imagePath, prompt)
	if err != nil {
		return nil, fmt.Errorf("vision provider %s failed: %w", provider.ID(), err)
	}

	return &Result{
		Description: description,
		ProviderID:  provider.ID(),
		Mode:        a.mode,
		ImagePath:   imagePath,
		AnalyzedAt:  time.Now(),
	}, nil
}

// AnalyzeDesktopScreenshot 使用针对桌面截图的提示词
func (a *Analyzer) AnalyzeDesktopScreenshot(ctx context.Context, imagePath string) (*Result, error) {
	return a.AnalyzeImage(ctx, imagePath, DesktopScreenPrompt)
}

func (a *Analyzer) resolve(ctx context.Context) (Provider, error) {
	switch a.mode {
	case ModeChat:
		return a.resolver.ChatProvider(ctx)
	case ModeDedicated:
		if p, ok := a.resolver.Provider(a.dedicatedID); ok {
			return p, nil
		}
		return nil, fmt.Errorf("%w: dedicated model %s not found", ErrNoProvider, a.dedicatedID)
	default:
		if a.dedicatedID != "" {
			if p, ok := a.resolver.Provider(a.dedicatedID); ok {
				return p, nil
			}
			logger.DebugF("Dedicated model %s unavailable, falling back to chat model", a.dedicatedID)
		}
		return a.resolver.ChatProvider(ctx)
	}
}

// EncodeImageBase64 读取图像文件并编码，供需要内联图像的模型接口使用
func EncodeImageBase64(imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
